// Package roomcode allocates short numeric room codes.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
)

// DefaultLength is the number of digits in a room code.
const DefaultLength = 4

// Generator draws fixed-length numeric codes uniformly at random.
// It keeps no memory of issued codes; uniqueness is checked against
// the caller's live set on every draw.
type Generator struct {
	length int
	space  int
	intn   func(n int) int
}

type Option func(*Generator)

// WithLength overrides the code length.
func WithLength(n int) Option {
	return func(g *Generator) {
		if n > 0 && n < 10 {
			g.length = n
		}
	}
}

// WithSource replaces the random source. intn must return a value in [0, n).
func WithSource(intn func(n int) int) Option {
	return func(g *Generator) {
		if intn != nil {
			g.intn = intn
		}
	}
}

func New(opts ...Option) *Generator {
	g := &Generator{length: DefaultLength, intn: cryptoIntn}
	for _, opt := range opts {
		opt(g)
	}
	g.space = pow10(g.length)
	return g
}

// Generate returns a code for which taken reports false.
// It retries until it finds one; with a nearly full keyspace this degrades.
func (g *Generator) Generate(taken func(code string) bool) string {
	for {
		code := g.format(g.intn(g.space))
		if taken == nil || !taken(code) {
			return code
		}
	}
}

// Valid reports whether s has the shape of a code from this generator.
func (g *Generator) Valid(s string) bool {
	if len(s) != g.length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (g *Generator) format(n int) string {
	return fmt.Sprintf("%0*d", g.length, n)
}

func cryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return mrand.IntN(n)
	}
	return int(v.Int64())
}

func pow10(n int) int {
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
