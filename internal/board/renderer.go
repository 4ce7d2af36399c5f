// Package board renders a position string as a PNG board preview.
package board

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-relay/internal/room"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var ErrInvalidFEN = errors.New("invalid FEN")

const (
	defaultSquareSize = 48
	minSquareSize     = 16
	maxSquareSize     = 128
	margin            = 24
)

// Renderer draws boards at a fixed square size.
type Renderer struct {
	squareSize int
	tokens     *tokenCache
}

type Option func(*Renderer)

// WithSquareSize sets the side of one square in pixels, clamped to [16, 128].
func WithSquareSize(px int) Option {
	return func(r *Renderer) {
		switch {
		case px < minSquareSize:
			r.squareSize = minSquareSize
		case px > maxSquareSize:
			r.squareSize = maxSquareSize
		default:
			r.squareSize = px
		}
	}
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{squareSize: defaultSquareSize, tokens: newTokenCache()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Size returns the width and height of every rendered image.
func (r *Renderer) Size() (int, int) {
	side := r.squareSize*8 + margin*2
	return side, side
}

// RenderFEN draws fen from the given side's point of view. An invalid
// perspective falls back to white.
func (r *Renderer) RenderFEN(ctx context.Context, fen string, perspective room.Color) ([]byte, error) {
	board, err := parseBoard(fen)
	if err != nil {
		return nil, err
	}
	if !perspective.Valid() {
		perspective = room.White
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	w, h := r.Size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	origin := image.Point{X: margin, Y: margin}
	ranks, files := orientation(perspective)
	drawSquares(img, ranks, files, r.squareSize, origin)
	if err := r.drawPieces(img, board, ranks, files, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, ranks, files, r.squareSize, origin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func parseBoard(fen string) (*nchess.Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFEN)
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	game := nchess.NewGame(opt)
	return game.Position().Board(), nil
}

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	frameColor      = color.RGBA{28, 31, 46, 255}
	coordinateColor = color.RGBA{204, 210, 236, 255}
	whiteGlyph      = color.RGBA{32, 32, 32, 255}
	blackGlyph      = color.RGBA{240, 240, 232, 255}
)

var (
	ranksWhite = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	filesWhite = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

// orientation lists ranks top to bottom and files left to right.
func orientation(p room.Color) ([]nchess.Rank, []nchess.File) {
	if p != room.Black {
		return ranksWhite, filesWhite
	}
	ranks := make([]nchess.Rank, 8)
	files := make([]nchess.File, 8)
	for i := 0; i < 8; i++ {
		ranks[i] = ranksWhite[7-i]
		files[i] = filesWhite[7-i]
	}
	return ranks, files
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func drawSquares(dst imagedraw.Image, ranks []nchess.Rank, files []nchess.File, size int, origin image.Point) {
	for row, rank := range ranks {
		for col, file := range files {
			x := origin.X + col*size
			y := origin.Y + row*size
			clr := squareColor(nchess.NewSquare(file, rank))
			imagedraw.Draw(dst, image.Rect(x, y, x+size, y+size), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func (r *Renderer) drawPieces(dst imagedraw.Image, board *nchess.Board, ranks []nchess.Rank, files []nchess.File, origin image.Point) error {
	squares := board.SquareMap()
	size := r.squareSize
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()

	for row, rank := range ranks {
		for col, file := range files {
			piece := squares[nchess.NewSquare(file, rank)]
			if piece == nchess.NoPiece {
				continue
			}
			token, err := r.tokens.get(piece.Color() == nchess.White, size)
			if err != nil {
				return err
			}
			x := origin.X + col*size
			y := origin.Y + row*size
			imagedraw.Draw(dst, image.Rect(x, y, x+size, y+size), token, image.Point{}, imagedraw.Over)

			drawer.Src = image.NewUniform(glyphColor(piece))
			drawCenteredText(drawer, pieceLetter(piece), x+size/2, y+size/2+ascent/2-1)
		}
	}
	return nil
}

func glyphColor(p nchess.Piece) color.Color {
	if p.Color() == nchess.White {
		return whiteGlyph
	}
	return blackGlyph
}

func pieceLetter(p nchess.Piece) string {
	switch p.Type() {
	case nchess.King:
		return "K"
	case nchess.Queen:
		return "Q"
	case nchess.Rook:
		return "R"
	case nchess.Bishop:
		return "B"
	case nchess.Knight:
		return "N"
	case nchess.Pawn:
		return "P"
	}
	return "?"
}

func drawCoordinates(dst imagedraw.Image, ranks []nchess.Rank, files []nchess.File, size int, origin image.Point) {
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13, Src: image.NewUniform(coordinateColor)}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	boardEnd := origin.Y + len(ranks)*size

	for row, rank := range ranks {
		drawCenteredText(drawer, rank.String(), origin.X-margin/2, origin.Y+row*size+size/2+ascent/2)
	}
	for col, file := range files {
		drawCenteredText(drawer, file.String(), origin.X+col*size+size/2, boardEnd+margin/2+ascent/2)
	}
}

func drawCenteredText(d *font.Drawer, text string, cx, baseline int) {
	width := d.MeasureString(text).Ceil()
	d.Dot = fixed.P(cx-width/2, baseline)
	d.DrawString(text)
}
