package room

import (
	"errors"
	"strings"
	"time"

	"github.com/park285/cheese-relay/pkg/relaydto"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the complementary color.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

var ErrInvalidColor = errors.New("invalid color")

// ParseColor accepts "white"/"black" and their one-letter forms.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	default:
		return "", ErrInvalidColor
	}
}

// Status is the lifecycle state reported for a room.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// GameState is the mutable record of one game inside a session.
type GameState struct {
	ID        string
	FEN       string
	Turn      Color
	Moves     []string
	Status    Status
	Winner    *Color
	StartedAt time.Time
	UpdatedAt time.Time
}

func newGameState(id string, now time.Time) *GameState {
	return &GameState{
		ID:        id,
		FEN:       StartFEN,
		Turn:      White,
		Moves:     []string{},
		Status:    StatusActive,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (g *GameState) clone() *GameState {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Moves = append([]string{}, g.Moves...)
	if g.Winner != nil {
		w := *g.Winner
		cp.Winner = &w
	}
	return &cp
}

// DTO converts the state into its wire form. A nil state maps to nil.
func (g *GameState) DTO() *relaydto.GameState {
	if g == nil {
		return nil
	}
	out := &relaydto.GameState{
		GameID:      g.ID,
		FEN:         g.FEN,
		CurrentTurn: string(g.Turn),
		MoveHistory: append([]string{}, g.Moves...),
		Status:      string(g.Status),
	}
	if g.Winner != nil {
		w := string(*g.Winner)
		out.Winner = &w
	}
	return out
}

// Participant is one player's seat in a session.
type Participant struct {
	ID        string
	Color     Color
	Connected bool
}

// Session is a room: up to two participants and, once both are present, a game.
type Session struct {
	ID           string
	Code         string
	Participants []Participant
	Game         *GameState
	CreatedAt    time.Time
}

// Status reports waiting until a game exists, then the game's status.
func (s *Session) Status() Status {
	if s == nil || s.Game == nil {
		return StatusWaiting
	}
	return s.Game.Status
}

// Participant looks up a participant by player ID.
func (s *Session) Participant(playerID string) (Participant, bool) {
	if s == nil {
		return Participant{}, false
	}
	for _, p := range s.Participants {
		if p.ID == playerID {
			return p, true
		}
	}
	return Participant{}, false
}

// PlayerOf returns the player ID seated at color, or "".
func (s *Session) PlayerOf(c Color) string {
	if s == nil {
		return ""
	}
	for _, p := range s.Participants {
		if p.Color == c {
			return p.ID
		}
	}
	return ""
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Participants = append([]Participant(nil), s.Participants...)
	cp.Game = s.Game.clone()
	return &cp
}
