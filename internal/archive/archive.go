// Package archive keeps a write-mostly history of finished games.
// Archived results are never used to restore rooms.
package archive

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/park285/cheese-relay/internal/room"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

// Result is one finished game as it stood when it ended.
type Result struct {
	GameID    string      `json:"game_id"`
	SessionID string      `json:"session_id"`
	RoomCode  string      `json:"room_code"`
	WhiteID   string      `json:"white_id"`
	BlackID   string      `json:"black_id"`
	Winner    *room.Color `json:"winner"`
	Reason    string      `json:"reason"`
	Moves     []string    `json:"moves"`
	FEN       string      `json:"fen"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
}

var ErrNoGame = errors.New("session has no game")

// FromSession snapshots the finished game of s.
func FromSession(s *room.Session, reason string, endedAt time.Time) (Result, error) {
	if s == nil || s.Game == nil {
		return Result{}, ErrNoGame
	}
	g := s.Game
	r := Result{
		GameID:    g.ID,
		SessionID: s.ID,
		RoomCode:  s.Code,
		WhiteID:   s.PlayerOf(room.White),
		BlackID:   s.PlayerOf(room.Black),
		Reason:    strings.TrimSpace(reason),
		Moves:     append([]string{}, g.Moves...),
		FEN:       g.FEN,
		StartedAt: g.StartedAt,
		EndedAt:   endedAt,
	}
	if g.Winner != nil {
		w := *g.Winner
		r.Winner = &w
	}
	return r, nil
}

// Outcome is "white", "black" or "draw".
func (r Result) Outcome() string {
	if r.Winner == nil {
		return "draw"
	}
	return string(*r.Winner)
}

// Public returns a copy without player IDs. A player ID is the only
// credential a seat has, so it never leaves the server.
func (r Result) Public() Result {
	r.WhiteID, r.BlackID = "", ""
	return r
}

// Record converts the result to its wire form with a PGN rendering. Player
// IDs are left out of both.
func (r Result) Record() *relaydto.GameRecord {
	pub := r.Public()
	out := &relaydto.GameRecord{
		GameID:    pub.GameID,
		RoomID:    pub.RoomCode,
		Reason:    pub.Reason,
		Moves:     append([]string{}, pub.Moves...),
		FEN:       pub.FEN,
		PGN:       BuildPGN(pub),
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
	if r.Winner != nil {
		w := string(*r.Winner)
		out.Winner = &w
	}
	return out
}

// Recorder accepts finished games. Recording the same GameID twice replaces
// the earlier entry.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// Reader lists archived games of one session, newest first. Sessions are
// keyed by ID rather than room code because codes are reused.
type Reader interface {
	History(ctx context.Context, sessionID string, limit int) ([]Result, error)
}

type Store interface {
	Recorder
	Reader
	Close() error
}

// Nop discards every result.
type Nop struct{}

func (Nop) Record(context.Context, Result) error { return nil }
func (Nop) History(context.Context, string, int) ([]Result, error) {
	return []Result{}, nil
}
func (Nop) Close() error { return nil }

// Multi records into every store and reads from the first one.
type Multi []Store

func (m Multi) Record(ctx context.Context, r Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) History(ctx context.Context, sessionID string, limit int) ([]Result, error) {
	if len(m) == 0 {
		return []Result{}, nil
	}
	return m[0].History(ctx, sessionID, limit)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sortNewestFirst(items []Result) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].GameID > items[j].GameID
	})
}

func clip(items []Result, limit int) []Result {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func winnerFromOutcome(outcome string) *room.Color {
	c, err := room.ParseColor(outcome)
	if err != nil {
		return nil
	}
	return &c
}
