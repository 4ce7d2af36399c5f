// Package room owns room sessions: participants, color seats and game state.
package room

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/roomcode"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrFull     = errors.New("room is full")
)

// Join reasons returned alongside the result of Join.
const (
	ReasonJoined   = "Joined successfully"
	ReasonAlready  = "Already in room"
	ReasonNotFound = "Room not found"
	ReasonFull     = "Room is full"
)

const maxParticipants = 2

// Registry is the in-process store of sessions keyed by room code.
// Every value it returns is a private copy.
type Registry struct {
	mu sync.RWMutex
	// code -> session
	rooms map[string]*Session
	// playerID -> code of the room the player most recently entered
	playerRooms map[string]string

	codes      *roomcode.Generator
	now        func() time.Time
	gameIDs    func() string
	sessionIDs func() string
	logger     *zap.Logger
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithCodeGenerator(g *roomcode.Generator) Option {
	return func(r *Registry) {
		if g != nil {
			r.codes = g
		}
	}
}

// WithGameIDs overrides how fresh game states are identified.
func WithGameIDs(next func() string) Option {
	return func(r *Registry) {
		if next != nil {
			r.gameIDs = next
		}
	}
}

// WithSessionIDs overrides how sessions are identified. The ID outlives the
// room code, which is reused once a room is removed.
func WithSessionIDs(next func() string) Option {
	return func(r *Registry) {
		if next != nil {
			r.sessionIDs = next
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:       make(map[string]*Session),
		playerRooms: make(map[string]string),
		codes:       roomcode.New(),
		now:         time.Now,
		gameIDs:     uuid.NewString,
		sessionIDs:  uuid.NewString,
		logger:      obslog.L(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a room with playerID seated as white.
func (r *Registry) Create(playerID string) *Session {
	playerID = strings.TrimSpace(playerID)

	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.codes.Generate(func(c string) bool {
		_, ok := r.rooms[c]
		return ok
	})
	s := &Session{
		ID:           r.sessionIDs(),
		Code:         code,
		Participants: []Participant{{ID: playerID, Color: White}},
		CreatedAt:    r.now(),
	}
	r.rooms[code] = s
	r.playerRooms[playerID] = code
	r.logger.Info("room_create", zap.String("code", code), zap.String("player_id", playerID), zap.Int("rooms", len(r.rooms)))
	return s.clone()
}

// Join seats playerID in the room. A known participant rejoins idempotently.
// The second participant is seated as black and starts the game.
// The reason string is meant for display and is set in every case.
func (r *Registry) Join(code, playerID string) (*Session, string, error) {
	code = strings.TrimSpace(code)
	playerID = strings.TrimSpace(playerID)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.rooms[code]
	if !ok {
		return nil, ReasonNotFound, ErrNotFound
	}
	if _, ok := s.Participant(playerID); ok {
		return s.clone(), ReasonAlready, nil
	}
	if len(s.Participants) >= maxParticipants {
		r.logger.Info("room_join_rejected", zap.String("code", code), zap.String("player_id", playerID), zap.String("reason", "full"))
		return nil, ReasonFull, ErrFull
	}

	s.Participants = append(s.Participants, Participant{ID: playerID, Color: Black})
	r.playerRooms[playerID] = code
	if len(s.Participants) == maxParticipants && s.Game == nil {
		s.Game = newGameState(r.gameIDs(), r.now())
		r.logger.Info("room_game_start", zap.String("code", code), zap.String("game_id", s.Game.ID))
	}
	r.logger.Info("room_join", zap.String("code", code), zap.String("player_id", playerID), zap.Int("participants", len(s.Participants)))
	return s.clone(), ReasonJoined, nil
}

// ValidCode reports whether code has the shape of a room code. It says
// nothing about whether the room exists.
func (r *Registry) ValidCode(code string) bool {
	return r.codes.Valid(strings.TrimSpace(code))
}

func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rooms[strings.TrimSpace(code)]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Color returns the seat of playerID in the room.
func (r *Registry) Color(code, playerID string) (Color, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rooms[strings.TrimSpace(code)]
	if !ok {
		return "", false
	}
	p, ok := s.Participant(playerID)
	if !ok {
		return "", false
	}
	return p.Color, true
}

// RoomOf returns the room playerID most recently created or joined.
func (r *Registry) RoomOf(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.playerRooms[strings.TrimSpace(playerID)]
	if !ok {
		return nil, false
	}
	s, ok := r.rooms[code]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ApplyMove records a move without validating it: the position string is
// stored verbatim and the side to move flips.
func (r *Registry) ApplyMove(code, fen, notation string) (*GameState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rooms[strings.TrimSpace(code)]
	if !ok || s.Game == nil {
		return nil, false
	}
	g := s.Game
	g.FEN = fen
	g.Moves = append(g.Moves, notation)
	g.Turn = g.Turn.Opponent()
	g.UpdatedAt = r.now()
	return g.clone(), true
}

// EndGame marks the game finished. A nil winner is a draw. Repeated calls keep
// the finished status and overwrite the winner. reason is not stored.
func (r *Registry) EndGame(code string, winner *Color, reason string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rooms[strings.TrimSpace(code)]
	if !ok || s.Game == nil {
		return nil, false
	}
	s.Game.Status = StatusFinished
	if winner != nil {
		w := *winner
		s.Game.Winner = &w
	} else {
		s.Game.Winner = nil
	}
	s.Game.UpdatedAt = r.now()
	winnerField := "draw"
	if winner != nil {
		winnerField = string(*winner)
	}
	r.logger.Info("room_game_end", zap.String("code", s.Code), zap.String("game_id", s.Game.ID), zap.String("winner", winnerField), zap.String("reason", reason))
	return s.clone(), true
}

// Restart replaces the game with a fresh active one whatever its status.
// Rooms still waiting for a second participant are left untouched.
func (r *Registry) Restart(code string) (*GameState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rooms[strings.TrimSpace(code)]
	if !ok || len(s.Participants) < maxParticipants {
		return nil, false
	}
	s.Game = newGameState(r.gameIDs(), r.now())
	r.logger.Info("room_game_restart", zap.String("code", s.Code), zap.String("game_id", s.Game.ID))
	return s.Game.clone(), true
}

// Remove deletes the room and the reverse lookups pointing at it.
func (r *Registry) Remove(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(strings.TrimSpace(code))
}

func (r *Registry) removeLocked(code string) bool {
	s, ok := r.rooms[code]
	if !ok {
		return false
	}
	for _, p := range s.Participants {
		if r.playerRooms[p.ID] == code {
			delete(r.playerRooms, p.ID)
		}
	}
	delete(r.rooms, code)
	return true
}

// ReapStale removes every room created more than maxAge ago, active or not,
// and returns the removed codes.
func (r *Registry) ReapStale(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var removed []string
	for code, s := range r.rooms {
		if now.Sub(s.CreatedAt) > maxAge {
			removed = append(removed, code)
		}
	}
	for _, code := range removed {
		r.removeLocked(code)
	}
	if len(removed) > 0 {
		r.logger.Info("room_reap", zap.Strings("codes", removed), zap.Duration("max_age", maxAge), zap.Int("rooms", len(r.rooms)))
	}
	return removed
}

// SetConnected flips the liveness flag of a participant. Unknown rooms or
// players are ignored.
func (r *Registry) SetConnected(code, playerID string, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rooms[strings.TrimSpace(code)]
	if !ok {
		return
	}
	for i := range s.Participants {
		if s.Participants[i].ID == playerID {
			s.Participants[i].Connected = live
			return
		}
	}
}
