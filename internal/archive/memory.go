package archive

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultMemoryPerSession = 50

type memEntry struct {
	res      Result
	storedAt time.Time
}

// MemoryStore is the in-process archive. Entries expire after the same TTL as
// the Redis store and each session keeps only its most recent games.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]memEntry
	bySession map[string][]string // session ID -> game IDs, insertion order

	perSession int
	ttl        time.Duration
	now        func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithPerSessionLimit caps how many games are kept per session.
func WithPerSessionLimit(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.perSession = n
		}
	}
}

func WithMemoryTTL(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		byID:       make(map[string]memEntry),
		bySession:  make(map[string][]string),
		perSession: defaultMemoryPerSession,
		ttl:        redisTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Record(_ context.Context, r Result) error {
	id := strings.TrimSpace(r.GameID)
	if id == "" {
		return ErrNoGame
	}
	r.Moves = append([]string{}, r.Moves...)
	sid := strings.TrimSpace(r.SessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.expireLocked(now)
	if _, exists := m.byID[id]; !exists {
		m.bySession[sid] = append(m.bySession[sid], id)
	}
	m.byID[id] = memEntry{res: r, storedAt: now}

	if ids := m.bySession[sid]; len(ids) > m.perSession {
		drop := len(ids) - m.perSession
		for _, old := range ids[:drop] {
			delete(m.byID, old)
		}
		m.bySession[sid] = append([]string(nil), ids[drop:]...)
	}
	return nil
}

// expireLocked drops every entry older than the TTL.
func (m *MemoryStore) expireLocked(now time.Time) {
	for sid, ids := range m.bySession {
		kept := ids[:0]
		for _, id := range ids {
			if e, ok := m.byID[id]; ok && now.Sub(e.storedAt) <= m.ttl {
				kept = append(kept, id)
				continue
			}
			delete(m.byID, id)
		}
		if len(kept) == 0 {
			delete(m.bySession, sid)
			continue
		}
		m.bySession[sid] = kept
	}
}

func (m *MemoryStore) History(_ context.Context, sessionID string, limit int) ([]Result, error) {
	m.mu.RLock()
	now := m.now()
	ids := m.bySession[strings.TrimSpace(sessionID)]
	items := make([]Result, 0, len(ids))
	for _, id := range ids {
		e, ok := m.byID[id]
		if !ok || now.Sub(e.storedAt) > m.ttl {
			continue
		}
		r := e.res
		r.Moves = append([]string{}, r.Moves...)
		items = append(items, r)
	}
	m.mu.RUnlock()

	sortNewestFirst(items)
	return clip(items, limit), nil
}

// Len is the number of games currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *MemoryStore) Close() error { return nil }
