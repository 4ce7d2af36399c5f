package relay

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/pkg/relaydto"
	"go.uber.org/zap"
)

// Presence receives liveness changes for room participants.
type Presence interface {
	SetConnected(code, playerID string, live bool)
}

type nopPresence struct{}

func (nopPresence) SetConnected(string, string, bool) {}

const DefaultSendTimeout = 5 * time.Second

// Hub tracks live channels per room: code -> playerID -> Channel.
// Lock order is Hub then Presence; sends never run under the lock.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Channel

	presence    Presence
	sendTimeout time.Duration
	logger      *zap.Logger
}

type HubOption func(*Hub)

func WithSendTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHub(presence Presence, opts ...HubOption) *Hub {
	if presence == nil {
		presence = nopPresence{}
	}
	h := &Hub{
		rooms:       make(map[string]map[string]Channel),
		presence:    presence,
		sendTimeout: DefaultSendTimeout,
		logger:      obslog.L(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register records ch as the live channel of playerID and returns the number
// of live channels in the room including this one. A different channel that
// was registered for the same player is closed.
func (h *Hub) Register(code, playerID string, ch Channel) int {
	h.mu.Lock()
	conns, ok := h.rooms[code]
	if !ok {
		conns = make(map[string]Channel, 2)
		h.rooms[code] = conns
	}
	prev := conns[playerID]
	conns[playerID] = ch
	count := len(conns)
	h.presence.SetConnected(code, playerID, true)
	h.mu.Unlock()

	if prev != nil && prev != ch {
		h.logger.Info("relay_channel_replaced", zap.String("code", code), zap.String("player_id", playerID))
		go func() { _ = prev.Close("replaced by a newer connection") }()
	}
	return count
}

// Unregister drops whatever channel playerID has in the room.
func (h *Hub) Unregister(code, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(code, playerID)
}

// Release unregisters playerID only while ch is still its registered channel.
// It reports whether the mapping was removed.
func (h *Hub) Release(code, playerID string, ch Channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[code][playerID]; !ok || cur != ch {
		return false
	}
	h.removeLocked(code, playerID)
	return true
}

func (h *Hub) removeLocked(code, playerID string) {
	conns, ok := h.rooms[code]
	if !ok {
		return
	}
	if _, ok := conns[playerID]; !ok {
		return
	}
	delete(conns, playerID)
	if len(conns) == 0 {
		delete(h.rooms, code)
	}
	h.presence.SetConnected(code, playerID, false)
}

// LiveCount returns the number of live channels in the room.
func (h *Hub) LiveCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

type target struct {
	playerID string
	ch       Channel
}

func (h *Hub) targets(code, exclude string) []target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.rooms[code]
	out := make([]target, 0, len(conns))
	for pid, ch := range conns {
		if exclude != "" && pid == exclude {
			continue
		}
		out = append(out, target{playerID: pid, ch: ch})
	}
	return out
}

// Broadcast delivers msg to every live channel in the room except exclude.
// Delivery failures are logged and dropped.
func (h *Hub) Broadcast(ctx context.Context, code string, msg Outbound, exclude string) {
	env, err := Encode(msg)
	if err != nil {
		h.logger.Error("relay_encode_error", zap.String("code", code), zap.String("type", msg.Type()), zap.Error(err))
		return
	}
	ts := h.targets(code, exclude)
	switch len(ts) {
	case 0:
		return
	case 1:
		h.deliver(ctx, code, ts[0], env)
		return
	}
	var wg sync.WaitGroup
	for _, t := range ts {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			h.deliver(ctx, code, t, env)
		}(t)
	}
	wg.Wait()
}

// Unicast delivers msg to playerID if it has a live channel.
func (h *Hub) Unicast(ctx context.Context, code, playerID string, msg Outbound) {
	h.mu.RLock()
	ch, ok := h.rooms[code][playerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	env, err := Encode(msg)
	if err != nil {
		h.logger.Error("relay_encode_error", zap.String("code", code), zap.String("type", msg.Type()), zap.Error(err))
		return
	}
	h.deliver(ctx, code, target{playerID: playerID, ch: ch}, env)
}

func (h *Hub) deliver(ctx context.Context, code string, t target, env relaydto.Envelope) {
	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	if err := t.ch.Send(sendCtx, env); err != nil {
		h.logger.Debug("relay_send_error",
			zap.String("code", code),
			zap.String("player_id", t.playerID),
			zap.String("type", env.Type),
			zap.Error(err),
		)
	}
}

// CloseRoom unregisters and closes every channel of the room.
func (h *Hub) CloseRoom(code, reason string) int {
	h.mu.Lock()
	conns := h.rooms[code]
	delete(h.rooms, code)
	for pid := range conns {
		h.presence.SetConnected(code, pid, false)
	}
	h.mu.Unlock()

	for _, ch := range conns {
		_ = ch.Close(reason)
	}
	if len(conns) > 0 {
		h.logger.Info("relay_room_closed", zap.String("code", code), zap.Int("channels", len(conns)), zap.String("reason", reason))
	}
	return len(conns)
}

// CloseAll closes every live channel in every room.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[string]Channel)
	for code, conns := range rooms {
		for pid := range conns {
			h.presence.SetConnected(code, pid, false)
		}
	}
	h.mu.Unlock()

	n := 0
	for _, conns := range rooms {
		for _, ch := range conns {
			_ = ch.Close(reason)
			n++
		}
	}
	h.logger.Info("relay_close_all", zap.Int("channels", n), zap.String("reason", reason))
}
