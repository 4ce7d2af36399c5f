package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park285/cheese-relay/internal/archive"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/room"
	"go.uber.org/zap"
)

var ErrNotMember = errors.New("player not in room")

const (
	ReasonDrawAgreement = "draw by agreement"
	ReasonResignation   = "resignation"

	defaultArchiveTimeout = 5 * time.Second
)

type phase int

const (
	phaseConnecting phase = iota
	phaseActive
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseConnecting:
		return "connecting"
	case phaseActive:
		return "active"
	default:
		return "closed"
	}
}

// Dispatcher serves one channel per player: it registers the channel,
// announces the player, and routes every inbound frame until the channel ends.
type Dispatcher struct {
	rooms    *room.Registry
	hub      *Hub
	recorder archive.Recorder
	logger   *zap.Logger

	archiveTimeout time.Duration
	now            func() time.Time

	pending sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

// WithRecorder sets where finished games are archived.
func WithRecorder(r archive.Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

func WithArchiveTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.archiveTimeout = t
		}
	}
}

func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(rooms *room.Registry, hub *Hub, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		rooms:          rooms,
		hub:            hub,
		recorder:       archive.Nop{},
		logger:         obslog.L(),
		archiveTimeout: defaultArchiveTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Wait blocks until in-flight archive writes finish.
func (d *Dispatcher) Wait() { d.pending.Wait() }

type conn struct {
	code     string
	playerID string
	color    room.Color
	ch       Channel
	phase    phase
}

// Serve runs the channel until it closes. It returns nil on a clean
// disconnect; any other outcome is reported as an error after the channel has
// been released and closed.
func (d *Dispatcher) Serve(ctx context.Context, code, playerID string, ch Channel) (err error) {
	c := &conn{code: code, playerID: playerID, ch: ch, phase: phaseConnecting}

	color, ok := d.rooms.Color(code, playerID)
	if !ok {
		if _, exists := d.rooms.Get(code); !exists {
			_ = ch.Close("Room not found")
			return room.ErrNotFound
		}
		_ = ch.Close("Player not in room")
		return ErrNotMember
	}
	c.color = color

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("relay_panic", zap.String("code", code), zap.String("player_id", playerID), zap.String("phase", c.phase.String()), zap.Any("panic", rec))
			err = fmt.Errorf("relay panic: %v", rec)
		}
		if c.phase != phaseClosed {
			d.hub.Release(code, playerID, ch)
			_ = ch.Close("internal error")
			c.phase = phaseClosed
		}
	}()

	d.activate(ctx, c)

	for {
		env, rerr := ch.Receive(ctx)
		if rerr != nil {
			if errors.Is(rerr, ErrMalformed) {
				d.reply(ctx, c, Failure{Message: "invalid message format"})
				continue
			}
			if errors.Is(rerr, ErrChannelClosed) {
				d.disconnect(ctx, c)
				return nil
			}
			d.logger.Warn("relay_receive_error", zap.String("code", code), zap.String("player_id", playerID), zap.Error(rerr))
			return fmt.Errorf("receive: %w", rerr)
		}
		msg, derr := Decode(env)
		if derr != nil {
			d.logger.Debug("relay_malformed", zap.String("code", code), zap.String("player_id", playerID), zap.String("type", env.Type), zap.Error(derr))
			d.reply(ctx, c, Failure{Message: derr.Error()})
			continue
		}
		d.handle(ctx, c, msg)
	}
}

func (d *Dispatcher) activate(ctx context.Context, c *conn) {
	live := d.hub.Register(c.code, c.playerID, c.ch)
	c.phase = phaseActive
	d.logger.Info("relay_connect", zap.String("code", c.code), zap.String("player_id", c.playerID), zap.String("color", string(c.color)), zap.Int("live", live))

	s, _ := d.rooms.Get(c.code)
	var game *room.GameState
	if s != nil {
		game = s.Game
	}
	d.reply(ctx, c, Connected{PlayerID: c.playerID, Color: c.color, RoomID: c.code, Game: game})
	d.hub.Broadcast(ctx, c.code, PlayerConnected{PlayerID: c.playerID, Color: c.color}, c.playerID)

	if game != nil && game.Status == room.StatusActive && live == 2 {
		d.logger.Info("relay_game_start", zap.String("code", c.code), zap.String("game_id", game.ID))
		d.hub.Broadcast(ctx, c.code, GameStart{Game: game}, "")
	}
}

func (d *Dispatcher) disconnect(ctx context.Context, c *conn) {
	c.phase = phaseClosed
	if d.hub.Release(c.code, c.playerID, c.ch) {
		d.hub.Broadcast(ctx, c.code, PlayerDisconnected{PlayerID: c.playerID, Color: c.color}, c.playerID)
	}
	_ = c.ch.Close("")
	d.logger.Info("relay_disconnect", zap.String("code", c.code), zap.String("player_id", c.playerID))
}

// reply sends to this connection's channel, which may no longer be the
// registered one.
func (d *Dispatcher) reply(ctx context.Context, c *conn, msg Outbound) {
	env, err := Encode(msg)
	if err != nil {
		d.logger.Error("relay_encode_error", zap.String("type", msg.Type()), zap.Error(err))
		return
	}
	d.hub.deliver(ctx, c.code, target{playerID: c.playerID, ch: c.ch}, env)
}

func (d *Dispatcher) handle(ctx context.Context, c *conn, msg Inbound) {
	switch m := msg.(type) {
	case MoveIn:
		if _, ok := d.rooms.ApplyMove(c.code, m.FEN, m.Notation()); !ok {
			d.logger.Debug("relay_move_without_game", zap.String("code", c.code), zap.String("player_id", c.playerID))
		}
		d.hub.Broadcast(ctx, c.code, MoveOut{Move: m, Player: c.color}, c.playerID)
	case GameOverIn:
		d.finish(ctx, c, m.Winner, m.Reason, "")
	case ResignIn:
		winner := c.color.Opponent()
		d.finish(ctx, c, &winner, ReasonResignation, c.color)
	case DrawOfferIn:
		d.hub.Broadcast(ctx, c.code, DrawOffered{From: c.color}, c.playerID)
	case DrawAcceptIn:
		d.finish(ctx, c, nil, ReasonDrawAgreement, "")
	case DrawDeclineIn:
		d.hub.Broadcast(ctx, c.code, DrawDeclined{From: c.color}, c.playerID)
	case ChatIn:
		d.hub.Broadcast(ctx, c.code, Chat{From: c.color, Message: m.Message}, c.playerID)
	case RestartIn:
		g, ok := d.rooms.Restart(c.code)
		if !ok {
			d.reply(ctx, c, Failure{Message: "game cannot be restarted before both players have joined"})
			return
		}
		d.logger.Info("relay_restart", zap.String("code", c.code), zap.String("player_id", c.playerID), zap.String("game_id", g.ID))
		d.hub.Broadcast(ctx, c.code, Restarted{Game: g}, "")
	case SyncRequestIn:
		var game *room.GameState
		if s, ok := d.rooms.Get(c.code); ok {
			game = s.Game
		}
		d.reply(ctx, c, SyncResponse{Game: game})
	case UnknownIn:
		d.logger.Debug("relay_unknown_type", zap.String("code", c.code), zap.String("player_id", c.playerID), zap.String("type", m.Type))
	}
}

func (d *Dispatcher) finish(ctx context.Context, c *conn, winner *room.Color, reason string, resigned room.Color) {
	ended, ok := d.rooms.EndGame(c.code, winner, reason)
	d.hub.Broadcast(ctx, c.code, GameOver{Winner: winner, Reason: reason, ResignedPlayer: resigned}, "")
	if ok {
		d.archive(ended, reason)
	}
}

func (d *Dispatcher) archive(s *room.Session, reason string) {
	res, err := archive.FromSession(s, reason, d.now())
	if err != nil {
		return
	}
	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.archiveTimeout)
		defer cancel()
		if err := d.recorder.Record(ctx, res); err != nil {
			d.logger.Warn("relay_archive_error", zap.String("code", res.RoomCode), zap.String("game_id", res.GameID), zap.Error(err))
			return
		}
		d.logger.Debug("relay_archived", zap.String("code", res.RoomCode), zap.String("game_id", res.GameID), zap.String("outcome", res.Outcome()))
	}()
}
