package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/cheese-relay/internal/room"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

// Inbound is a decoded client frame.
type Inbound interface{ inbound() }

type MoveIn struct {
	From      string
	To        string
	FEN       string
	Promotion *string
}

// Notation is from+to plus the promotion piece when present.
func (m MoveIn) Notation() string {
	n := m.From + m.To
	if m.Promotion != nil {
		n += *m.Promotion
	}
	return n
}

type GameOverIn struct {
	Winner *room.Color // nil is a draw
	Reason string
}

type ResignIn struct{}
type DrawOfferIn struct{}
type DrawAcceptIn struct{}
type DrawDeclineIn struct{}
type ChatIn struct{ Message string }
type RestartIn struct{}
type SyncRequestIn struct{}

// UnknownIn is a frame whose type is not part of the protocol.
type UnknownIn struct{ Type string }

func (MoveIn) inbound()        {}
func (GameOverIn) inbound()    {}
func (ResignIn) inbound()      {}
func (DrawOfferIn) inbound()   {}
func (DrawAcceptIn) inbound()  {}
func (DrawDeclineIn) inbound() {}
func (ChatIn) inbound()        {}
func (RestartIn) inbound()     {}
func (SyncRequestIn) inbound() {}
func (UnknownIn) inbound()     {}

const defaultGameOverReason = "unknown"

// Decode maps an envelope to its Inbound variant. Errors wrap ErrMalformed.
func Decode(env relaydto.Envelope) (Inbound, error) {
	switch env.Type {
	case relaydto.TypeMove:
		var p relaydto.MovePayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, err
		}
		p.From, p.To = strings.TrimSpace(p.From), strings.TrimSpace(p.To)
		if p.From == "" || p.To == "" {
			return nil, fmt.Errorf("%w: move requires from and to", ErrMalformed)
		}
		if p.Promotion != nil && strings.TrimSpace(*p.Promotion) == "" {
			p.Promotion = nil
		}
		return MoveIn{From: p.From, To: p.To, FEN: p.FEN, Promotion: p.Promotion}, nil
	case relaydto.TypeGameOver:
		var p relaydto.GameOverPayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, err
		}
		out := GameOverIn{Reason: p.Reason}
		if out.Reason == "" {
			out.Reason = defaultGameOverReason
		}
		if p.Winner != nil && *p.Winner != "" {
			c := room.Color(*p.Winner)
			if !c.Valid() {
				return nil, fmt.Errorf("%w: winner %q", ErrMalformed, *p.Winner)
			}
			out.Winner = &c
		}
		return out, nil
	case relaydto.TypeResign:
		return ResignIn{}, nil
	case relaydto.TypeDrawOffer:
		return DrawOfferIn{}, nil
	case relaydto.TypeDrawAccept:
		return DrawAcceptIn{}, nil
	case relaydto.TypeDrawDecline:
		return DrawDeclineIn{}, nil
	case relaydto.TypeChat:
		var p relaydto.ChatPayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, err
		}
		return ChatIn{Message: p.Message}, nil
	case relaydto.TypeRestart:
		return RestartIn{}, nil
	case relaydto.TypeSyncRequest:
		return SyncRequestIn{}, nil
	default:
		return UnknownIn{Type: env.Type}, nil
	}
}

// unmarshalData treats an absent or null data field as an empty object.
func unmarshalData(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Outbound is a server event destined for one or more players.
type Outbound interface {
	Type() string
	Payload() any
}

type Connected struct {
	PlayerID string
	Color    room.Color
	RoomID   string
	Game     *room.GameState
}

type PlayerConnected struct {
	PlayerID string
	Color    room.Color
}

type GameStart struct{ Game *room.GameState }

type MoveOut struct {
	Move   MoveIn
	Player room.Color
}

type GameOver struct {
	Winner         *room.Color
	Reason         string
	ResignedPlayer room.Color
}

type DrawOffered struct{ From room.Color }
type DrawDeclined struct{ From room.Color }

type Chat struct {
	From    room.Color
	Message string
}

type Restarted struct{ Game *room.GameState }
type SyncResponse struct{ Game *room.GameState }

type PlayerDisconnected struct {
	PlayerID string
	Color    room.Color
}

// Failure tells a sender its frame was rejected.
type Failure struct{ Message string }

func (Connected) Type() string          { return relaydto.TypeConnected }
func (PlayerConnected) Type() string    { return relaydto.TypePlayerConnected }
func (GameStart) Type() string          { return relaydto.TypeGameStart }
func (MoveOut) Type() string            { return relaydto.TypeMove }
func (GameOver) Type() string           { return relaydto.TypeGameOver }
func (DrawOffered) Type() string        { return relaydto.TypeDrawOffer }
func (DrawDeclined) Type() string       { return relaydto.TypeDrawDeclined }
func (Chat) Type() string               { return relaydto.TypeChat }
func (Restarted) Type() string          { return relaydto.TypeRestart }
func (SyncResponse) Type() string       { return relaydto.TypeSyncResponse }
func (PlayerDisconnected) Type() string { return relaydto.TypePlayerDisconnected }
func (Failure) Type() string            { return relaydto.TypeError }

func (m Connected) Payload() any {
	return relaydto.ConnectedPayload{PlayerID: m.PlayerID, Color: string(m.Color), RoomID: m.RoomID, GameState: m.Game.DTO()}
}

func (m PlayerConnected) Payload() any {
	return relaydto.PlayerPresencePayload{PlayerID: m.PlayerID, Color: string(m.Color)}
}

func (m GameStart) Payload() any { return relaydto.GameStatePayload{GameState: m.Game.DTO()} }

func (m MoveOut) Payload() any {
	return relaydto.MoveEventPayload{
		From:      m.Move.From,
		To:        m.Move.To,
		FEN:       m.Move.FEN,
		Promotion: m.Move.Promotion,
		Player:    string(m.Player),
	}
}

func (m GameOver) Payload() any {
	return relaydto.GameOverEventPayload{Winner: colorPtr(m.Winner), Reason: m.Reason, ResignedPlayer: string(m.ResignedPlayer)}
}

func (m DrawOffered) Payload() any  { return relaydto.FromPayload{From: string(m.From)} }
func (m DrawDeclined) Payload() any { return relaydto.FromPayload{From: string(m.From)} }
func (m Chat) Payload() any         { return relaydto.ChatEventPayload{From: string(m.From), Message: m.Message} }
func (m Restarted) Payload() any    { return relaydto.GameStatePayload{GameState: m.Game.DTO()} }
func (m SyncResponse) Payload() any { return relaydto.GameStatePayload{GameState: m.Game.DTO()} }

func (m PlayerDisconnected) Payload() any {
	return relaydto.PlayerPresencePayload{PlayerID: m.PlayerID, Color: string(m.Color)}
}

func (m Failure) Payload() any { return relaydto.ErrorPayload{Message: m.Message} }

// Encode renders an outbound event as an envelope.
func Encode(m Outbound) (relaydto.Envelope, error) {
	env, err := relaydto.NewEnvelope(m.Type(), m.Payload())
	if err != nil {
		return relaydto.Envelope{}, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return env, nil
}

func colorPtr(c *room.Color) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}
