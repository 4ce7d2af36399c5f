package relaydto

import "encoding/json"

// Envelope is the frame shape for both directions of the realtime channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound message types.
const (
	TypeMove        = "move"
	TypeGameOver    = "game_over"
	TypeResign      = "resign"
	TypeDrawOffer   = "draw_offer"
	TypeDrawAccept  = "draw_accept"
	TypeDrawDecline = "draw_decline"
	TypeChat        = "chat"
	TypeRestart     = "restart"
	TypeSyncRequest = "sync_request"
)

// Outbound-only message types. move, game_over, draw_offer, chat and restart
// are reused in the outbound direction.
const (
	TypeConnected          = "connected"
	TypePlayerConnected    = "player_connected"
	TypeGameStart          = "game_start"
	TypeDrawDeclined       = "draw_declined"
	TypeSyncResponse       = "sync_response"
	TypePlayerDisconnected = "player_disconnected"
	TypeError              = "error"
)

// NewEnvelope marshals data into an Envelope. A nil data yields no data field.
func NewEnvelope(typ string, data any) (Envelope, error) {
	env := Envelope{Type: typ}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = raw
	return env, nil
}
