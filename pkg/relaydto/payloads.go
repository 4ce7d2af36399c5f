package relaydto

// Inbound payloads.

type MovePayload struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	FEN       string  `json:"fen"`
	Promotion *string `json:"promotion,omitempty"`
}

type GameOverPayload struct {
	Winner *string `json:"winner"`
	Reason string  `json:"reason,omitempty"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

// Outbound payloads.

type ConnectedPayload struct {
	PlayerID  string     `json:"player_id"`
	Color     string     `json:"color"`
	RoomID    string     `json:"room_id"`
	GameState *GameState `json:"game_state"`
}

type PlayerPresencePayload struct {
	PlayerID string `json:"player_id"`
	Color    string `json:"color"`
}

type GameStatePayload struct {
	GameState *GameState `json:"game_state"`
}

type MoveEventPayload struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	FEN       string  `json:"fen"`
	Promotion *string `json:"promotion"`
	Player    string  `json:"player"`
}

type GameOverEventPayload struct {
	Winner         *string `json:"winner"`
	Reason         string  `json:"reason"`
	ResignedPlayer string  `json:"resigned_player,omitempty"`
}

type FromPayload struct {
	From string `json:"from"`
}

type ChatEventPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
