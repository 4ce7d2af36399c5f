package relaydto

// GameState mirrors the server-side game record on the wire.
type GameState struct {
	GameID      string   `json:"game_id"`
	FEN         string   `json:"fen"`
	CurrentTurn string   `json:"current_turn"`
	MoveHistory []string `json:"move_history"`
	Status      string   `json:"status"`
	Winner      *string  `json:"winner"`
}
