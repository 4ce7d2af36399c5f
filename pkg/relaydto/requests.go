package relaydto

import "time"

type StatusResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	ActiveRooms *int   `json:"active_rooms,omitempty"`
}

type CreateRoomResponse struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Message  string `json:"message"`
}

type JoinRoomResponse struct {
	Success  bool   `json:"success"`
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Color    string `json:"color,omitempty"`
	Message  string `json:"message"`
}

type RoomInfoResponse struct {
	RoomID      string     `json:"room_id"`
	PlayerCount int        `json:"player_count"`
	Status      string     `json:"status"`
	GameState   *GameState `json:"game_state"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// GameRecord is one archived, finished game. Player IDs are never included.
type GameRecord struct {
	GameID    string    `json:"game_id"`
	RoomID    string    `json:"room_id"`
	Winner    *string   `json:"winner"`
	Reason    string    `json:"reason"`
	Moves     []string  `json:"moves"`
	FEN       string    `json:"fen"`
	PGN       string    `json:"pgn,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type HistoryResponse struct {
	RoomID string        `json:"room_id"`
	Games  []*GameRecord `json:"games"`
}
