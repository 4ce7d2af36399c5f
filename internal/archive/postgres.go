package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository stores results in the relay_games table.
type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const upsertGame = `INSERT INTO relay_games (
    game_id, session_id, room_code, white_id, black_id,
    result, reason, moves, fen, pgn,
    started_at, ended_at, duration_ms
  ) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
  ) ON CONFLICT (game_id) DO UPDATE SET
    session_id=EXCLUDED.session_id,
    room_code=EXCLUDED.room_code,
    white_id=EXCLUDED.white_id,
    black_id=EXCLUDED.black_id,
    result=EXCLUDED.result,
    reason=EXCLUDED.reason,
    moves=EXCLUDED.moves,
    fen=EXCLUDED.fen,
    pgn=EXCLUDED.pgn,
    started_at=EXCLUDED.started_at,
    ended_at=EXCLUDED.ended_at,
    duration_ms=EXCLUDED.duration_ms`

// Record upserts a finished game.
func (r *Repository) Record(ctx context.Context, res Result) error {
	if r == nil || r.db == nil {
		return nil
	}
	if strings.TrimSpace(res.GameID) == "" {
		return ErrNoGame
	}
	movesRaw, err := json.Marshal(res.Moves)
	if err != nil {
		return err
	}
	duration := res.EndedAt.Sub(res.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	_, err = r.db.ExecContext(ctx, upsertGame,
		res.GameID, res.SessionID, res.RoomCode, res.WhiteID, res.BlackID,
		res.Outcome(), res.Reason, string(movesRaw), res.FEN, BuildPGN(res),
		res.StartedAt, res.EndedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("upsert relay game: %w", err)
	}
	return nil
}

const selectHistory = `SELECT game_id, session_id, room_code, white_id, black_id, result, reason, moves, fen, started_at, ended_at
  FROM relay_games WHERE session_id = $1 ORDER BY ended_at DESC, game_id DESC LIMIT $2`

func (r *Repository) History(ctx context.Context, sessionID string, limit int) ([]Result, error) {
	if r == nil || r.db == nil {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, selectHistory, strings.TrimSpace(sessionID), limit)
	if err != nil {
		return nil, fmt.Errorf("query relay games: %w", err)
	}
	defer rows.Close()

	items := []Result{}
	for rows.Next() {
		var (
			res      Result
			outcome  string
			movesRaw []byte
		)
		if err := rows.Scan(&res.GameID, &res.SessionID, &res.RoomCode, &res.WhiteID, &res.BlackID, &outcome, &res.Reason, &movesRaw, &res.FEN, &res.StartedAt, &res.EndedAt); err != nil {
			return nil, err
		}
		if len(movesRaw) > 0 {
			if err := json.Unmarshal(movesRaw, &res.Moves); err != nil {
				return nil, fmt.Errorf("decode moves of %s: %w", res.GameID, err)
			}
		}
		res.Winner = winnerFromOutcome(outcome)
		items = append(items, res)
	}
	return items, rows.Err()
}
