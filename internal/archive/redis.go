package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTTL = 24 * time.Hour

// RedisStore keeps each result as JSON under relay:game:<id> and indexes it
// per session in a sorted set scored by end time.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: redisTTL}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: redisTTL}
}

func gameKey(id string) string      { return "relay:game:" + strings.TrimSpace(id) }
func historyKey(sessionID string) string {
	return "relay:history:" + strings.TrimSpace(sessionID)
}

func (s *RedisStore) Record(ctx context.Context, r Result) error {
	if strings.TrimSpace(r.GameID) == "" {
		return ErrNoGame
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, gameKey(r.GameID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	score := float64(r.EndedAt.UnixMilli())
	if err := s.rdb.ZAdd(ctx, historyKey(r.SessionID), redis.Z{Score: score, Member: r.GameID}).Err(); err != nil {
		return fmt.Errorf("index game: %w", err)
	}
	return s.rdb.Expire(ctx, historyKey(r.SessionID), s.ttl).Err()
}

func (s *RedisStore) History(ctx context.Context, sessionID string, limit int) ([]Result, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.rdb.ZRevRange(ctx, historyKey(sessionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	items := make([]Result, 0, len(ids))
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load game %s: %w", id, err)
		}
		var r Result
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode game %s: %w", id, err)
		}
		items = append(items, r)
	}
	sortNewestFirst(items)
	return items, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
