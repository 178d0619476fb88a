package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-sso-bridge/internal/errors"
	"github.com/redis/go-redis/v9"
)

const sessionKey = "tokencache:%s"

// RedisRepo stores each session's cache as one JSON document.
type RedisRepo struct {
	rdb *redis.Client
}

func NewRedisRepo(rdb *redis.Client) *RedisRepo {
	return &RedisRepo{rdb: rdb}
}

func (r *RedisRepo) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}
	val, err := r.rdb.Get(ctx, fmt.Sprintf(sessionKey, sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, err
	}
	if session.Tokens == nil {
		session.Tokens = map[string]Entry{}
	}
	return &session, nil
}

func (r *RedisRepo) Upsert(ctx context.Context, sessionID string, session *Session, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if session == nil {
		return fmt.Errorf("session is required")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, fmt.Sprintf(sessionKey, sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("error saving token cache: %w", err)
	}
	return nil
}

func (r *RedisRepo) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	return r.rdb.Del(ctx, fmt.Sprintf(sessionKey, sessionID)).Err()
}
