package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-sso-bridge/internal/errors"
	"github.com/redis/go-redis/v9"
)

const flowKey = "authflow:%s"

// RedisRepo keeps flows in redis so any replica can serve the callback.
type RedisRepo struct {
	rdb *redis.Client
}

func NewRedisRepo(rdb *redis.Client) *RedisRepo {
	return &RedisRepo{rdb: rdb}
}

func (r *RedisRepo) Upsert(ctx context.Context, state string, flow *Flow, ttl time.Duration) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flow == nil {
		return errors.New("flow cannot be nil")
	}
	data, err := json.Marshal(flow)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, fmt.Sprintf(flowKey, state), data, ttl).Err(); err != nil {
		return fmt.Errorf("error saving auth flow: %w", err)
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, state string) (*Flow, error) {
	if state == "" {
		return nil, errors.ErrInvalidState
	}
	return decode(r.rdb.Get(ctx, fmt.Sprintf(flowKey, state)).Result())
}

func (r *RedisRepo) Take(ctx context.Context, state string) (*Flow, error) {
	if state == "" {
		return nil, errors.ErrInvalidState
	}
	return decode(r.rdb.GetDel(ctx, fmt.Sprintf(flowKey, state)).Result())
}

func (r *RedisRepo) Delete(ctx context.Context, state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	return r.rdb.Del(ctx, fmt.Sprintf(flowKey, state)).Err()
}

func decode(val string, err error) (*Flow, error) {
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	var flow Flow
	if err := json.Unmarshal([]byte(val), &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}
