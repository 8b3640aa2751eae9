package livecall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"softphone/internal/calls"

	"github.com/redis/go-redis/v9"
)

// RedisRepo stores the record under one redis key.
type RedisRepo struct {
	rdb *redis.Client
	key string

	// TTL bounds how long a stale marker survives if nothing clears it. Zero keeps it forever.
	TTL time.Duration
}

func NewRedisRepo(rdb *redis.Client, key string) *RedisRepo {
	if key == "" {
		key = DefaultKey
	}
	return &RedisRepo{rdb: rdb, key: key}
}

func (r *RedisRepo) Key() string { return r.key }

func (r *RedisRepo) Load(ctx context.Context) (*calls.CallAlert, error) {
	if r.rdb == nil {
		return nil, errors.New("livecall: redis client is nil")
	}
	raw, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("livecall: redis get: %w", err)
	}
	return decode(raw)
}

func (r *RedisRepo) Save(ctx context.Context, alert calls.CallAlert) error {
	if r.rdb == nil {
		return errors.New("livecall: redis client is nil")
	}
	raw, err := encode(alert)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key, raw, r.TTL).Err(); err != nil {
		return fmt.Errorf("livecall: redis set: %w", err)
	}
	return nil
}

func (r *RedisRepo) Clear(ctx context.Context) error {
	if r.rdb == nil {
		return errors.New("livecall: redis client is nil")
	}
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("livecall: redis del: %w", err)
	}
	return nil
}
