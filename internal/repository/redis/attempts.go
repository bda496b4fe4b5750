package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

func (r *Repository) Incr(ctx context.Context, key string, ttl time.Duration) (int, error) {
	var incr *redis.IntCmd

	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return int(incr.Val()), nil
}

func (r *Repository) Block(ctx context.Context, key string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, "blocked", ttl).Err()
}

func (r *Repository) IsBlocked(ctx context.Context, key string) (bool, error) {
	err := r.Client.Get(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *Repository) Reset(ctx context.Context, key string) error {
	return r.Client.Del(ctx, key).Err()
}
