package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tglink/internal/config"
)

// Repository wraps the Redis client used for login attempt counters.
type Repository struct {
	Client *redis.Client
}

// New connects and pings Redis.
func New(ctx context.Context, cfg config.RedisConfig) (*Repository, error) {
	const op = "redis.New"

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Repository{Client: rdb}, nil
}

func (r *Repository) Close() error {
	return r.Client.Close()
}
