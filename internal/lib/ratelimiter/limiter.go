package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrBlocked = errors.New("too many failed attempts")

// AttemptStore keeps failed login counters and blocks per client.
type AttemptStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int, error)
	Block(ctx context.Context, key string, ttl time.Duration) error
	IsBlocked(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// RateLimiter blocks a client after MaxAttempts failed logins within Window.
type RateLimiter struct {
	store       AttemptStore
	MaxAttempts int
	Window      time.Duration
	BlockTime   time.Duration
}

func NewRateLimiter(store AttemptStore, maxAttempts int, window, blockTime time.Duration) *RateLimiter {
	return &RateLimiter{
		store:       store,
		MaxAttempts: maxAttempts,
		Window:      window,
		BlockTime:   blockTime,
	}
}

func attemptsKey(clientIP string) string {
	return fmt.Sprintf("auth_attempts:%s", clientIP)
}

func blockKey(clientIP string) string {
	return fmt.Sprintf("blocked_user:%s", clientIP)
}

// Check returns ErrBlocked while the client is blocked.
func (r *RateLimiter) Check(ctx context.Context, clientIP string) error {
	if r.MaxAttempts <= 0 {
		return nil
	}

	blocked, err := r.store.IsBlocked(ctx, blockKey(clientIP))
	if err != nil {
		return fmt.Errorf("failed to check block: %w", err)
	}
	if blocked {
		return ErrBlocked
	}

	return nil
}

// RegisterFailure counts a failed login and blocks the client once the limit
// is reached, returning ErrBlocked in that case.
func (r *RateLimiter) RegisterFailure(ctx context.Context, clientIP string) error {
	if r.MaxAttempts <= 0 {
		return nil
	}

	attempts, err := r.store.Incr(ctx, attemptsKey(clientIP), r.Window)
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}

	if attempts >= r.MaxAttempts {
		if err := r.store.Block(ctx, blockKey(clientIP), r.BlockTime); err != nil {
			return fmt.Errorf("failed to block: %w", err)
		}
		if err := r.store.Reset(ctx, attemptsKey(clientIP)); err != nil {
			return fmt.Errorf("failed to reset attempts: %w", err)
		}
		return ErrBlocked
	}

	return nil
}

func (r *RateLimiter) ResetAttempts(ctx context.Context, clientIP string) error {
	return r.store.Reset(ctx, attemptsKey(clientIP))
}
