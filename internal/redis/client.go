// Package redis wires up the shared Redis connection used for the feed
// subscription and readiness checks.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kitiphol/TokTik/internal/retry"
)

const (
	pingTimeout    = 5 * time.Second
	connectRetries = 5
	connectBackoff = 500 * time.Millisecond
)

// NewClient creates a Redis client from a URL (e.g., "redis://localhost:6379")
// and verifies the connection before returning it. Transient connect failures
// are retried with backoff so the relay survives Redis coming up slightly
// later than the relay itself.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	policy := retry.Policy{
		MaxAttempts:    connectRetries,
		InitialBackoff: connectBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	transient := func(error) retry.Action { return retry.Retry }

	err = retry.DoVoid(ctx, policy, transient, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
