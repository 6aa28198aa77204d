// Package redis owns the connection to the rate-limit store. The limiter
// and the readiness probe borrow the embedded client directly.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/restoreassist/trial-engine/pkg/config"
)

// Client wraps the go-redis client so shutdown stays in one place.
type Client struct {
	*redis.Client
}

// NewRedisClient connects and verifies the server is reachable. The engine
// refuses to start without it: the sliding-window limiter has no fallback.
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}
