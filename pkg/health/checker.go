package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker is a single dependency probe. A nil return means healthy.
type Checker func() error

// CheckerConfig carries per-probe settings.
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns the settings used when none are provided.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		Timeout: 2 * time.Second,
	}
}

// ========================================
// DEPENDENCY CHECKERS
// ========================================

// DatabaseChecker returns a health check function for PostgreSQL.
func DatabaseChecker(db *sql.DB) Checker {
	return DatabaseCheckerWithConfig(db, DefaultCheckerConfig())
}

// DatabaseCheckerWithConfig returns a database probe with a custom timeout.
func DatabaseCheckerWithConfig(db *sql.DB, config CheckerConfig) Checker {
	return func() error {
		if db == nil {
			return errors.New("database connection is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return db.PingContext(ctx)
	}
}

// RedisChecker returns a health check function for Redis.
func RedisChecker(client *redis.Client) Checker {
	return RedisCheckerWithConfig(client, DefaultCheckerConfig())
}

// RedisCheckerWithConfig returns a Redis probe with a custom timeout.
func RedisCheckerWithConfig(client *redis.Client, config CheckerConfig) Checker {
	return func() error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}

// ========================================
// COMBINATORS
// ========================================

// AsyncChecker bounds a probe with a timeout so a hung dependency cannot
// stall the health endpoint.
func AsyncChecker(checker Checker, timeout time.Duration) Checker {
	return func() error {
		result := make(chan error, 1)
		go func() {
			result <- checker()
		}()

		select {
		case err := <-result:
			return err
		case <-time.After(timeout):
			return fmt.Errorf("health check timeout after %v", timeout)
		}
	}
}

// CachedChecker memoizes a probe result, errors included, for a TTL.
type CachedChecker struct {
	checker    Checker
	cacheTTL   time.Duration
	mu         sync.Mutex
	lastCheck  time.Time
	lastResult error
}

// NewCachedChecker wraps a probe with result caching.
func NewCachedChecker(checker Checker, cacheTTL time.Duration) *CachedChecker {
	return &CachedChecker{
		checker:  checker,
		cacheTTL: cacheTTL,
	}
}

// Check returns the cached result when fresh, otherwise re-runs the probe.
func (c *CachedChecker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCheck.IsZero() && c.cacheTTL > 0 && time.Since(c.lastCheck) < c.cacheTTL {
		return c.lastResult
	}

	c.lastResult = c.checker()
	c.lastCheck = time.Now()
	return c.lastResult
}
