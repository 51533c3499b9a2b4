// Package health provides dependency checkers for the readiness endpoint.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CheckTimeout bounds each individual dependency probe.
const CheckTimeout = 2 * time.Second

// Checker probes a single dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// DBChecker probes the SQL database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

func (c *DBChecker) Name() string { return "database" }

func (c *DBChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// RedisChecker probes Redis.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
