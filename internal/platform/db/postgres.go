package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes the connection pool. Zero values keep pgxpool defaults.
type Options struct {
	MaxConns     int32
	PingAttempts int
}

// New creates a new PostgreSQL connection pool and waits for it to answer.
func New(ctx context.Context, dsn string, opts Options) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	attempts := opts.PingAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, fmt.Errorf("platform/db: ping: %w", ctx.Err())
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
	pool.Close()
	return nil, fmt.Errorf("platform/db: ping: %w", err)
}
