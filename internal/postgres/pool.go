// Package postgres opens the instrumented PostgreSQL pool used for playbook
// records.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/go-core/log"
)

// Options tune the pool.
type Options struct {
	// MaxConns caps the pool size; zero keeps the pgx default.
	MaxConns int32
	// LogQueries logs every statement, not only failures.
	LogQueries bool
}

// NewPool connects to databaseURL with tracing and query logging attached
// and verifies the connection.
func NewPool(ctx context.Context, databaseURL string, logger log.Logger, opts Options) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), logger, opts.LogQueries)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
