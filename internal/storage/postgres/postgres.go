// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the slice of pgxpool.Pool the stores use. pgxmock satisfies it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the shared connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Connect opens the pool shared by all Postgres stores.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables the stores need if they do not exist.
func EnsureSchema(ctx context.Context, pool pgxPool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id            text PRIMARY KEY,
			seeds         jsonb NOT NULL,
			max_depth     integer NOT NULL,
			status        text NOT NULL,
			submitted_at  timestamptz NOT NULL,
			finished_at   timestamptz,
			error_text    text NOT NULL DEFAULT '',
			summary       jsonb NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS frontier_entries (
			id             text PRIMARY KEY,
			job_id         text NOT NULL,
			url            text NOT NULL,
			domain         text NOT NULL,
			depth          integer NOT NULL,
			attempt        integer NOT NULL,
			state          text NOT NULL,
			discovered_at  timestamptz NOT NULL,
			leased_at      timestamptz,
			ready_at       timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS frontier_entries_job_idx ON frontier_entries (job_id)`,
		`CREATE TABLE IF NOT EXISTS crawl_results (
			job_id       text NOT NULL,
			url          text NOT NULL,
			domain       text NOT NULL,
			depth        integer NOT NULL,
			status       text NOT NULL,
			http_status  integer NOT NULL,
			error_class  text NOT NULL DEFAULT '',
			links        jsonb NOT NULL DEFAULT '[]',
			fetched_at   timestamptz NOT NULL,
			duration_ms  bigint NOT NULL,
			blob_uri     text NOT NULL DEFAULT '',
			PRIMARY KEY (job_id, url)
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
