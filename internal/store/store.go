// Package store persists session reports and search term usage in
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned by InitFromEnv when no database is set up
var ErrNotConfigured = errors.New("database not configured")

// Config holds PostgreSQL connection configuration
type Config struct {
	DatabaseURL        string        // Connection string (URL or key=value form)
	MaxOpenConns       int           // Maximum number of open connections
	MaxIdleConns       int           // Maximum number of idle connections
	MaxLifetime        time.Duration // Maximum lifetime of a connection
	StatementTimeoutMs int           // Server-side statement timeout
}

// Store wraps the session database
type Store struct {
	client *sql.DB
}

// Open connects to PostgreSQL and makes sure the schema exists
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, ErrNotConfigured
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", WithStatementTimeout(cfg.DatabaseURL, cfg.StatementTimeoutMs))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(cfg.MaxOpenConns)
	client.SetMaxIdleConns(cfg.MaxIdleConns)
	client.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := client.PingContext(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s := New(client)
	if err := s.setupSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("Connected to session database")

	return s, nil
}

// InitFromEnv opens the store described by DATABASE_URL and
// DATABASE_STATEMENT_TIMEOUT_MS. It returns ErrNotConfigured when
// DATABASE_URL is unset.
func InitFromEnv(ctx context.Context) (*Store, error) {
	cfg := Config{DatabaseURL: os.Getenv("DATABASE_URL")}
	if raw := os.Getenv("DATABASE_STATEMENT_TIMEOUT_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_STATEMENT_TIMEOUT_MS %q: %w", raw, err)
		}
		cfg.StatementTimeoutMs = ms
	}
	return Open(ctx, cfg)
}

// New wraps an existing connection pool. The schema is assumed to exist.
func New(client *sql.DB) *Store {
	return &Store{client: client}
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) setupSchema(ctx context.Context) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"search_sessions table", `
			CREATE TABLE IF NOT EXISTS search_sessions (
				id UUID PRIMARY KEY,
				status TEXT NOT NULL,
				planned_searches INTEGER NOT NULL,
				completed_searches INTEGER NOT NULL,
				clicked_target BOOLEAN NOT NULL DEFAULT FALSE,
				clicks INTEGER NOT NULL DEFAULT 0,
				challenges INTEGER NOT NULL DEFAULT 0,
				navigation_attempts INTEGER NOT NULL DEFAULT 0,
				proxy_session_id INTEGER,
				country TEXT,
				user_agent TEXT,
				queries TEXT[] NOT NULL DEFAULT '{}',
				screenshots TEXT[] NOT NULL DEFAULT '{}',
				error_message TEXT,
				started_at TIMESTAMPTZ NOT NULL,
				ended_at TIMESTAMPTZ NOT NULL,
				duration_ms BIGINT NOT NULL
			)`},
		{"search_sessions index", `
			CREATE INDEX IF NOT EXISTS idx_search_sessions_started_at
			ON search_sessions(started_at DESC)`},
		{"term_usage table", `
			CREATE TABLE IF NOT EXISTS term_usage (
				term TEXT PRIMARY KEY,
				uses INTEGER NOT NULL DEFAULT 0,
				last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
	}

	for _, stmt := range statements {
		if _, err := s.client.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}
