// Package postgres provides a Postgres-backed salt store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapfold/listsync/internal/core"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const saltKey = "telemetry_salt"

// Config controls the Postgres connection pool used for the secrets table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store keeps the salt in a two-column secrets table. It implements
// core.SaltStore.
type Store struct {
	pool  pgxPool
	table string
}

var _ core.SaltStore = (*Store)(nil)

// New creates a Postgres-backed Store using the provided config. The table
// is expected to exist with schema (name TEXT PRIMARY KEY, value TEXT).
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("saltstore.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "app_secrets"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "app_secrets"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Get returns the stored salt, or "" when no row exists.
func (s *Store) Get(ctx context.Context) (string, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE name = $1", s.table)
	var salt string
	err := s.pool.QueryRow(ctx, query, saltKey).Scan(&salt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select salt: %w", err)
	}
	return salt, nil
}

// Set upserts the salt row.
func (s *Store) Set(ctx context.Context, salt string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (name, value) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value",
		s.table,
	)
	if _, err := s.pool.Exec(ctx, query, saltKey, salt); err != nil {
		return fmt.Errorf("upsert salt: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
