// Package db is the PostgreSQL store. It implements the exchange ledger
// ports plus the user, coin and bookmark queries used by the HTTP layer.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtrntr/papertrade/internal/exchange"
)

var (
	_ exchange.CoinReader   = (*DB)(nil)
	_ exchange.Ledger       = (*DB)(nil)
	_ exchange.LedgerReader = (*DB)(nil)
)

var timeNow = func() time.Time { return time.Now().UTC() }

// Config holds connection pool settings.
type Config struct {
	URL      string
	MaxConns int32
	MinConns int32

	// MaxConnLifetime is the maximum amount of time a connection may be reused.
	// Default: 5 minutes
	MaxConnLifetime time.Duration

	// LockTimeout bounds how long a trade waits on a user's ledger rows.
	// Zero leaves the server default.
	LockTimeout time.Duration
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewDB initializes a new database connection pool and pings it.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = 5 * time.Minute
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool, lockTimeout: cfg.LockTimeout}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify turns transient transaction failures into exchange.ErrConflict
// so the engine can retry them.
func classify(err error) error {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %w", exchange.ErrConflict, err)
	}
	return err
}
