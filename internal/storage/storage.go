// Package storage implements the shared Postgres persistence layer on
// pgxpool. All cross-instance coordination happens here: watched-order
// upserts, skip-locked plan claims, and row-locked conversation updates.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Config holds pool settings.
type Config struct {
	URL            string
	MaxConns       int
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
}

// Store wraps a bounded pgx pool and implements the persistence
// interfaces consumed by the monitor, scheduler, worker, and facade.
type Store struct {
	pool           *pgxpool.Pool
	logger         core.ILogger
	acquireTimeout time.Duration
}

// New connects to Postgres and configures the shared bounded pool.
// Under saturation acquirers queue rather than error.
func New(ctx context.Context, cfg Config, logger core.ILogger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	acquire := cfg.AcquireTimeout
	if acquire <= 0 {
		acquire = 5 * time.Second
	}

	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = idle

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &Store{
		pool:           pool,
		logger:         logger.WithField("component", "storage"),
		acquireTimeout: acquire,
	}, nil
}

// Migrate applies the schema DDL. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return &apperrors.PersistenceError{Op: "migrate", Err: err}
	}
	return nil
}

// CheckHealth pings the database.
func (s *Store) CheckHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.acquireTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close drains the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &apperrors.PersistenceError{Op: op, Err: err}
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &apperrors.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// isUniqueViolation reports whether err is a duplicate-key failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
