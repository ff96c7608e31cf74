// Package database is the PostgreSQL implementation of the claim, filing and
// audit repositories. Writes for one case are serialized with a transaction
// scoped advisory lock.
package database

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/config"
)

const uniqueViolation = "23505"

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Store owns the pool and hands out repositories that share it.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Audit() audit.Repository    { return &AuditRepository{s} }
func (s *Store) Claims() claim.Repository   { return &ClaimRepository{s} }
func (s *Store) Filings() filing.Repository { return &FilingRepository{s} }

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// WithinCase runs fn in a transaction holding the case's advisory lock.
// Repositories called with the returned context join the transaction. A
// nested call joins the open transaction and takes its own case lock.
func (s *Store) WithinCase(ctx context.Context, caseID string, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		if err := lockCase(ctx, tx, caseID); err != nil {
			return err
		}
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.NewStorageError("begin", err)
	}
	defer func() {
		// Rollback after commit is a no-op.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := lockCase(ctx, tx, caseID); err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("Failed to commit case unit", zap.String("case_id", caseID), zap.Error(err))
		return errors.NewStorageError("commit", err)
	}
	return nil
}

func lockCase(ctx context.Context, tx pgx.Tx, caseID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, caseID); err != nil {
		return errors.NewStorageError("lock case", err)
	}
	return nil
}

// q returns the transaction in ctx, or the pool.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// storageError maps driver errors onto AppErrors.
func storageError(operation string, err error) error {
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NewNotFoundError(operation)
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.NewConflictError(operation + " already exists").WithCause(err)
	}
	return errors.NewStorageError(operation, err)
}

// Connect opens a pool and pings it. Attempts are retried with exponential
// backoff behind a circuit breaker so a down database fails fast once the
// breaker opens.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_DATABASE_URL", "database url cannot be parsed").WithCause(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "sar_pipeline"
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "postgres-connect",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	base := cfg.ConnectDelay
	if base <= 0 {
		base = time.Second
	}
	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	var pool *pgxpool.Pool
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
			return base << n
		}),
	)
	err = r.Do(func() error {
		_, err := breaker.Execute(func() (interface{}, error) {
			p, err := pgxpool.NewWithConfig(ctx, poolCfg)
			if err != nil {
				return nil, err
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return nil, err
			}
			pool = p
			return nil, nil
		})
		if err != nil {
			logger.Warn("Database connection attempt failed",
				zap.String("breaker_state", breaker.State().String()),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, errors.NewStorageError("connect", err)
	}

	logger.Info("Database connection pool initialized",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns))
	return pool, nil
}
