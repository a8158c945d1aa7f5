// Package db provides pooled, validated, retrying access to the relational
// store that backs every pipeline stage and the Resolve scoring engine. It
// is the single source of truth for document/chunk/knowledge-graph state;
// the job queue (pkg/queue) and blob store (pkg/blob) hold no authoritative
// state of their own.
package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgxpool.Pool bounded to a fixed size range: 1-5 for stage
// workers, 2-10 for anything reading the graph back out.
type Pool struct {
	pool *pgxpool.Pool
}

// Config bounds the pool and the borrow-retry policy.
type Config struct {
	DSN          string
	MinConns     int32
	MaxConns     int32
	RetryAttempts int
	RetryBackoff time.Duration
}

// DefaultConfig returns the documented defaults for a stage worker.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:           dsn,
		MinConns:      1,
		MaxConns:      5,
		RetryAttempts: 2,
		RetryBackoff:  500 * time.Millisecond,
	}
}

// Open creates a connection pool. Every borrowed connection is validated
// with a trivial round-trip (handled by pgxpool's HealthCheckPeriod plus an
// explicit Ping on acquire, below) before use.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", err)
	}
	pgxCfg.MinConns = cfg.MinConns
	pgxCfg.MaxConns = cfg.MaxConns
	pgxCfg.HealthCheckPeriod = 30 * time.Second
	pgxCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		// A connection that fails the round-trip is destroyed and another acquired.
		return conn.Ping(ctx) == nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// Close releases all pooled connections.
func (p *Pool) Close() { p.pool.Close() }

// txKey carries an in-flight transaction through a context, the same
// pattern as a context-scoped *sql.Tx, adapted to pgx.Tx.
type txKey struct{}

// TxFromContext extracts the active transaction, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func contextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Querier is the subset of pgx query methods a store needs, satisfied by
// both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Q returns the transaction bound to ctx, or the pool itself if none is.
func (p *Pool) Q(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return p.pool
}

// isConnectionClassError reports whether err looks like a transient
// connection-level failure worth retrying, as opposed to a query error
// (constraint violation, bad SQL, no rows) that retrying cannot fix.
func isConnectionClassError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is Connection Exception in the Postgres error code table.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	if errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// WithRetry runs fn, retrying up to cfg.RetryAttempts additional times (at
// least once, even when cfg.RetryAttempts is below 1) with
// cfg.RetryBackoff between attempts, but only for connection-class errors.
func WithRetry(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts+1; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(cfg.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isConnectionClassError(err) {
			return err
		}
	}
	return fmt.Errorf("db: retries exhausted: %w", lastErr)
}

// WithTx opens a transaction, runs fn with it bound to the context, and
// commits on success or rolls back on error/panic. Stage advancement
// (§4.4 of the pipeline) relies on this committing before the next-queue
// push happens.
func (p *Pool) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(contextWithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("db: rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("db: commit tx: %w", err)
	}
	return nil
}
