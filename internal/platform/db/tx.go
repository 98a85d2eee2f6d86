package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// WriteTxOptions pairs with SELECT ... FOR UPDATE: a statement blocked on a row
	// lock re-reads the committed row instead of failing with 40001.
	WriteTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	// ReadOnlyTxOptions gives multi-statement reads a single snapshot.
	ReadOnlyTxOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

// WithTx executes a function within a read-committed transaction.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withTx(ctx, pool, WriteTxOptions, true, fn)
}

// WithReadOnlyTx runs fn in a READ ONLY transaction that is always rolled back.
func WithReadOnlyTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withTx(ctx, pool, ReadOnlyTxOptions, false, fn)
}

func withTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, commit bool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if !commit {
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// WithTimeout bounds a store call. A non-positive timeout leaves ctx untouched.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
