package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txAttempts bounds whole-transaction retries on conflict aborts.
const txAttempts = 3

type beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx runs fn inside a Read Committed transaction. Read Committed
// lets the document counter upsert serialize on its row lock rather
// than abort on every concurrent bump; writes that need a stable read
// take explicit row locks. Deadlocks and serialization failures abort
// the whole transaction, so the retry wraps the full begin/fn/commit
// cycle. fn can run more than once and must keep its side effects
// inside the transaction.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withTx(ctx, pool, fn)
}

func withTx(ctx context.Context, db beginner, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err := runTx(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("platform/db: tx conflict retries exhausted: %w", lastErr)
}

// runTx executes one begin/fn/commit cycle. The deferred rollback is a
// no-op after a successful commit.
func runTx(ctx context.Context, db beginner, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, optionally on a specific constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	pgErr := pgError(err)
	if pgErr == nil || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
