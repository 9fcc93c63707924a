package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type stubBeginner struct {
	begins    int
	rollbacks int
	lastOpts  pgx.TxOptions
}

func (b *stubBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.begins++
	b.lastOpts = opts
	return stubTx{rollbacks: &b.rollbacks}, nil
}

type stubTx struct {
	rollbacks *int
}

var _ pgx.Tx = stubTx{}

func (t stubTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t stubTx) Commit(context.Context) error          { return nil }
func (t stubTx) Rollback(context.Context) error {
	*t.rollbacks++
	return nil
}

func (t stubTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t stubTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t stubTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t stubTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t stubTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t stubTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t stubTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t stubTx) Conn() *pgx.Conn                                         { return nil }

func serializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
}

func TestWithTxRetriesSerializationFailure(t *testing.T) {
	pool := &stubBeginner{}
	calls := 0
	err := withTx(context.Background(), pool, func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return serializationFailure()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, pool.begins)
	require.Equal(t, pgx.ReadCommitted, pool.lastOpts.IsoLevel)
}

func TestWithTxRetriesDeadlock(t *testing.T) {
	pool := &stubBeginner{}
	calls := 0
	err := withTx(context.Background(), pool, func(pgx.Tx) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, pool.begins)
}

func TestWithTxBoundsConflictRetries(t *testing.T) {
	pool := &stubBeginner{}
	err := withTx(context.Background(), pool, func(pgx.Tx) error {
		return serializationFailure()
	})
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "40001", pgErr.Code)
	require.Equal(t, txAttempts, pool.begins)
	require.Equal(t, txAttempts, pool.rollbacks)
}

func TestWithTxDoesNotRetryOtherErrors(t *testing.T) {
	pool := &stubBeginner{}
	boom := errors.New("boom")
	err := withTx(context.Background(), pool, func(pgx.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, pool.begins)
}
