package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	txs       []*fakeTx
	commitErr []error
	opts      pgx.TxOptions
}

func (b *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	tx := &fakeTx{}
	if n := len(b.txs); n < len(b.commitErr) {
		tx.commitErr = b.commitErr[n]
	}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func TestWithTxCommits(t *testing.T) {
	b := &fakeBeginner{}
	require.NoError(t, WithTx(context.Background(), b, func(pgx.Tx) error { return nil }))
	require.Len(t, b.txs, 1)
	assert.True(t, b.txs[0].committed)
	assert.Equal(t, pgx.RepeatableRead, b.opts.IsoLevel)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{}
	boom := errors.New("boom")
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.Len(t, b.txs, 1)
	assert.True(t, b.txs[0].rolledBack)
}

func TestWithTxRetriesSerializationFailure(t *testing.T) {
	conflict := &pgconn.PgError{Code: pgSerializationFailure}
	b := &fakeBeginner{commitErr: []error{conflict}}
	runs := 0
	err := WithTx(context.Background(), b, func(pgx.Tx) error {
		runs++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.True(t, b.txs[1].committed)
}

func TestWithTxGivesUp(t *testing.T) {
	deadlock := &pgconn.PgError{Code: pgDeadlockDetected}
	b := &fakeBeginner{}
	runs := 0
	err := WithTx(context.Background(), b, func(pgx.Tx) error {
		runs++
		return deadlock
	})
	assert.ErrorIs(t, err, deadlock)
	assert.Equal(t, MaxTxAttempts, runs)
}

func TestWithTxIsoUsesRequestedLevel(t *testing.T) {
	b := &fakeBeginner{}
	require.NoError(t, WithTxIso(context.Background(), b, pgx.ReadCommitted, func(pgx.Tx) error { return nil }))
	assert.Equal(t, pgx.ReadCommitted, b.opts.IsoLevel)
	assert.True(t, b.txs[0].committed)
}
