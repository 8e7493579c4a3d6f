package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func beginFake(tx *fakeTx) func(context.Context) (pgx.Tx, error) {
	return func(context.Context) (pgx.Tx, error) { return tx, nil }
}

func TestInTransactionBoundsStatements(t *testing.T) {
	tx := &fakeTx{}

	err := inTransaction(context.Background(), 20*time.Millisecond, beginFake(tx), func(ctx context.Context, _ pgx.Tx) error {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		// Stands in for a row lock wait that never returns on its own.
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestInTransactionCommits(t *testing.T) {
	tx := &fakeTx{}

	err := inTransaction(context.Background(), time.Second, beginFake(tx), func(context.Context, pgx.Tx) error {
		return nil
	})

	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestInTransactionBeginFailure(t *testing.T) {
	boom := errors.New("connection refused")

	err := inTransaction(context.Background(), time.Second,
		func(context.Context) (pgx.Tx, error) { return nil, boom },
		func(context.Context, pgx.Tx) error {
			t.Fatal("fn must not run without a transaction")
			return nil
		})

	assert.ErrorIs(t, err, boom)
}
