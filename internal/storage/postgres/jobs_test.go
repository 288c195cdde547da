package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firetick/firetick/internal/domain"
)

// claimTx fakes the locking transaction. It records every statement it
// executes; the store under test wraps a nil pool, so any query that escapes
// the transaction panics instead of silently passing.
type claimTx struct {
	pgx.Tx

	jobID      uuid.UUID
	lockErr    error
	queries    []string
	committed  bool
	rolledBack bool
}

func (t *claimTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.queries = append(t.queries, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *claimTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	t.queries = append(t.queries, sql)
	return stubRow{scan: func(dest ...any) error {
		switch len(dest) {
		case 1: // FOR UPDATE NOWAIT lock select
			if t.lockErr != nil {
				return t.lockErr
			}
			*dest[0].(*uuid.UUID) = t.jobID
		case 12: // execution insert RETURNING
			*dest[0].(*uuid.UUID) = uuid.New()
			*dest[1].(*uuid.UUID) = t.jobID
			*dest[2].(*domain.ExecutionStatus) = domain.ExecutionQueued
			*dest[3].(*int) = 1
			*dest[11].(*time.Time) = time.Now()
		}
		return nil
	}}
}

func (t *claimTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *claimTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error { return r.scan(dest...) }

func TestClaimRunsOnLockingTransaction(t *testing.T) {
	store := NewStore(nil)
	jobID := uuid.New()
	tx := &claimTx{jobID: jobID}
	next := time.Now().Add(time.Minute)

	err := store.claimOnTx(context.Background(), tx, jobID, func(ctx context.Context) error {
		if _, err := store.InsertExecution(ctx, jobID, 1); err != nil {
			return err
		}
		return store.AdvanceJob(ctx, jobID, time.Now(), &next)
	})
	require.NoError(t, err)

	require.Len(t, tx.queries, 3)
	assert.Contains(t, tx.queries[0], "FOR UPDATE NOWAIT")
	assert.Contains(t, tx.queries[1], "INSERT INTO job_executions")
	assert.Contains(t, tx.queries[2], "UPDATE jobs")
	assert.True(t, tx.committed)
}

func TestClaimLockContention(t *testing.T) {
	store := NewStore(nil)
	jobID := uuid.New()
	tx := &claimTx{jobID: jobID, lockErr: &pgconn.PgError{Code: pgLockNotAvailable}}

	err := store.claimOnTx(context.Background(), tx, jobID, func(context.Context) error {
		t.Fatal("claim body ran without the row lock")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrLockNotAcquired)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestClaimLockMissingJob(t *testing.T) {
	store := NewStore(nil)
	jobID := uuid.New()
	tx := &claimTx{jobID: jobID, lockErr: pgx.ErrNoRows}

	err := store.claimOnTx(context.Background(), tx, jobID, func(context.Context) error {
		t.Fatal("claim body ran for a missing job")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.False(t, tx.committed)
}

func TestClaimBodyErrorRollsBack(t *testing.T) {
	store := NewStore(nil)
	jobID := uuid.New()
	tx := &claimTx{jobID: jobID}
	boom := errors.New("advance failed")

	err := store.claimOnTx(context.Background(), tx, jobID, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestDBPrefersContextTransaction(t *testing.T) {
	store := NewStore(nil)
	tx := &claimTx{}

	got, ok := store.db(withTx(context.Background(), tx)).(*claimTx)
	require.True(t, ok)
	assert.Same(t, tx, got)

	assert.IsType(t, (*pgxpool.Pool)(nil), store.db(context.Background()))
}
