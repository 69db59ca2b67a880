package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRunUpsertIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := &Run{ID: NewID(), LocationID: "loc-1", RunDate: "2026-07-31", Status: "processing", StartedAt: time.Now()}
	require.NoError(t, store.UpsertRun(ctx, run))
	require.NoError(t, store.UpsertRun(ctx, run))

	got, err := store.GetRunByLocationDate(ctx, "loc-1", "2026-07-31")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
}

func TestMemoryStoreGetRunByLocationDateNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetRunByLocationDate(context.Background(), "missing", "2026-07-31")
	require.Error(t, err)
}

func TestMemoryStoreGradeUpsertKeyedByTransactionID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	txID := NewID()
	tx := &Transaction{ID: txID, RunID: "run-1", StartedAt: time.Now(), EndedAt: time.Now(), Kind: "order"}
	require.NoError(t, store.UpsertTransaction(ctx, tx))

	g1 := &Grade{ID: NewID(), TransactionID: txID, Score: 0.5}
	require.NoError(t, store.UpsertGrade(ctx, g1))
	g2 := &Grade{ID: NewID(), TransactionID: txID, Score: 0.9}
	require.NoError(t, store.UpsertGrade(ctx, g2))

	grades, err := store.ListGradesByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, 0.9, grades[0].Score)
}

func TestMemoryStoreAssignTransactionWorker(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	txID := NewID()
	require.NoError(t, store.UpsertTransaction(ctx, &Transaction{ID: txID, RunID: "run-1", StartedAt: time.Now(), EndedAt: time.Now(), Kind: "order"}))
	require.NoError(t, store.AssignTransactionWorker(ctx, txID, "worker-1", 0.42, "voice"))

	txs, err := store.ListTransactionsByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.NotNil(t, txs[0].WorkerID)
	assert.Equal(t, "worker-1", *txs[0].WorkerID)
	assert.InDelta(t, 0.42, *txs[0].WorkerConfidence, 0.0001)
}
