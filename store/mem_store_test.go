package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreCreateAndGet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	due := time.Now().Add(time.Hour).UTC()
	err := s.Commit(ctx, PutOp(-1, &Record{ID: "r1", Data: []byte(`{"x":1}`), DueAt: due, Status: "scheduled"}))
	require.NoError(t, err)

	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "scheduled", rec.Status)
}

func TestMemStoreVersionConflict(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	due := time.Now().UTC()

	require.NoError(t, s.Commit(ctx, PutOp(-1, &Record{ID: "r1", Data: []byte("{}"), DueAt: due, Status: "scheduled"})))

	err := s.Commit(ctx, PutOp(-1, &Record{ID: "r1", Data: []byte("{}"), DueAt: due, Status: "scheduled"}))
	assert.ErrorIs(t, err, ErrVersionConflict)

	err = s.Commit(ctx, PutOp(7, &Record{ID: "r1", Data: []byte("{}"), DueAt: due, Status: "scheduled"}))
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemStoreCommitAllOrNothing(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	due := time.Now().UTC()

	require.NoError(t, s.Commit(ctx, PutOp(-1, &Record{ID: "r1", Data: []byte("{}"), DueAt: due, Status: "scheduled"})))

	err := s.Commit(ctx,
		PutOp(1, &Record{ID: "r1", Data: []byte("{}"), DueAt: due, Status: "delivered"}),
		PutOp(-1, &Record{ID: "r1", Data: []byte("{}"), DueAt: due, Status: "scheduled"}), // r1 already exists, conflicts
	)
	assert.ErrorIs(t, err, ErrVersionConflict)

	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "scheduled", rec.Status, "partial commit must not have applied")
}

func TestMemStoreScanDueBefore(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Commit(ctx, PutOp(-1, &Record{ID: "early", Data: []byte("{}"), DueAt: now.Add(-time.Minute), Status: "scheduled"})))
	require.NoError(t, s.Commit(ctx, PutOp(-1, &Record{ID: "late", Data: []byte("{}"), DueAt: now.Add(time.Hour), Status: "scheduled"})))

	ids, err := s.ScanDueBefore(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, ids)
}

func TestMemStoreScanByStatus(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Commit(ctx, PutOp(-1, &Record{ID: "a", Data: []byte("{}"), DueAt: now, Status: "sent"})))
	require.NoError(t, s.Commit(ctx, PutOp(-1, &Record{ID: "b", Data: []byte("{}"), DueAt: now, Status: "scheduled"})))

	ids, err := s.ScanByStatus(ctx, "sent", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestMemStoreScanAckDeadlineBefore(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := now.Add(-time.Minute)

	require.NoError(t, s.Commit(ctx, PutOp(-1, &Record{ID: "a", Data: []byte("{}"), DueAt: now, Status: "sent", AckDeadline: &deadline})))

	ids, err := s.ScanAckDeadlineBefore(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestMemStoreDelete(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Commit(ctx, PutOp(-1, &Record{ID: "a", Data: []byte("{}"), DueAt: now, Status: "scheduled"})))
	require.NoError(t, s.Commit(ctx, DeleteOp("a", 1)))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
