// Package storetest holds behaviour tests shared by every FileRecordStore backend.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustler/internal/models"
	"rustler/internal/store"
)

// Factory returns an empty, migrated store. It registers its own cleanup.
type Factory func(t *testing.T) store.FileRecordStore

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewRecord builds a pending record created at the given instant.
func NewRecord(createdAt time.Time) *models.FileRecord {
	id := uuid.NewString()
	return &models.FileRecord{
		ID:           id,
		ObjectKey:    "uploads/" + id + "/report.txt",
		OriginalName: "report.txt",
		SizeBytes:    42,
		ContentType:  "text/plain",
		Status:       models.StatusPending,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// assertEdge checks that a transition a store just performed is an edge of
// the record state machine.
func assertEdge(t *testing.T, from, to models.FileStatus) {
	t.Helper()
	assert.True(t, models.CanTransition(from, to), "store performed %s -> %s", from, to)
}

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("ClaimLifecycle", func(t *testing.T) { testClaimLifecycle(t, newStore(t)) })
	t.Run("ClaimRequiresExpectedState", func(t *testing.T) { testClaimRequiresExpectedState(t, newStore(t)) })
	t.Run("ReclaimAfterLeaseExpiry", func(t *testing.T) { testReclaimAfterLeaseExpiry(t, newStore(t)) })
	t.Run("ReleaseAndFail", func(t *testing.T) { testReleaseAndFail(t, newStore(t)) })
	t.Run("UpdatedAtMonotonic", func(t *testing.T) { testUpdatedAtMonotonic(t, newStore(t)) })
	t.Run("RenewClaim", func(t *testing.T) { testRenewClaim(t, newStore(t)) })
	t.Run("MarkEnqueued", func(t *testing.T) { testMarkEnqueued(t, newStore(t)) })
	t.Run("ReconcileCandidates", func(t *testing.T) { testReconcileCandidates(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	rec := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, rec))

	got, err := s.GetFileRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.ObjectKey, got.ObjectKey)
	assert.Equal(t, "report.txt", got.OriginalName)
	assert.EqualValues(t, 42, got.SizeBytes)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.ErrorDetail)
	assert.Nil(t, got.ClaimedUntil)
	assert.True(t, base.Equal(got.CreatedAt))

	err = s.CreateFileRecord(ctx, rec)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.GetFileRecord(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testClaimLifecycle(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	rec := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, rec))

	now := base.Add(time.Second)
	claimed, err := s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: rec.ID, ExpectedStatus: models.StatusPending, ExpectedAttempt: 0,
		Now: now, LeaseUntil: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, claimed.Status)
	assertEdge(t, rec.Status, claimed.Status)
	assert.Equal(t, 1, claimed.AttemptCount)
	require.NotNil(t, claimed.ClaimedUntil)
	assert.True(t, now.Add(time.Minute).Equal(*claimed.ClaimedUntil))

	done, err := s.CompleteFileRecord(ctx, store.CompleteParams{
		ID: rec.ID, Attempt: 1, Checksum: "abc123",
		Result: json.RawMessage(`{"size":42}`), Now: now.Add(time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assertEdge(t, claimed.Status, done.Status)
	require.NotNil(t, done.Checksum)
	assert.Equal(t, "abc123", *done.Checksum)
	assert.JSONEq(t, `{"size":42}`, string(done.Result))
	assert.Nil(t, done.ClaimedUntil)

	// Terminal rows reject every further transition.
	assert.False(t, models.CanTransition(done.Status, models.StatusFailed))
	_, err = s.CompleteFileRecord(ctx, store.CompleteParams{ID: rec.ID, Attempt: 1, Checksum: "x", Now: now})
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = s.FailFileRecord(ctx, store.FailParams{
		ID: rec.ID, ExpectedStatus: models.StatusProcessing, ExpectedAttempt: 1, Detail: "late", Now: now,
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: uuid.NewString(), ExpectedStatus: models.StatusPending, Now: now, LeaseUntil: now,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testClaimRequiresExpectedState(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	rec := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, rec))

	now := base.Add(time.Second)
	params := store.ClaimParams{
		ID: rec.ID, ExpectedStatus: models.StatusPending, ExpectedAttempt: 0,
		Now: now, LeaseUntil: now.Add(time.Minute),
	}
	_, err := s.ClaimFileRecord(ctx, params)
	require.NoError(t, err)

	// A second worker that read the same pending snapshot loses.
	_, err = s.ClaimFileRecord(ctx, params)
	assert.ErrorIs(t, err, store.ErrConflict)

	// A live lease cannot be taken over.
	_, err = s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: rec.ID, ExpectedStatus: models.StatusProcessing, ExpectedAttempt: 1,
		Now: now.Add(30 * time.Second), LeaseUntil: now.Add(2 * time.Minute),
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetFileRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptCount)
}

func testReclaimAfterLeaseExpiry(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	rec := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, rec))

	now := base.Add(time.Second)
	_, err := s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: rec.ID, ExpectedStatus: models.StatusPending, ExpectedAttempt: 0,
		Now: now, LeaseUntil: now.Add(time.Minute),
	})
	require.NoError(t, err)

	later := now.Add(2 * time.Minute)
	reclaimed, err := s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: rec.ID, ExpectedStatus: models.StatusProcessing, ExpectedAttempt: 1,
		Now: later, LeaseUntil: later.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, reclaimed.Status)
	assertEdge(t, models.StatusProcessing, reclaimed.Status)
	assert.Equal(t, 2, reclaimed.AttemptCount)

	// The crashed worker's claim is stale and can no longer commit.
	_, err = s.CompleteFileRecord(ctx, store.CompleteParams{ID: rec.ID, Attempt: 1, Checksum: "old", Now: later})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func testReleaseAndFail(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	rec := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, rec))

	now := base.Add(time.Second)
	_, err := s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: rec.ID, ExpectedStatus: models.StatusPending, ExpectedAttempt: 0,
		Now: now, LeaseUntil: now.Add(time.Minute),
	})
	require.NoError(t, err)

	released, err := s.ReleaseFileRecord(ctx, rec.ID, 1, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, released.Status)
	assertEdge(t, models.StatusProcessing, released.Status)
	assert.Equal(t, 1, released.AttemptCount)
	assert.Nil(t, released.ClaimedUntil)

	_, err = s.ReleaseFileRecord(ctx, rec.ID, 1, now.Add(time.Second))
	assert.ErrorIs(t, err, store.ErrConflict)

	failed, err := s.FailFileRecord(ctx, store.FailParams{
		ID: rec.ID, ExpectedStatus: models.StatusPending, ExpectedAttempt: 1,
		Detail: "retry budget exhausted", Now: now.Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assertEdge(t, released.Status, failed.Status)
	assert.Equal(t, "retry budget exhausted", failed.ErrorDetailString())
}

func testUpdatedAtMonotonic(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	rec := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, rec))

	now := base.Add(time.Minute)
	claimed, err := s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: rec.ID, ExpectedStatus: models.StatusPending, ExpectedAttempt: 0,
		Now: now, LeaseUntil: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, now.Equal(claimed.UpdatedAt))

	// A writer with a lagging clock never moves updated_at backwards.
	released, err := s.ReleaseFileRecord(ctx, rec.ID, 1, base)
	require.NoError(t, err)
	assert.True(t, now.Equal(released.UpdatedAt))
}

func testRenewClaim(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	rec := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, rec))

	now := base.Add(time.Second)
	_, err := s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: rec.ID, ExpectedStatus: models.StatusPending, ExpectedAttempt: 0,
		Now: now, LeaseUntil: now.Add(time.Minute),
	})
	require.NoError(t, err)

	extended := now.Add(5 * time.Minute)
	require.NoError(t, s.RenewClaim(ctx, rec.ID, 1, extended))
	got, err := s.GetFileRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClaimedUntil)
	assert.True(t, extended.Equal(*got.ClaimedUntil))

	assert.ErrorIs(t, s.RenewClaim(ctx, rec.ID, 2, extended), store.ErrConflict)
}

func testMarkEnqueued(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	rec := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, rec))

	at := base.Add(time.Minute)
	require.NoError(t, s.MarkEnqueued(ctx, rec.ID, at))
	got, err := s.GetFileRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastEnqueuedAt)
	assert.True(t, at.Equal(*got.LastEnqueuedAt))

	assert.ErrorIs(t, s.MarkEnqueued(ctx, uuid.NewString(), at), store.ErrNotFound)
}

func testReconcileCandidates(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()

	stalePending := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, stalePending))

	freshPending := NewRecord(base.Add(9 * time.Minute))
	require.NoError(t, s.CreateFileRecord(ctx, freshPending))

	recentlyEnqueued := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, recentlyEnqueued))
	require.NoError(t, s.MarkEnqueued(ctx, recentlyEnqueued.ID, base.Add(8*time.Minute)))

	abandoned := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, abandoned))
	_, err := s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: abandoned.ID, ExpectedStatus: models.StatusPending, Now: base, LeaseUntil: base.Add(time.Minute),
	})
	require.NoError(t, err)

	active := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, active))
	_, err = s.ClaimFileRecord(ctx, store.ClaimParams{
		ID: active.ID, ExpectedStatus: models.StatusPending, Now: base, LeaseUntil: base.Add(time.Hour),
	})
	require.NoError(t, err)

	done := NewRecord(base)
	require.NoError(t, s.CreateFileRecord(ctx, done))
	_, err = s.FailFileRecord(ctx, store.FailParams{
		ID: done.ID, ExpectedStatus: models.StatusPending, Detail: "bad", Now: base,
	})
	require.NoError(t, err)

	cutoff := base.Add(5 * time.Minute)
	got, err := s.ListReconcileCandidates(ctx, store.ReconcileQuery{
		PendingBefore: cutoff, LeaseExpiredBefore: cutoff, Limit: 10,
	})
	require.NoError(t, err)

	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{stalePending.ID, abandoned.ID}, ids)

	limited, err := s.ListReconcileCandidates(ctx, store.ReconcileQuery{
		PendingBefore: cutoff, LeaseExpiredBefore: cutoff, Limit: 1,
	})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testList(t *testing.T, s store.FileRecordStore) {
	ctx := context.Background()
	var created []*models.FileRecord
	for i := 0; i < 3; i++ {
		rec := NewRecord(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, s.CreateFileRecord(ctx, rec))
		created = append(created, rec)
	}
	_, err := s.FailFileRecord(ctx, store.FailParams{
		ID: created[0].ID, ExpectedStatus: models.StatusPending, Detail: "bad", Now: base.Add(time.Hour),
	})
	require.NoError(t, err)

	all, err := s.ListFileRecords(ctx, store.ListParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, created[2].ID, all[0].ID, "newest first")

	pending, err := s.ListFileRecords(ctx, store.ListParams{Limit: 10, Statuses: []models.FileStatus{models.StatusPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	failed, err := s.ListFileRecords(ctx, store.ListParams{Limit: 10, Statuses: []models.FileStatus{models.StatusFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ErrorDetailString())

	page, err := s.ListFileRecords(ctx, store.ListParams{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, created[1].ID, page[0].ID)
}
