package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/records"
	apperrors "beacon/pkg/errors"
	"beacon/pkg/models"
)

func newRecord(id, fingerprint string, status records.Status) *records.Record {
	return &records.Record{
		ID:          id,
		Fingerprint: fingerprint,
		ContentHash: "content-" + id,
		Event:       createTestEvent(models.EventJobAssigned, "job-1", "staff-1"),
		Status:      status,
	}
}

func TestRecordsRepository_InsertAndGet(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := records.NewRepository(infra.MongoDB)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, newRecord("rec-1", "fp-1", records.StatusQueued)))

	got, err := repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "fp-1", got.Fingerprint)
	assert.Equal(t, records.StatusQueued, got.Status)
	assert.Equal(t, "staff-1", got.Event.RecipientID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRecordsRepository_GetMissingIsNotFound(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := records.NewRepository(infra.MongoDB)

	_, err := repo.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecordsRepository_DuplicateInsertConflicts(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := records.NewRepository(infra.MongoDB)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, newRecord("rec-1", "fp-1", records.StatusQueued)))

	err := repo.Insert(ctx, newRecord("rec-1", "fp-1", records.StatusQueued))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestRecordsRepository_MarkIfNotTerminal(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := records.NewRepository(infra.MongoDB)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, newRecord("rec-1", "fp-1", records.StatusQueued)))

	attempts := 1
	marked, err := repo.MarkIfNotTerminal(ctx, "rec-1", records.Update{
		Status:   records.StatusSent,
		Attempts: &attempts,
		AppendAttempt: &records.Attempt{
			Attempt: 1,
			Channel: "push",
			Status:  "sent",
			At:      time.Now().UTC(),
		},
		DeliveredChannel: "push",
	})
	require.NoError(t, err)
	assert.True(t, marked)

	got, err := repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, records.StatusSent, got.Status)
	assert.Equal(t, "push", got.DeliveredChannel)
	require.Len(t, got.History, 1)

	// The record is terminal now; a late transition is refused.
	marked, err = repo.MarkIfNotTerminal(ctx, "rec-1", records.Update{
		Status: records.StatusRetryScheduled,
	})
	require.NoError(t, err)
	assert.False(t, marked)

	got, err = repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, records.StatusSent, got.Status)
}

func TestRecordsRepository_ClearNextRetry(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := records.NewRepository(infra.MongoDB)
	ctx := context.Background()

	record := newRecord("rec-1", "fp-1", records.StatusRetryScheduled)
	next := time.Now().Add(time.Minute).UTC()
	record.NextRetryAt = &next
	require.NoError(t, repo.Insert(ctx, record))

	marked, err := repo.MarkIfNotTerminal(ctx, "rec-1", records.Update{
		Status:         records.StatusSent,
		ClearNextRetry: true,
	})
	require.NoError(t, err)
	require.True(t, marked)

	got, err := repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Nil(t, got.NextRetryAt)
}

func TestRecordsRepository_ListByStatus(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := records.NewRepository(infra.MongoDB)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, newRecord("rec-1", "fp-1", records.StatusDeadLetter)))
	require.NoError(t, repo.Insert(ctx, newRecord("rec-2", "fp-2", records.StatusDeadLetter)))
	require.NoError(t, repo.Insert(ctx, newRecord("rec-3", "fp-3", records.StatusQueued)))

	out, err := repo.ListByStatus(ctx, records.StatusDeadLetter, 10)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRecordsRepository_SweepRemovesOldTerminalRecords(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := records.NewRepository(infra.MongoDB)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, newRecord("rec-sent", "fp-1", records.StatusSent)))
	require.NoError(t, repo.Insert(ctx, newRecord("rec-queued", "fp-2", records.StatusQueued)))

	// Cutoff in the future: every terminal record qualifies, live ones do not.
	swept, err := repo.Sweep(ctx, time.Now().Add(time.Hour).UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	_, err = repo.Get(ctx, "rec-sent")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = repo.Get(ctx, "rec-queued")
	assert.NoError(t, err)
}

func TestRecordsRepository_EnsureIndexes(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := records.NewRepository(infra.MongoDB)

	require.NoError(t, repo.EnsureIndexes(context.Background()))
	// Idempotent on re-run.
	require.NoError(t, repo.EnsureIndexes(context.Background()))
}
