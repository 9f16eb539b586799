package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagerapp/pushgate/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newAlertJob(userID string) *models.NotificationJob {
	now := time.Now().UTC()
	return &models.NotificationJob{
		ID:           models.NewID("job"),
		Kind:         models.KindAlert,
		TargetUserID: userID,
		Priority:     models.PriorityHigh,
		AlertPayload: &models.AlertPayload{DeviceToken: "device-token-1", Title: "hi"},
		Status:       models.JobWaiting,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newSilentJob(userID string) *models.NotificationJob {
	job := newAlertJob(userID)
	job.Kind = models.KindSilent
	job.Priority = models.PriorityLow
	job.AlertPayload = &models.AlertPayload{DeviceToken: "device-token-1", ContentAvailable: true}
	return job
}

func TestEnqueueAndGetJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := newAlertJob("u1")
	require.NoError(t, s.EnqueueJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.KindAlert, got.Kind)
	assert.Equal(t, models.JobWaiting, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	require.NotNil(t, got.AlertPayload)
	assert.Equal(t, "device-token-1", got.AlertPayload.DeviceToken)
	assert.Nil(t, got.LiveUpdatePayload)
}

func TestGetJobMissing(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.GetJob(context.Background(), "job_missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLeaseJobsPriorityOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	silent := newSilentJob("u1")
	require.NoError(t, s.EnqueueJob(ctx, silent))
	alert := newAlertJob("u2")
	require.NoError(t, s.EnqueueJob(ctx, alert))

	leased, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	// High-priority alert wins even though the silent job is older.
	assert.Equal(t, alert.ID, leased[0].ID)
	assert.Equal(t, models.JobActive, leased[0].Status)
	require.NotNil(t, leased[0].LeaseExpires)

	// The leased job is no longer eligible.
	leased, err = s.LeaseJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, silent.ID, leased[0].ID)
}

func TestLeaseSkipsFutureRetries(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := newAlertJob("u1")
	future := time.Now().UTC().Add(time.Hour)
	job.NextAttemptAt = &future
	require.NoError(t, s.EnqueueJob(ctx, job))

	leased, err := s.LeaseJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased)
}

func TestAckJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := newAlertJob("u1")
	require.NoError(t, s.EnqueueJob(ctx, job))
	_, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.AckJob(ctx, job.ID))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.LeaseExpires)
}

func TestRetryJobIncrementsAttempts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := newAlertJob("u1")
	require.NoError(t, s.EnqueueJob(ctx, job))

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.RetryJob(ctx, job.ID, 0, "gateway status 503"))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, i, got.AttemptCount)
		assert.Equal(t, models.JobWaiting, got.Status)
		assert.Equal(t, "gateway status 503", got.LastError)
	}
}

func TestFailJobIsTerminal(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := newAlertJob("u1")
	require.NoError(t, s.EnqueueJob(ctx, job))
	require.NoError(t, s.FailJob(ctx, job.ID, "Unregistered"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "Unregistered", got.LastError)
	assert.Equal(t, 1, got.AttemptCount)

	// Failed jobs are never leased again.
	leased, err := s.LeaseJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased)
}

func TestReclaimExpiredLeases(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := newAlertJob("u1")
	require.NoError(t, s.EnqueueJob(ctx, job))

	// Lease with an already-lapsed timeout.
	_, err := s.LeaseJobs(ctx, 1, -time.Second)
	require.NoError(t, err)

	n, err := s.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobWaiting, got.Status)
}

func TestPruneJobsRetention(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	old := newAlertJob("u1")
	require.NoError(t, s.EnqueueJob(ctx, old))
	require.NoError(t, s.AckJob(ctx, old.ID))

	fresh := newAlertJob("u2")
	require.NoError(t, s.EnqueueJob(ctx, fresh))
	require.NoError(t, s.AckJob(ctx, fresh.ID))

	// Zero TTL prunes everything completed; keepMax is not hit here.
	n, err := s.PruneJobs(ctx, 0, 1000, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := s.GetJob(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPruneJobsKeepMax(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		job := newAlertJob("u1")
		require.NoError(t, s.EnqueueJob(ctx, job))
		require.NoError(t, s.AckJob(ctx, job.ID))
	}

	n, err := s.PruneJobs(ctx, time.Hour, 2, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	m, err := s.QueueMetrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.Completed)
}

func TestQueueMetrics(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	waiting := newAlertJob("u1")
	require.NoError(t, s.EnqueueJob(ctx, waiting))

	done := newAlertJob("u2")
	require.NoError(t, s.EnqueueJob(ctx, done))
	require.NoError(t, s.AckJob(ctx, done.ID))

	failed := newAlertJob("u3")
	require.NoError(t, s.EnqueueJob(ctx, failed))
	require.NoError(t, s.FailJob(ctx, failed.ID, "BadDeviceToken"))

	active := newAlertJob("u4")
	require.NoError(t, s.EnqueueJob(ctx, active))
	leased, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	m, err := s.QueueMetrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Waiting)
	assert.EqualValues(t, 1, m.Active)
	assert.EqualValues(t, 1, m.Completed)
	assert.EqualValues(t, 1, m.Failed)
}

func TestRecipientLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &models.Recipient{
		UserID:            "u1",
		DisplayName:       "ABC123",
		DeviceToken:       "device-token-1",
		LiveActivityToken: "live-activity-token-0123456789abcdef",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.UpsertRecipient(ctx, rec))

	got, err := s.GetRecipient(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.HasLiveActivityToken())

	require.NoError(t, s.ClearLiveActivityToken(ctx, "u1"))

	got, err = s.GetRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.LiveActivityToken)
	assert.False(t, got.HasLiveActivityToken())

	// Upsert replaces tokens in place.
	rec.DeviceToken = "device-token-2"
	require.NoError(t, s.UpsertRecipient(ctx, rec))
	got, err = s.GetRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "device-token-2", got.DeviceToken)
}

func TestGetRecipientMissing(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.GetRecipient(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}
