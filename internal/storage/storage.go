package storage

import (
	"context"
	"time"

	"github.com/pagerapp/pushgate/internal/models"
)

// QueueMetrics is the per-status job census exposed for observability.
type QueueMetrics struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Storage is the durable job queue plus the recipient directory the
// dispatch layer reads. Enqueue errors are surfaced to callers; all
// other queue transitions are driven by the worker pool.
type Storage interface {
	// Jobs
	EnqueueJob(ctx context.Context, job *models.NotificationJob) error
	GetJob(ctx context.Context, id string) (*models.NotificationJob, error)
	// LeaseJobs marks up to limit eligible jobs active and returns them.
	// Eligible means waiting, with no future next_attempt_at, ordered by
	// priority (high first) then age. Leased jobs carry a lease expiry;
	// a job whose lease lapses without an ack is reclaimable.
	LeaseJobs(ctx context.Context, limit int, leaseTimeout time.Duration) ([]models.NotificationJob, error)
	AckJob(ctx context.Context, id string) error
	// RetryJob re-queues the job after delay and bumps attempt_count.
	RetryJob(ctx context.Context, id string, delay time.Duration, lastError string) error
	// FailJob moves the job to its terminal failed state, recording the
	// attempt that produced the failure.
	FailJob(ctx context.Context, id string, lastError string) error
	ReclaimExpiredLeases(ctx context.Context) (int64, error)
	// PruneJobs applies retention: completed jobs past ttl or beyond the
	// newest keepMax, failed jobs past failedTTL.
	PruneJobs(ctx context.Context, completedTTL time.Duration, keepMax int, failedTTL time.Duration) (int64, error)
	QueueMetrics(ctx context.Context) (*QueueMetrics, error)

	// Recipients
	UpsertRecipient(ctx context.Context, r *models.Recipient) error
	GetRecipient(ctx context.Context, userID string) (*models.Recipient, error)
	ClearLiveActivityToken(ctx context.Context, userID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
