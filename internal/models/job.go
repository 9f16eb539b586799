package models

import "time"

type JobKind string

const (
	KindAlert           JobKind = "alert"
	KindSilent          JobKind = "silent"
	KindLiveUpdateStart JobKind = "liveupdate_start"
)

type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type JobPriority int

const (
	PriorityLow  JobPriority = 0
	PriorityHigh JobPriority = 1
)

// PriorityFor maps a job kind to its queue priority class: alert and
// live-update jobs are user-visible and jump ahead of background syncs.
func PriorityFor(kind JobKind) JobPriority {
	if kind == KindSilent {
		return PriorityLow
	}
	return PriorityHigh
}

// NotificationJob is one unit of push delivery work. Exactly one of
// AlertPayload / LiveUpdatePayload is set, depending on Kind.
type NotificationJob struct {
	ID           string      `json:"id"`
	Kind         JobKind     `json:"kind"`
	TargetUserID string      `json:"target_user_id"`
	Priority     JobPriority `json:"priority"`

	AlertPayload      *AlertPayload      `json:"alert_payload,omitempty"`
	LiveUpdatePayload *LiveUpdatePayload `json:"liveupdate_payload,omitempty"`

	Status        JobStatus  `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LeaseExpires  *time.Time `json:"lease_expires,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
