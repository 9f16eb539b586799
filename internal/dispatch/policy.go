// Package dispatch decides which notification shape a domain event
// becomes and owns the live-update fallback policy.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagerapp/pushgate/internal/delivery"
	"github.com/pagerapp/pushgate/internal/gateway"
	"github.com/pagerapp/pushgate/internal/models"
)

// Directory is the recipient-lookup collaborator (user storage).
type Directory interface {
	GetRecipient(ctx context.Context, userID string) (*models.Recipient, error)
}

// ClearTokenFunc is the cleanup hook registered by the user-storage
// collaborator: it forgets a dead push-to-start token.
type ClearTokenFunc func(ctx context.Context, userID string) error

// Queue is the enqueue surface of the job queue.
type Queue interface {
	EnqueueJob(ctx context.Context, job *models.NotificationJob) error
}

// Policy is the entry point the domain logic calls. Enqueue errors
// propagate to callers; delivery outcomes never do.
type Policy struct {
	queue      Queue
	transport  gateway.Transport
	directory  Directory
	clearToken ClearTokenFunc
	bundleID   string
	log        zerolog.Logger
}

func NewPolicy(queue Queue, transport gateway.Transport, directory Directory, bundleID string, log zerolog.Logger) *Policy {
	return &Policy{
		queue:     queue,
		transport: transport,
		directory: directory,
		bundleID:  bundleID,
		log:       log,
	}
}

// RegisterClearTokenFunc installs the live-activity token cleanup hook.
func (p *Policy) RegisterClearTokenFunc(fn ClearTokenFunc) {
	p.clearToken = fn
}

// NotifyAlert enqueues a regular alert notification.
func (p *Policy) NotifyAlert(ctx context.Context, userID, title, body string, data map[string]string) error {
	rec, err := p.lookup(ctx, userID)
	if err != nil {
		return err
	}
	job := newJob(models.KindAlert, userID)
	job.AlertPayload = &models.AlertPayload{
		DeviceToken: rec.DeviceToken,
		Title:       title,
		Body:        body,
		Sound:       "default",
		Data:        data,
	}
	return p.enqueue(ctx, job)
}

// NotifySilent enqueues a background sync push. Best effort: the
// caller may ignore the error for broadcast fan-out.
func (p *Policy) NotifySilent(ctx context.Context, userID string, data map[string]string) error {
	rec, err := p.lookup(ctx, userID)
	if err != nil {
		return err
	}
	job := newJob(models.KindSilent, userID)
	job.AlertPayload = &models.AlertPayload{
		DeviceToken:      rec.DeviceToken,
		ContentAvailable: true,
		Data:             data,
	}
	return p.enqueue(ctx, job)
}

// MessageEvent describes one delivered chat message.
type MessageEvent struct {
	SenderName    string
	Text          string
	MessageID     string
	MessageIndex  int
	TotalMessages int
	IsDemo        bool
}

// SendMessageNotification prefers a live-update push when the recipient
// has a plausible push-to-start token, falling back to a regular alert
// when that token turns out to be dead. The fallback, and the token
// cleanup that precedes it, happen at most once per call.
//
// The live-update decision is made on the first send attempt: a dead
// token falls back immediately, while a transient failure hands the job
// to the queue for backoff retries instead of downgrading the
// notification.
func (p *Policy) SendMessageNotification(ctx context.Context, userID string, ev MessageEvent) error {
	rec, err := p.lookup(ctx, userID)
	if err != nil {
		return err
	}

	if !rec.HasLiveActivityToken() {
		return p.messageAlert(ctx, userID, ev)
	}

	job := newJob(models.KindLiveUpdateStart, userID)
	job.LiveUpdatePayload = &models.LiveUpdatePayload{
		PushToStartToken: rec.LiveActivityToken,
		State: models.ContentState{
			Sender:        ev.SenderName,
			Message:       models.TruncateMessage(ev.Text),
			Timestamp:     time.Now().Unix(),
			IsDemo:        ev.IsDemo,
			MessageIndex:  ev.MessageIndex,
			TotalMessages: ev.TotalMessages,
		},
		AlertTitle: ev.SenderName,
		AlertBody:  models.TruncateMessage(ev.Text),
		MessageID:  ev.MessageID,
	}

	payload, err := delivery.BuildLiveUpdatePayload(job.LiveUpdatePayload)
	if err != nil {
		return fmt.Errorf("build live-update payload: %w", err)
	}

	resp, sendErr := p.transport.Send(ctx, rec.LiveActivityToken, payload, delivery.HeadersFor(job.Kind, p.bundleID))
	switch {
	case sendErr != nil:
		// Transient transport failure: queue the job for retries, keep
		// the live-update shape.
		p.log.Warn().Err(sendErr).Str("user_id", userID).Msg("live-update first attempt failed, queueing for retry")
		job.AttemptCount = 1
		next := time.Now().UTC().Add(delivery.BackoffDelay(1, delivery.DefaultBackoffBase))
		job.NextAttemptAt = &next
		return p.enqueue(ctx, job)

	case resp.Accepted():
		p.log.Info().Str("user_id", userID).Msg("live-update push accepted")
		return nil

	case resp.TokenInvalid():
		p.log.Info().
			Str("user_id", userID).
			Str("reason", resp.Reason).
			Int("status", resp.StatusCode).
			Msg("push-to-start token rejected, falling back to alert")
		if p.clearToken != nil {
			if err := p.clearToken(ctx, userID); err != nil {
				p.log.Error().Err(err).Str("user_id", userID).Msg("failed to clear live-activity token")
			}
		}
		return p.messageAlert(ctx, userID, ev)

	default:
		// Gateway said try later: hand the job to the queue.
		p.log.Warn().
			Str("user_id", userID).
			Int("status", resp.StatusCode).
			Str("reason", resp.Reason).
			Msg("live-update first attempt rejected, queueing for retry")
		job.AttemptCount = 1
		next := time.Now().UTC().Add(delivery.BackoffDelay(1, delivery.DefaultBackoffBase))
		job.NextAttemptAt = &next
		return p.enqueue(ctx, job)
	}
}

// HandleDeadLiveToken is the worker-pool hook for live-update jobs
// whose push-to-start token is rejected during queue retries: clear the
// token and enqueue a regular alert carrying the same message, so the
// user is still notified.
func (p *Policy) HandleDeadLiveToken(ctx context.Context, job *models.NotificationJob) {
	if p.clearToken != nil {
		if err := p.clearToken(ctx, job.TargetUserID); err != nil {
			p.log.Error().Err(err).Str("user_id", job.TargetUserID).Msg("failed to clear live-activity token")
		}
	}
	if job.LiveUpdatePayload == nil {
		return
	}
	state := job.LiveUpdatePayload.State
	err := p.NotifyAlert(ctx, job.TargetUserID, state.Sender, state.Message, map[string]string{
		"type":      "MESSAGE",
		"messageId": job.LiveUpdatePayload.MessageID,
	})
	if err != nil {
		p.log.Error().Err(err).Str("user_id", job.TargetUserID).Msg("failed to enqueue fallback alert")
	}
}

// FriendRequestReceived notifies the target of a new friend request.
func (p *Policy) FriendRequestReceived(ctx context.Context, userID, fromName string) error {
	return p.NotifyAlert(ctx, userID, "Friend request", fromName+" wants to be your friend", map[string]string{
		"type": "FRIEND_REQUEST",
		"from": fromName,
	})
}

// FriendRequestAccepted notifies the original requester.
func (p *Policy) FriendRequestAccepted(ctx context.Context, userID, byName string) error {
	return p.NotifyAlert(ctx, userID, "Friend request accepted", byName+" accepted your friend request", map[string]string{
		"type": "FRIEND_ACCEPTED",
		"from": byName,
	})
}

// StatusChanged broadcasts an online/offline flip to a friend list as
// silent pushes. Per-friend failures are logged, not propagated.
func (p *Policy) StatusChanged(ctx context.Context, userID string, friendIDs []string, online bool) {
	data := map[string]string{
		"type":   "STATUS",
		"userId": userID,
		"online": strconv.FormatBool(online),
	}
	for _, friendID := range friendIDs {
		if err := p.NotifySilent(ctx, friendID, data); err != nil {
			p.log.Warn().Err(err).Str("friend_id", friendID).Msg("status broadcast skipped for friend")
		}
	}
}

func (p *Policy) messageAlert(ctx context.Context, userID string, ev MessageEvent) error {
	return p.NotifyAlert(ctx, userID, ev.SenderName, models.TruncateMessage(ev.Text), map[string]string{
		"type":      "MESSAGE",
		"messageId": ev.MessageID,
	})
}

func (p *Policy) lookup(ctx context.Context, userID string) (*models.Recipient, error) {
	rec, err := p.directory.GetRecipient(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup recipient %s: %w", userID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("recipient %s not found", userID)
	}
	if rec.DeviceToken == "" {
		return nil, fmt.Errorf("recipient %s has no device token", userID)
	}
	return rec, nil
}

func (p *Policy) enqueue(ctx context.Context, job *models.NotificationJob) error {
	if err := p.queue.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s job: %w", job.Kind, err)
	}
	return nil
}

func newJob(kind models.JobKind, userID string) *models.NotificationJob {
	now := time.Now().UTC()
	return &models.NotificationJob{
		ID:           models.NewID("job"),
		Kind:         kind,
		TargetUserID: userID,
		Priority:     models.PriorityFor(kind),
		Status:       models.JobWaiting,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
