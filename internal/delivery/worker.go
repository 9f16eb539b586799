package delivery

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagerapp/pushgate/internal/gateway"
	"github.com/pagerapp/pushgate/internal/models"
	"github.com/pagerapp/pushgate/internal/storage"
)

// Disposition is the worker's verdict on one processing attempt. The
// pool inspects it to choose ack, retry, or terminal failure instead of
// driving control flow through panics.
type Disposition int

const (
	DispositionAck Disposition = iota
	DispositionRetry
	DispositionFail
)

// Result carries the attempt outcome plus the failure detail recorded
// on the job.
type Result struct {
	Disposition  Disposition
	TokenInvalid bool
	Detail       string
}

// DeadTokenHook is invoked when a live-update job dies on an invalid
// push-to-start token, so the dispatch layer can clean up the token and
// fall back to a regular alert.
type DeadTokenHook func(ctx context.Context, job *models.NotificationJob)

type Worker struct {
	store       storage.Storage
	transport   gateway.Transport
	bundleID    string
	maxAttempts int
	backoffBase time.Duration
	onDeadToken DeadTokenHook
	log         zerolog.Logger
}

func NewWorker(store storage.Storage, transport gateway.Transport, bundleID string, maxAttempts int, backoffBase time.Duration, log zerolog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	return &Worker{
		store:       store,
		transport:   transport,
		bundleID:    bundleID,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		log:         log,
	}
}

// SetDeadTokenHook registers the cleanup-and-fallback callback. Called
// once at wiring time, before the pool starts.
func (w *Worker) SetDeadTokenHook(hook DeadTokenHook) {
	w.onDeadToken = hook
}

// Process runs one delivery attempt for a leased job and applies the
// resulting queue transition.
func (w *Worker) Process(ctx context.Context, job models.NotificationJob) {
	res := w.Attempt(ctx, &job)
	attempt := job.AttemptCount + 1

	switch res.Disposition {
	case DispositionAck:
		if err := w.store.AckJob(ctx, job.ID); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to ack job")
			return
		}
		w.log.Info().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Int("attempt", attempt).
			Msg("push delivered")

	case DispositionRetry:
		if attempt >= w.maxAttempts {
			if err := w.store.FailJob(ctx, job.ID, res.Detail); err != nil {
				w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job failed")
				return
			}
			w.log.Warn().
				Str("job_id", job.ID).
				Str("kind", string(job.Kind)).
				Int("attempts", attempt).
				Str("error", res.Detail).
				Msg("push permanently failed")
			return
		}
		delay := BackoffDelay(attempt, w.backoffBase)
		if err := w.store.RetryJob(ctx, job.ID, delay, res.Detail); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to schedule retry")
			return
		}
		w.log.Info().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("error", res.Detail).
			Msg("push scheduled for retry")

	case DispositionFail:
		if err := w.store.FailJob(ctx, job.ID, res.Detail); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job failed")
			return
		}
		w.log.Warn().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Str("error", res.Detail).
			Bool("token_invalid", res.TokenInvalid).
			Msg("push not retryable")

		if res.TokenInvalid && job.Kind == models.KindLiveUpdateStart && w.onDeadToken != nil {
			w.onDeadToken(ctx, &job)
		}
	}
}

// Attempt performs the send for a job without touching queue state.
func (w *Worker) Attempt(ctx context.Context, job *models.NotificationJob) Result {
	payload, token, err := w.buildFor(job)
	if err != nil {
		// Malformed job: retrying cannot fix it.
		return Result{Disposition: DispositionFail, Detail: err.Error()}
	}

	resp, err := w.transport.Send(ctx, token, payload, HeadersFor(job.Kind, w.bundleID))
	if err != nil {
		return Result{Disposition: DispositionRetry, Detail: err.Error()}
	}
	return Classify(resp)
}

func (w *Worker) buildFor(job *models.NotificationJob) ([]byte, string, error) {
	switch job.Kind {
	case models.KindLiveUpdateStart:
		payload, err := BuildLiveUpdatePayload(job.LiveUpdatePayload)
		if err != nil {
			return nil, "", err
		}
		return payload, job.LiveUpdatePayload.PushToStartToken, nil
	default:
		payload, err := BuildAlertPayload(job.AlertPayload)
		if err != nil {
			return nil, "", err
		}
		return payload, job.AlertPayload.DeviceToken, nil
	}
}

// Classify maps a gateway response to a queue disposition: accepted ⇒
// ack, dead token ⇒ terminal, anything else ⇒ transient retry.
func Classify(resp *gateway.Response) Result {
	switch {
	case resp.Accepted():
		return Result{Disposition: DispositionAck}
	case resp.TokenInvalid():
		return Result{
			Disposition:  DispositionFail,
			TokenInvalid: true,
			Detail:       rejectionDetail(resp),
		}
	default:
		return Result{Disposition: DispositionRetry, Detail: rejectionDetail(resp)}
	}
}

func rejectionDetail(resp *gateway.Response) string {
	if resp.Reason != "" {
		return resp.Reason
	}
	return "gateway status " + strconv.Itoa(resp.StatusCode)
}
