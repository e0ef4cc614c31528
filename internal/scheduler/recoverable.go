package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// PolicyLookup resolves the scheduling policy for an activity type
type PolicyLookup func(activityType string) models.ActivityConfiguration

// RecoverableAction wraps a pair (durable mutation, in-memory side effect).
// The mutation is retried with bounded exponential backoff; the side effect
// runs at most once, and only after the mutation succeeded. The attempt
// budget is per activity type: each ActivityConfiguration surfaces it as
// MaxPoisonedRetries, with the scheduler's RecoveryAttempts as the fallback.
// After exhaustion a poison marker is recorded against the originating job
// and the error is swallowed from the coordinator's perspective: the
// returned error exists so a multi-step transition can stop early, never to
// propagate further.
type RecoverableAction struct {
	store            interfaces.JobStore
	events           interfaces.EventService
	logger           arbor.ILogger
	policy           PolicyLookup
	fallbackAttempts int
	baseDelay        time.Duration
}

// NewRecoverableAction creates a recoverable action runner
func NewRecoverableAction(store interfaces.JobStore, events interfaces.EventService, logger arbor.ILogger, policy PolicyLookup, fallbackAttempts int, baseDelay time.Duration) *RecoverableAction {
	if fallbackAttempts <= 0 {
		fallbackAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &RecoverableAction{
		store:            store,
		events:           events,
		logger:           logger,
		policy:           policy,
		fallbackAttempts: fallbackAttempts,
		baseDelay:        baseDelay,
	}
}

// attempts resolves the retry budget for an activity type
func (r *RecoverableAction) attempts(activityType string) int {
	if r.policy != nil {
		if n := r.policy(activityType).MaxPoisonedRetries; n > 0 {
			return n
		}
	}
	return r.fallbackAttempts
}

// Run executes body under the job's retry budget, then invokes then exactly
// once on success. body must be idempotent: it may execute several times.
func (r *RecoverableAction) Run(ctx context.Context, job *models.Job, body func() error, then func()) error {
	if err := r.Attempt(ctx, job.ActivityType, body); err != nil {
		r.markPoisoned(ctx, job.ID, err)
		return err
	}
	if then != nil {
		then()
	}
	return nil
}

// Attempt retries body under the activity type's backoff budget without
// recording a poison marker. Used where the contract says failures are
// logged and ignored, such as clearing the suspended flag on queue reload.
func (r *RecoverableAction) Attempt(ctx context.Context, activityType string, body func() error) error {
	maxAttempts := r.attempts(activityType)
	delay := r.baseDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = body()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrIllegalTransition) {
			return lastErr
		}
		if attempt < maxAttempts {
			r.logger.Warn().
				Err(lastErr).
				Str("activity_type", activityType).
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Str("delay", delay.String()).
				Msg("Recoverable action failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return lastErr
}

// markPoisoned records a best-effort poison marker on the job whose mutation
// could not be persisted, and publishes it so operators can detect the drift
func (r *RecoverableAction) markPoisoned(ctx context.Context, jobID string, cause error) {
	r.logger.Error().
		Err(cause).
		Str("job_id", jobID).
		Msg("Recoverable action exhausted all attempts, recording poison marker")

	job, err := r.store.Load(ctx, jobID)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job for poison marker")
		return
	}

	job.PoisonRetryCount++
	job.LastError = cause.Error()
	if err := r.store.Store(ctx, job); err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist poison marker")
		return
	}

	r.events.Publish(ctx, interfaces.Event{Type: interfaces.EventPoisonMarker, Payload: job.Snapshot()})
}
