package scheduler

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// EndTransition completes a job whose execution returned a value:
// Running -> ReadyToComplete -> Completed, each edge persisted through the
// recoverable action, then the parent (if any) is notified.
type EndTransition struct {
	mutator     *Mutator
	recoverable *RecoverableAction
	dispatcher  *ContinuationDispatcher
	logger      arbor.ILogger
}

// NewEndTransition creates the completion strategy
func NewEndTransition(mutator *Mutator, recoverable *RecoverableAction, dispatcher *ContinuationDispatcher, logger arbor.ILogger) *EndTransition {
	return &EndTransition{mutator: mutator, recoverable: recoverable, dispatcher: dispatcher, logger: logger}
}

// Run moves a running job to Completed. Must run inside the job's
// coordinator lane.
func (t *EndTransition) Run(ctx context.Context, job *models.Job) {
	updated := job
	if err := t.recoverable.Run(ctx, job, func() error {
		j, err := t.mutator.ChangeStatus(ctx, updated, models.JobStatusReadyToComplete)
		if err == nil {
			updated = j
		}
		return err
	}, nil); err != nil {
		return
	}
	t.Finish(ctx, updated)
}

// Finish completes a job already in ReadyToComplete; also used at boot to
// finish half-done completions found by the status scan
func (t *EndTransition) Finish(ctx context.Context, job *models.Job) {
	updated := job
	if err := t.recoverable.Run(ctx, job, func() error {
		j, err := t.mutator.ChangeStatus(ctx, updated, models.JobStatusCompleted)
		if err == nil {
			updated = j
		}
		return err
	}, nil); err != nil {
		return
	}
	t.dispatcher.NotifyChildTerminal(updated)
}

// PoisonedTransition retires a job that exhausted its retry budget:
// -> ReadyToPoison -> Poisoned, then the parent is notified of the failure.
type PoisonedTransition struct {
	mutator     *Mutator
	recoverable *RecoverableAction
	dispatcher  *ContinuationDispatcher
	logger      arbor.ILogger
}

// NewPoisonedTransition creates the poison strategy
func NewPoisonedTransition(mutator *Mutator, recoverable *RecoverableAction, dispatcher *ContinuationDispatcher, logger arbor.ILogger) *PoisonedTransition {
	return &PoisonedTransition{mutator: mutator, recoverable: recoverable, dispatcher: dispatcher, logger: logger}
}

// Run poisons a job from Running or Failed. Must run inside the job's
// coordinator lane.
func (t *PoisonedTransition) Run(ctx context.Context, job *models.Job, cause error) {
	t.logger.Warn().
		Str("job_id", job.ID).
		Str("activity_type", job.ActivityType).
		Int("retry_on_count", job.RetryOnCount).
		Err(cause).
		Msg("Job exceeded retry budget, poisoning")

	updated := job
	if err := t.recoverable.Run(ctx, job, func() error {
		j, err := t.mutator.ChangeStatus(ctx, updated, models.JobStatusReadyToPoison, func(j *models.Job) {
			if cause != nil {
				j.LastError = cause.Error()
			}
		})
		if err == nil {
			updated = j
		}
		return err
	}, nil); err != nil {
		return
	}
	t.Finish(ctx, updated)
}

// Finish poisons a job already in ReadyToPoison
func (t *PoisonedTransition) Finish(ctx context.Context, job *models.Job) {
	updated := job
	if err := t.recoverable.Run(ctx, job, func() error {
		j, err := t.mutator.ChangeStatus(ctx, updated, models.JobStatusPoisoned)
		if err == nil {
			updated = j
		}
		return err
	}, nil); err != nil {
		return
	}
	t.dispatcher.NotifyChildTerminal(updated)
}

// FailedTransition handles an execution error: the job re-enters Ready after
// the configured delay while retries remain, and is poisoned otherwise.
type FailedTransition struct {
	policy      PolicyLookup
	mutator     *Mutator
	recoverable *RecoverableAction
	router      *Router
	coordinator *Coordinator
	poisoned    *PoisonedTransition
	logger      arbor.ILogger
}

// NewFailedTransition creates the failure strategy
func NewFailedTransition(policy PolicyLookup, mutator *Mutator, recoverable *RecoverableAction, router *Router, coordinator *Coordinator, poisoned *PoisonedTransition, logger arbor.ILogger) *FailedTransition {
	return &FailedTransition{
		policy:      policy,
		mutator:     mutator,
		recoverable: recoverable,
		router:      router,
		coordinator: coordinator,
		poisoned:    poisoned,
		logger:      logger,
	}
}

// Run records the failure and schedules a retry or hands over to the poison
// transition. Must run inside the job's coordinator lane.
func (t *FailedTransition) Run(ctx context.Context, job *models.Job, cause error) {
	cfg := t.policy(job.ActivityType)
	if job.RetryOnCount >= cfg.MaxRetries {
		t.poisoned.Run(ctx, job, cause)
		return
	}

	updated := job
	if err := t.recoverable.Run(ctx, job, func() error {
		j, err := t.mutator.ChangeStatus(ctx, updated, models.JobStatusFailed, func(j *models.Job) {
			j.RetryOnCount++
			j.RetryDelay = cfg.RetryDelay
			if cause != nil {
				j.LastError = cause.Error()
			}
		})
		if err == nil {
			updated = j
		}
		return err
	}, nil); err != nil {
		return
	}

	t.logger.Warn().
		Err(cause).
		Str("job_id", job.ID).
		Int("retry_on_count", updated.RetryOnCount).
		Int("max_retries", cfg.MaxRetries).
		Str("retry_delay", cfg.RetryDelay.String()).
		Msg("Job failed, retry scheduled")

	t.scheduleRetry(updated, cfg.RetryDelay)
}

// Retry re-enters a Failed job into Ready and routes it; also used at boot
// for Failed jobs whose delay elapsed while the process was down
func (t *FailedTransition) Retry(ctx context.Context, job *models.Job) {
	updated := job
	t.recoverable.Run(ctx, job, func() error {
		j, err := t.mutator.ChangeStatus(ctx, updated, models.JobStatusReady)
		if err == nil {
			updated = j
		}
		return err
	}, func() {
		if err := t.router.Route(ctx, updated); err != nil {
			t.logger.Error().Err(err).Str("job_id", updated.ID).Msg("Failed to route retried job")
		}
	})
}

// scheduleRetry re-dispatches the job after its delay. The timer is best
// effort: a crash during the delay leaves the job in Failed, and the boot
// recovery scan re-enters it.
func (t *FailedTransition) scheduleRetry(job *models.Job, delay time.Duration) {
	if delay <= 0 {
		t.coordinator.Run(job.ID, func() {
			t.Retry(context.Background(), job)
		})
		return
	}
	time.AfterFunc(delay, func() {
		t.coordinator.Run(job.ID, func() {
			t.Retry(context.Background(), job)
		})
	})
}

// WaitingForChildrenTransition blocks a running parent on the activity graph
// it returned: children are persisted in one atomic batch, the parent moves
// to WaitingForChildren with the continuation attached, and the dispatcher
// readies the first wave of children.
type WaitingForChildrenTransition struct {
	converter   *Converter
	store       interfaces.JobStore
	mutator     *Mutator
	recoverable *RecoverableAction
	dispatcher  *ContinuationDispatcher
	liveness    *ContinuationLiveness
	failed      *FailedTransition
	logger      arbor.ILogger
}

// NewWaitingForChildrenTransition creates the child-spawning strategy
func NewWaitingForChildrenTransition(converter *Converter, store interfaces.JobStore, mutator *Mutator, recoverable *RecoverableAction, dispatcher *ContinuationDispatcher, liveness *ContinuationLiveness, failed *FailedTransition, logger arbor.ILogger) *WaitingForChildrenTransition {
	return &WaitingForChildrenTransition{
		converter:   converter,
		store:       store,
		mutator:     mutator,
		recoverable: recoverable,
		dispatcher:  dispatcher,
		liveness:    liveness,
		failed:      failed,
		logger:      logger,
	}
}

// Run converts the activity graph and blocks the parent on it. Steps 1-3
// (convert, persist children, flip parent status) must complete in order; a
// dispatch failure afterwards triggers liveness recovery rather than undoing
// prior work. Must run inside the parent's coordinator lane.
func (t *WaitingForChildrenTransition) Run(ctx context.Context, parent *models.Job, activity *models.Activity) {
	converted, err := t.converter.Convert(parent, activity)
	if err != nil {
		// Invalid graph from user code surfaces as a failure on the parent
		t.logger.Warn().Err(err).Str("job_id", parent.ID).Msg("Activity conversion failed")
		t.failed.Run(ctx, parent, err)
		return
	}

	if err := t.recoverable.Run(ctx, parent, func() error {
		return t.store.StoreBatch(ctx, converted.Jobs)
	}, nil); err != nil {
		return
	}

	updated := parent
	if err := t.recoverable.Run(ctx, parent, func() error {
		j, err := t.mutator.ChangeStatus(ctx, updated, models.JobStatusWaitingForChildren, func(j *models.Job) {
			j.Continuation = converted.Continuation
		})
		if err == nil {
			updated = j
		}
		return err
	}, nil); err != nil {
		return
	}

	t.logger.Debug().
		Str("job_id", parent.ID).
		Int("children", len(converted.Jobs)).
		Msg("Parent waiting for children")

	if _, err := t.dispatcher.Dispatch(ctx, updated, converted.Jobs...); err != nil {
		t.logger.Warn().
			Err(err).
			Str("job_id", parent.ID).
			Msg("Continuation dispatch failed, scheduling liveness verification")
		t.liveness.Schedule(parent.ID)
	}
}
