package scheduler

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// ContinuationDispatcher advances continuation trees: it readies and routes
// the child jobs a waiting parent depends on, folds terminal child outcomes
// back into the parent, and republishes the parent when its continuation is
// satisfied.
type ContinuationDispatcher struct {
	store       interfaces.JobStore
	mutator     *Mutator
	router      *Router
	coordinator *Coordinator
	recoverable *RecoverableAction
	logger      arbor.ILogger
}

// NewContinuationDispatcher creates a dispatcher
func NewContinuationDispatcher(store interfaces.JobStore, mutator *Mutator, router *Router, coordinator *Coordinator, recoverable *RecoverableAction, logger arbor.ILogger) *ContinuationDispatcher {
	return &ContinuationDispatcher{
		store:       store,
		mutator:     mutator,
		router:      router,
		coordinator: coordinator,
		recoverable: recoverable,
		logger:      logger,
	}
}

// Dispatch walks the parent's continuation, marks the pending leaves Ready,
// persists the parent, and routes each referenced child that is still in
// Created state. Children past Created have been dispatched before: the
// Created guard makes repeated invocations idempotent. known primes the
// child lookup with freshly created jobs, avoiding a store round-trip.
//
// Dispatch order follows declaration order in the tree; Any branches are all
// dispatched at once. Returns the readied leaves for telemetry. Must run
// inside the parent's coordinator lane.
func (d *ContinuationDispatcher) Dispatch(ctx context.Context, parent *models.Job, known ...*models.Job) ([]*models.Continuation, error) {
	if parent.Continuation == nil {
		return nil, nil
	}
	pending := parent.Continuation.PendingContinuations()
	if len(pending) == 0 {
		return nil, nil
	}

	for _, leaf := range pending {
		leaf.Status = models.ContinuationReady
	}
	if err := d.recoverable.Run(ctx, parent, func() error {
		return d.mutator.Persist(ctx, parent)
	}, nil); err != nil {
		return nil, err
	}

	knownByID := make(map[string]*models.Job, len(known))
	for _, job := range known {
		knownByID[job.ID] = job
	}

	readied := make([]*models.Continuation, 0, len(pending))
	var firstErr error
	for _, leaf := range pending {
		child := knownByID[leaf.ID]
		if child == nil {
			loaded, err := d.store.Load(ctx, leaf.ID)
			if err != nil {
				d.logger.Error().
					Err(err).
					Str("parent_id", parent.ID).
					Str("child_id", leaf.ID).
					Msg("Failed to load continuation child")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			child = loaded
		}

		if child.Status != models.JobStatusCreated {
			// Already dispatched by an earlier invocation
			continue
		}

		// A Created job is not yet visible to any queue or worker, so the
		// parent's lane is its only writer until the route below.
		routed := child
		err := d.recoverable.Run(ctx, child, func() error {
			updated, err := d.mutator.ChangeStatus(ctx, routed, models.JobStatusReady)
			if err == nil {
				routed = updated
			}
			return err
		}, func() {
			if err := d.router.Route(ctx, routed); err != nil {
				// Child is durable and Ready; liveness re-routes it
				d.logger.Error().
					Err(err).
					Str("child_id", routed.ID).
					Msg("Failed to route readied child")
			}
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
		readied = append(readied, leaf)
	}

	return readied, firstErr
}

// NotifyChildTerminal folds a terminal child outcome into the parent's
// continuation under the parent's coordinator lane, then either finishes the
// parent or dispatches the next pending children (sequence advance)
func (d *ContinuationDispatcher) NotifyChildTerminal(child *models.Job) {
	if child.ParentID == nil {
		return
	}
	parentID := *child.ParentID
	childID := child.ID
	completed := child.Status == models.JobStatusCompleted

	d.coordinator.Run(parentID, func() {
		// Outlives the dispatch that triggered it
		ctx := context.Background()

		parent, err := d.store.Load(ctx, parentID)
		if err != nil {
			d.logger.Error().Err(err).Str("parent_id", parentID).Msg("Failed to load parent for child completion")
			return
		}
		if parent.Status != models.JobStatusWaitingForChildren || parent.Continuation == nil {
			return
		}

		updated := parent.Clone()
		if !updated.Continuation.Fold(childID, completed) {
			// Leaf already settled, e.g. a losing Any branch
			return
		}

		if err := d.recoverable.Run(ctx, updated, func() error {
			return d.mutator.Persist(ctx, updated)
		}, nil); err != nil {
			return
		}

		switch updated.Continuation.Status {
		case models.ContinuationCompleted:
			d.finishParent(ctx, updated, true)
		case models.ContinuationFailed:
			d.finishParent(ctx, updated, false)
		default:
			if _, err := d.Dispatch(ctx, updated); err != nil {
				// Periodic liveness sweep re-verifies stuck parents
				d.logger.Warn().Err(err).Str("parent_id", parentID).Msg("Continuation advance dispatch failed")
			}
		}
	})
}

// finishParent moves a satisfied parent WaitingForChildren -> ReadyToComplete
// -> Completed, or a failed one to ReadyToPoison -> Poisoned, and propagates
// the outcome up the tree. Runs inside the parent's coordinator lane.
func (d *ContinuationDispatcher) finishParent(ctx context.Context, parent *models.Job, satisfied bool) {
	updated := parent
	step := func(next models.JobStatus, mutations ...func(*models.Job)) bool {
		err := d.recoverable.Run(ctx, updated, func() error {
			j, err := d.mutator.ChangeStatus(ctx, updated, next, mutations...)
			if err == nil {
				updated = j
			}
			return err
		}, nil)
		return err == nil
	}

	// The continuation is only attached while the parent waits
	clearContinuation := func(j *models.Job) {
		j.Continuation = nil
	}

	if satisfied {
		if updated.Status == models.JobStatusWaitingForChildren && !step(models.JobStatusReadyToComplete, clearContinuation) {
			return
		}
		if !step(models.JobStatusCompleted) {
			return
		}
	} else {
		if updated.Status == models.JobStatusWaitingForChildren && !step(models.JobStatusReadyToPoison, clearContinuation, func(j *models.Job) {
			j.LastError = "continuation failed"
		}) {
			return
		}
		if !step(models.JobStatusPoisoned) {
			return
		}
	}

	d.NotifyChildTerminal(updated)
}
