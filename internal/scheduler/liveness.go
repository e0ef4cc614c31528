package scheduler

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// ContinuationLiveness recovers parents stuck after a partial dispatch: a
// crash between persisting readied leaves and routing the children leaves
// the parent waiting on work that either already finished or never started.
// Verify reconciles leaf statuses against the store and pushes the parent
// forward.
type ContinuationLiveness struct {
	store       interfaces.JobStore
	mutator     *Mutator
	router      *Router
	dispatcher  *ContinuationDispatcher
	coordinator *Coordinator
	recoverable *RecoverableAction
	logger      arbor.ILogger
}

// NewContinuationLiveness creates a liveness verifier
func NewContinuationLiveness(store interfaces.JobStore, mutator *Mutator, router *Router, dispatcher *ContinuationDispatcher, coordinator *Coordinator, recoverable *RecoverableAction, logger arbor.ILogger) *ContinuationLiveness {
	return &ContinuationLiveness{
		store:       store,
		mutator:     mutator,
		router:      router,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		recoverable: recoverable,
		logger:      logger,
	}
}

// Schedule enqueues a verification on the parent's coordinator lane
func (l *ContinuationLiveness) Schedule(parentID string) {
	l.coordinator.Run(parentID, func() {
		l.Verify(context.Background(), parentID)
	})
}

// Verify reloads the parent and reconciles Ready leaves: a leaf whose child
// already reached a terminal state is settled, a leaf whose child is still
// Created is re-dispatched. When the continuation settles, the parent moves
// to ReadyToComplete or ReadyToPoison and is finished. Must run inside the
// parent's coordinator lane.
func (l *ContinuationLiveness) Verify(ctx context.Context, parentID string) {
	parent, err := l.store.Load(ctx, parentID)
	if err != nil {
		l.logger.Error().Err(err).Str("parent_id", parentID).Msg("Liveness verification failed to load parent")
		return
	}
	if parent.Status != models.JobStatusWaitingForChildren || parent.Continuation == nil {
		return
	}

	updated := parent.Clone()
	changed := false
	for _, leaf := range updated.Continuation.Leaves() {
		if leaf.Status != models.ContinuationReady {
			continue
		}
		child, err := l.store.Load(ctx, leaf.ID)
		if err != nil {
			l.logger.Warn().Err(err).Str("child_id", leaf.ID).Msg("Liveness verification failed to load child")
			continue
		}

		switch child.Status {
		case models.JobStatusCompleted:
			leaf.Status = models.ContinuationCompleted
			changed = true
		case models.JobStatusPoisoned:
			leaf.Status = models.ContinuationFailed
			changed = true
		case models.JobStatusCreated:
			// Dispatch crashed before routing this child
			routed := child
			l.recoverable.Run(ctx, child, func() error {
				j, err := l.mutator.ChangeStatus(ctx, routed, models.JobStatusReady)
				if err == nil {
					routed = j
				}
				return err
			}, func() {
				if err := l.router.Route(ctx, routed); err != nil {
					l.logger.Error().Err(err).Str("child_id", routed.ID).Msg("Liveness re-route failed")
				}
			})
		}
	}

	if !changed {
		return
	}

	updated.Continuation.Recompute()
	if err := l.recoverable.Run(ctx, updated, func() error {
		return l.mutator.Persist(ctx, updated)
	}, nil); err != nil {
		return
	}

	l.logger.Info().
		Str("parent_id", parentID).
		Str("continuation_status", string(updated.Continuation.Status)).
		Msg("Liveness verification reconciled continuation")

	switch updated.Continuation.Status {
	case models.ContinuationCompleted:
		l.dispatcher.finishParent(ctx, updated, true)
	case models.ContinuationFailed:
		l.dispatcher.finishParent(ctx, updated, false)
	}
}
