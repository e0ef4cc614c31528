package scheduler

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Mutator is the primitive status changer: the only writer allowed to modify
// a job after creation. Every mutation is persisted before it becomes
// visible, and callers must adopt the returned instance.
type Mutator struct {
	store  interfaces.JobStore
	events interfaces.EventService
	logger arbor.ILogger
}

// NewMutator creates the primitive status changer
func NewMutator(store interfaces.JobStore, events interfaces.EventService, logger arbor.ILogger) *Mutator {
	return &Mutator{
		store:  store,
		events: events,
		logger: logger,
	}
}

// ChangeStatus moves a job along one edge of the lifecycle graph, applying
// any extra mutations atomically with the status change. The input job is
// never modified: a clone is mutated, persisted, and returned.
func (m *Mutator) ChangeStatus(ctx context.Context, job *models.Job, next models.JobStatus, mutations ...func(*models.Job)) (*models.Job, error) {
	if !job.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s for job %s", ErrIllegalTransition, job.Status, next, job.ID)
	}

	updated := job.Clone()
	for _, mutate := range mutations {
		mutate(updated)
	}
	updated.Status = next

	if err := m.store.Store(ctx, updated); err != nil {
		return nil, err
	}

	m.logger.Debug().
		Str("job_id", updated.ID).
		Str("from", string(job.Status)).
		Str("to", string(next)).
		Msg("Job status changed")

	m.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobStatusChange, Payload: updated.Snapshot()})
	return updated, nil
}

// Persist writes a job whose non-status state changed, such as a continuation
// fold, and publishes the mutation snapshot
func (m *Mutator) Persist(ctx context.Context, job *models.Job) error {
	if err := m.store.Store(ctx, job); err != nil {
		return err
	}
	m.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobStatusChange, Payload: job.Snapshot()})
	return nil
}
