package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/conductor/internal/models"
)

// harness wires the core components over the mock store for transition and
// dispatcher tests. All jobs route into a single unbounded default queue.
type harness struct {
	store       *mockJobStore
	events      *mockEventService
	coordinator *Coordinator
	recoverable *RecoverableAction
	mutator     *Mutator
	router      *Router
	queue       *JobQueue
	dispatcher  *ContinuationDispatcher
	liveness    *ContinuationLiveness
	end         *EndTransition
	poisoned    *PoisonedTransition
	failed      *FailedTransition
	waiting     *WaitingForChildrenTransition
}

func newHarness(t *testing.T, policy PolicyLookup) *harness {
	t.Helper()

	h := &harness{
		store:  newMockJobStore(),
		events: newMockEventService(),
	}
	logger := testLogger()

	if policy == nil {
		policy = testPolicy(2)
	}

	h.coordinator = NewCoordinator(logger)
	h.recoverable = NewRecoverableAction(h.store, h.events, logger, policy, 2, time.Millisecond)
	h.mutator = NewMutator(h.store, h.events, logger)
	h.queue = NewJobQueue(models.DefaultActivityConfiguration(""), h.store, h.events, h.recoverable, logger, nil)
	if _, err := h.queue.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Failed to initialize harness queue: %v", err)
	}
	h.router = NewRouter(h.queue, logger)
	h.dispatcher = NewContinuationDispatcher(h.store, h.mutator, h.router, h.coordinator, h.recoverable, logger)
	h.liveness = NewContinuationLiveness(h.store, h.mutator, h.router, h.dispatcher, h.coordinator, h.recoverable, logger)
	h.end = NewEndTransition(h.mutator, h.recoverable, h.dispatcher, logger)
	h.poisoned = NewPoisonedTransition(h.mutator, h.recoverable, h.dispatcher, logger)
	h.failed = NewFailedTransition(policy, h.mutator, h.recoverable, h.router, h.coordinator, h.poisoned, logger)
	h.waiting = NewWaitingForChildrenTransition(NewConverter(), h.store, h.mutator, h.recoverable, h.dispatcher, h.liveness, h.failed, logger)
	return h
}

// runningJob seeds a running job into the store
func (h *harness) runningJob(activityType string) *models.Job {
	job := models.NewJob(activityType, "Run")
	job.Status = models.JobStatusRunning
	job.DispatchCount = 1
	h.store.put(job)
	return job
}

// waitFor polls until cond holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
