package scheduler

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// JobQueue is the bounded per-activity ready buffer. Writes beyond the bound
// spill jobs to the store with the suspended flag set; reads drain the
// in-memory buffer first and reload suspended jobs on demand. The default
// queue (empty activity type) is unbounded and never suspends.
//
// Write and Read are safe from any goroutine; all state transitions are
// serialized on a single mutex, and exactly one parked reader is woken per
// admitted item. FIFO holds within the buffer, among parked readers, and
// across suspended reload batches (CreatedUTC, then id).
type JobQueue struct {
	config      models.ActivityConfiguration
	store       interfaces.JobStore
	events      interfaces.EventService
	recoverable *RecoverableAction
	logger      arbor.ILogger

	// excludeTypes lists the activity types owned by dedicated queues; only
	// the default queue carries it, for suspended reload scoping
	excludeTypes []string

	mu             sync.Mutex
	buffer         []*models.Job
	waiters        []chan *models.Job
	suspendedCount int
	initialized    bool
	reloading      bool
	closed         bool
}

// NewJobQueue creates an uninitialized queue. excludeTypes is meaningful only
// for the default queue and scopes its view of the suspended pool.
func NewJobQueue(config models.ActivityConfiguration, store interfaces.JobStore, events interfaces.EventService, recoverable *RecoverableAction, logger arbor.ILogger, excludeTypes []string) *JobQueue {
	return &JobQueue{
		config:       config,
		store:        store,
		events:       events,
		recoverable:  recoverable,
		logger:       logger,
		excludeTypes: excludeTypes,
	}
}

// ActivityType returns the activity type this queue serves; empty for the
// default queue
func (q *JobQueue) ActivityType() string {
	return q.config.ActivityType
}

// Initialize admits boot candidates and primes the suspended counter. It
// partitions candidates into jobs this queue owns and the remainder, admits
// up to the queue bound, and returns the remainder for the next queue in the
// boot chain. Matching jobs beyond the bound are dropped from the return
// value: any not already flagged are marked suspended and stored, and all of
// them reload on drain.
// A second call fails with ErrAlreadyInitialized.
func (q *JobQueue) Initialize(ctx context.Context, candidates []*models.Job) ([]*models.Job, error) {
	q.mu.Lock()
	if q.initialized {
		q.mu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	q.initialized = true
	q.mu.Unlock()

	var matching, remainder []*models.Job
	for _, job := range candidates {
		if q.owns(job) {
			matching = append(matching, job)
		} else {
			remainder = append(remainder, job)
		}
	}

	admitted := matching
	if q.config.Bounded() && len(matching) > q.config.MaxQueueLength {
		admitted = matching[:q.config.MaxQueueLength]
		// Overflow not yet flagged is spilled now so the count below sees it
		for _, job := range matching[q.config.MaxQueueLength:] {
			if job.Suspended {
				continue
			}
			job.Suspended = true
			if err := q.store.Store(ctx, job); err != nil {
				q.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job suspension at initialization")
				q.events.Publish(ctx, interfaces.Event{Type: interfaces.EventSuspendDrift, Payload: job.Snapshot()})
			}
		}
	}

	count, err := q.countSuspended(ctx)
	if err != nil {
		// The boot-time status scan is the safety net for a miscount
		q.logger.Warn().Err(err).Str("activity_type", q.config.ActivityType).Msg("Failed to count suspended jobs at initialization")
		count = 0
	}

	q.mu.Lock()
	q.buffer = append(q.buffer, admitted...)
	q.suspendedCount = count
	q.wakeLocked()
	q.mu.Unlock()

	q.logger.Debug().
		Str("activity_type", q.config.ActivityType).
		Int("admitted", len(admitted)).
		Int("suspended", count).
		Msg("Queue initialized")

	return remainder, nil
}

// Write admits the job to the in-memory buffer, or spills it to the store
// when the buffer is at its bound or the suspended pool is still draining.
// Write never blocks the caller. A failed suspension store is swallowed (the
// job is already durable from earlier states and is recovered by the
// boot-time status scan) but published as drift for operators.
func (q *JobQueue) Write(ctx context.Context, job *models.Job) error {
	q.mu.Lock()
	if !q.initialized {
		q.mu.Unlock()
		return ErrNotInitialized
	}
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	if !q.config.Bounded() || (len(q.buffer) < q.config.MaxQueueLength && q.suspendedCount == 0) {
		q.buffer = append(q.buffer, job)
		q.wakeLocked()
		q.mu.Unlock()
		return nil
	}

	q.suspendedCount++
	q.mu.Unlock()

	job.Suspended = true
	if err := q.store.Store(ctx, job); err != nil {
		q.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("activity_type", q.config.ActivityType).
			Msg("Failed to persist job suspension")
		q.events.Publish(ctx, interfaces.Event{Type: interfaces.EventSuspendDrift, Payload: job.Snapshot()})
		return nil
	}

	q.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobSuspended, Payload: job.Snapshot()})
	return nil
}

// Read returns the next ready job. When the buffer is empty it reloads a
// batch from the suspended pool; when that too is empty the caller parks
// until a Write admits an item, the context is cancelled, or the queue
// closes with ErrQueueClosed.
func (q *JobQueue) Read(ctx context.Context) (*models.Job, error) {
	for {
		q.mu.Lock()
		if !q.initialized {
			q.mu.Unlock()
			return nil, ErrNotInitialized
		}
		if len(q.buffer) > 0 {
			job := q.buffer[0]
			q.buffer = q.buffer[1:]
			q.mu.Unlock()
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		reload := q.suspendedCount > 0
		q.mu.Unlock()

		if reload && q.reloadSuspended(ctx) {
			continue
		}

		job, err := q.park(ctx)
		if err != nil || job != nil {
			return job, err
		}
		// woken with nothing delivered; re-check state
	}
}

// Close wakes every parked reader with ErrQueueClosed and rejects further
// writes. Buffered jobs remain readable until drained.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}

// Len returns the current in-memory buffer size
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// SuspendedCount returns the queue's view of its suspended pool
func (q *JobQueue) SuspendedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.suspendedCount
}

func (q *JobQueue) owns(job *models.Job) bool {
	return q.config.IsDefault() || job.ActivityType == q.config.ActivityType
}

func (q *JobQueue) countSuspended(ctx context.Context) (int, error) {
	if q.config.IsDefault() {
		return q.store.CountSuspendedExcept(ctx, q.excludeTypes)
	}
	return q.store.CountSuspended(ctx, q.config.ActivityType)
}

func (q *JobQueue) loadSuspended(ctx context.Context, max int) ([]*models.Job, error) {
	if q.config.IsDefault() {
		return q.store.LoadSuspendedExcept(ctx, q.excludeTypes, max)
	}
	return q.store.LoadSuspended(ctx, q.config.ActivityType, max)
}

// reloadSuspended drains up to one buffer's worth of suspended jobs back into
// memory. Load failures are retried once per read attempt; a still-failing
// load leaves the pool untouched and the read parks. Store failures while
// clearing the suspended flag are logged and ignored: the job stays visible.
func (q *JobQueue) reloadSuspended(ctx context.Context) bool {
	q.mu.Lock()
	n := q.suspendedCount
	if n == 0 || q.reloading {
		// A concurrent reader already reloads; this one parks and is woken
		// when the batch lands
		q.mu.Unlock()
		return false
	}
	q.reloading = true
	if q.config.Bounded() && n > q.config.MaxQueueLength {
		n = q.config.MaxQueueLength
	}
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.reloading = false
		q.mu.Unlock()
	}()

	jobs, err := q.loadSuspended(ctx, n)
	if err != nil {
		q.logger.Warn().
			Err(err).
			Str("activity_type", q.config.ActivityType).
			Msg("Suspended reload failed, retrying")
		jobs, err = q.loadSuspended(ctx, n)
		if err != nil {
			q.logger.Warn().
				Err(err).
				Str("activity_type", q.config.ActivityType).
				Msg("Suspended reload failed again, parking reader")
			return false
		}
	}

	if len(jobs) == 0 {
		// Counter drifted ahead of the store; resync so reads can park
		q.mu.Lock()
		q.suspendedCount = 0
		q.mu.Unlock()
		return false
	}

	for _, job := range jobs {
		job.Suspended = false
		j := job
		if err := q.recoverable.Attempt(ctx, q.config.ActivityType, func() error { return q.store.Store(ctx, j) }); err != nil {
			q.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to clear suspended flag, job stays visible")
		}
	}

	q.mu.Lock()
	q.suspendedCount -= len(jobs)
	if q.suspendedCount < 0 {
		q.suspendedCount = 0
	}
	q.buffer = append(q.buffer, jobs...)
	q.wakeLocked()
	q.mu.Unlock()

	q.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventQueueReloaded,
		Payload: map[string]interface{}{
			"activity_type": q.config.ActivityType,
			"reloaded":      len(jobs),
		},
	})
	return true
}

// park suspends the caller until an item is delivered or the queue closes.
// Returns (nil, nil) when the caller should re-check queue state.
func (q *JobQueue) park(ctx context.Context) (*models.Job, error) {
	q.mu.Lock()
	if len(q.buffer) > 0 || q.closed {
		// State moved while the reload lock was dropped
		q.mu.Unlock()
		return nil, nil
	}
	ch := make(chan *models.Job, 1)
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.cancelWaiter(ch)
		return nil, ctx.Err()
	case job, ok := <-ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return job, nil
	}
}

// wakeLocked hands buffered items to parked readers in FIFO order, one item
// per reader. Caller holds the mutex.
func (q *JobQueue) wakeLocked() {
	for len(q.waiters) > 0 && len(q.buffer) > 0 {
		ch := q.waiters[0]
		q.waiters = q.waiters[1:]
		job := q.buffer[0]
		q.buffer = q.buffer[1:]
		ch <- job
	}
}

// cancelWaiter removes a parked reader; when delivery raced the cancellation
// the delivered job is pushed back to the buffer head
func (q *JobQueue) cancelWaiter(ch chan *models.Job) {
	q.mu.Lock()
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			q.mu.Unlock()
			return
		}
	}
	q.mu.Unlock()

	select {
	case job, ok := <-ch:
		if ok && job != nil {
			q.mu.Lock()
			q.buffer = append([]*models.Job{job}, q.buffer...)
			q.wakeLocked()
			q.mu.Unlock()
		}
	default:
	}
}
