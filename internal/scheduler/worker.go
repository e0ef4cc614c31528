package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// WorkerPool drives the scheduler loop: workers read ready jobs from the
// queues, hand them to the activity runtime, and apply the transition the
// result calls for. No error escapes a worker; everything is converted to a
// job state change through the transitions.
type WorkerPool struct {
	queues      []*JobQueue
	runtime     interfaces.ActivityRuntime
	coordinator *Coordinator
	mutator     *Mutator
	recoverable *RecoverableAction
	end         *EndTransition
	failed      *FailedTransition
	waiting     *WaitingForChildrenTransition
	workers     int
	stopTimeout time.Duration
	logger      arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a worker pool over the given queues. workers is the
// goroutine count per queue; stopTimeout bounds the shutdown drain.
func NewWorkerPool(queues []*JobQueue, runtime interfaces.ActivityRuntime, coordinator *Coordinator, mutator *Mutator, recoverable *RecoverableAction, end *EndTransition, failed *FailedTransition, waiting *WaitingForChildrenTransition, workers int, stopTimeout time.Duration, logger arbor.ILogger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queues:      queues,
		runtime:     runtime,
		coordinator: coordinator,
		mutator:     mutator,
		recoverable: recoverable,
		end:         end,
		failed:      failed,
		waiting:     waiting,
		workers:     workers,
		stopTimeout: stopTimeout,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	for _, queue := range wp.queues {
		for i := 0; i < wp.workers; i++ {
			wp.wg.Add(1)
			go wp.worker(queue, i)
		}
	}
	wp.logger.Info().
		Int("queues", len(wp.queues)).
		Int("workers_per_queue", wp.workers).
		Msg("Worker pool started")
}

// Stop cancels the read loops and waits up to the stop timeout for in-flight
// jobs to finish their transition. Workers still running after the deadline
// are abandoned; their jobs are persisted as Running and re-enter Ready on
// the next boot. Queues must be closed by the owner before or after this
// call; parked readers exit on either signal.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info().Msg("Worker pool stopped")
	case <-time.After(wp.stopTimeout):
		wp.logger.Warn().
			Str("timeout", wp.stopTimeout.String()).
			Msg("Worker pool stop timed out, abandoning in-flight workers")
	}
}

func (wp *WorkerPool) worker(queue *JobQueue, workerID int) {
	defer wp.wg.Done()

	for {
		job, err := queue.Read(wp.ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) || errors.Is(err, ErrNotInitialized) {
				wp.logger.Debug().
					Int("worker_id", workerID).
					Str("activity_type", queue.ActivityType()).
					Msg("Worker stopped")
				return
			}
			wp.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Msg("Queue read failed")
			continue
		}
		wp.process(job)
	}
}

// process runs one job through the state machine. Execution uses a
// background context: shutdown waits for the transition to land rather than
// cancelling user code mid-flight.
func (wp *WorkerPool) process(job *models.Job) {
	ctx := context.Background()

	var running *models.Job
	wp.coordinator.RunSync(job.ID, func() {
		wp.recoverable.Run(ctx, job, func() error {
			j, err := wp.mutator.ChangeStatus(ctx, job, models.JobStatusRunning, func(j *models.Job) {
				j.DispatchCount++
			})
			if err == nil {
				running = j
			}
			return err
		}, nil)
	})
	if running == nil {
		return
	}

	result := wp.runtime.Execute(ctx, running)

	wp.coordinator.RunSync(running.ID, func() {
		switch {
		case result.Err != nil:
			wp.failed.Run(ctx, running, result.Err)
		case result.Activity != nil:
			wp.waiting.Run(ctx, running, result.Activity)
		default:
			wp.end.Run(ctx, running)
		}
	})
}
