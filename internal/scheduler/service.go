package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Service is the orchestrator facade: it wires the queues, coordinator,
// transitions and dispatcher together, recovers durable state at boot, and
// exposes the submission ingress.
type Service struct {
	config  *common.Config
	store   interfaces.JobStore
	events  interfaces.EventService
	runtime interfaces.ActivityRuntime
	logger  arbor.ILogger

	coordinator *Coordinator
	recoverable *RecoverableAction
	mutator     *Mutator
	converter   *Converter
	router      *Router
	dispatcher  *ContinuationDispatcher
	liveness    *ContinuationLiveness
	end         *EndTransition
	failed      *FailedTransition
	poisoned    *PoisonedTransition
	waiting     *WaitingForChildrenTransition
	pool        *WorkerPool
	cron        *cron.Cron

	started bool
}

// NewService builds the orchestrator from explicit collaborators. Queues are
// created from the configured activity policies plus an always-present
// default queue.
func NewService(config *common.Config, store interfaces.JobStore, events interfaces.EventService, runtime interfaces.ActivityRuntime, logger arbor.ILogger) *Service {
	s := &Service{
		config:  config,
		store:   store,
		events:  events,
		runtime: runtime,
		logger:  logger,
	}

	s.coordinator = NewCoordinator(logger)
	// Retry budgets come from each activity's MaxPoisonedRetries; the
	// scheduler-level RecoveryAttempts is the fallback for unconfigured types
	s.recoverable = NewRecoverableAction(store, events, logger, config.ActivityConfiguration, config.Scheduler.RecoveryAttempts, config.Scheduler.RecoveryBaseDelay)
	s.mutator = NewMutator(store, events, logger)
	s.converter = NewConverter()

	var typedConfigs []models.ActivityConfiguration
	defaultConfig := models.DefaultActivityConfiguration("")
	for _, ac := range config.Activities {
		if ac.IsDefault() {
			defaultConfig = ac
			continue
		}
		typedConfigs = append(typedConfigs, ac)
	}

	excludeTypes := make([]string, 0, len(typedConfigs))
	for _, ac := range typedConfigs {
		excludeTypes = append(excludeTypes, ac.ActivityType)
	}

	defaultQueue := NewJobQueue(defaultConfig, store, events, s.recoverable, logger, excludeTypes)
	s.router = NewRouter(defaultQueue, logger)
	for _, ac := range typedConfigs {
		s.router.Register(ac.ActivityType, NewJobQueue(ac, store, events, s.recoverable, logger, nil))
	}

	s.dispatcher = NewContinuationDispatcher(store, s.mutator, s.router, s.coordinator, s.recoverable, logger)
	s.liveness = NewContinuationLiveness(store, s.mutator, s.router, s.dispatcher, s.coordinator, s.recoverable, logger)
	s.end = NewEndTransition(s.mutator, s.recoverable, s.dispatcher, logger)
	s.poisoned = NewPoisonedTransition(s.mutator, s.recoverable, s.dispatcher, logger)
	s.failed = NewFailedTransition(config.ActivityConfiguration, s.mutator, s.recoverable, s.router, s.coordinator, s.poisoned, logger)
	s.waiting = NewWaitingForChildrenTransition(s.converter, store, s.mutator, s.recoverable, s.dispatcher, s.liveness, s.failed, logger)
	s.pool = NewWorkerPool(s.router.Queues(), runtime, s.coordinator, s.mutator, s.recoverable, s.end, s.failed, s.waiting, config.Scheduler.Workers, config.Scheduler.ShutdownTimeout, logger)
	s.cron = cron.New()

	return s
}

// Start recovers durable state and launches the scheduler loop:
//  1. Jobs found Running were in flight at the crash; they re-enter Ready
//     for at-least-once redelivery.
//  2. Ready jobs (recovered or not) become queue initialization candidates;
//     each typed queue takes its share, the default queue takes the rest.
//  3. Half-finished ReadyToComplete / ReadyToPoison transitions are driven
//     to their terminal state.
//  4. Failed jobs re-enter Ready (their delay elapsed while down) and
//     WaitingForChildren parents get a liveness verification.
func (s *Service) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("scheduler service already started")
	}
	s.started = true

	candidates, err := s.recoverReady(ctx)
	if err != nil {
		return err
	}

	remainder := candidates
	for _, queue := range s.router.Queues() {
		remainder, err = queue.Initialize(ctx, remainder)
		if err != nil {
			return fmt.Errorf("failed to initialize queue %q: %w", queue.ActivityType(), err)
		}
	}
	if len(remainder) > 0 {
		// The default queue owns everything, so nothing can remain
		s.logger.Warn().Int("count", len(remainder)).Msg("Unrouted boot candidates")
	}

	s.finishPending(ctx)

	s.pool.Start()

	if s.config.Scheduler.LivenessSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.Scheduler.LivenessSchedule, s.sweepWaiting); err != nil {
			return fmt.Errorf("invalid liveness schedule %q: %w", s.config.Scheduler.LivenessSchedule, err)
		}
		s.cron.Start()
	}

	s.logger.Info().
		Int("boot_candidates", len(candidates)).
		Str("liveness_schedule", s.config.Scheduler.LivenessSchedule).
		Msg("Scheduler service started")
	return nil
}

// Stop shuts the orchestrator down: the liveness sweep stops, queues close
// (parked readers terminate), workers drain, and the coordinator lanes get
// the configured shutdown timeout to finish their queued actions. Anything
// still pending afterwards is durable and recovered by the next boot scan.
func (s *Service) Stop() {
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	for _, queue := range s.router.Queues() {
		queue.Close()
	}
	s.pool.Stop()

	timeout := s.config.Scheduler.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	done := make(chan struct{})
	go func() {
		s.coordinator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn().Str("timeout", timeout.String()).Msg("Coordinator drain timed out during shutdown")
	}
	s.logger.Info().Msg("Scheduler service stopped")
}

// Submit builds a root job from a single activity, persists it and routes it
// into Ready. Compositions cannot be submitted directly; they are returned
// by running activities.
func (s *Service) Submit(ctx context.Context, activity *models.Activity) (string, error) {
	if err := activity.Validate(); err != nil {
		return "", err
	}
	if activity.Kind != models.ActivityKindSingle {
		return "", fmt.Errorf("%w: only single activities can be submitted", models.ErrInvalidActivity)
	}

	job := models.NewJob(activity.ActivityType, activity.Method, activity.Arguments...)
	job.RetryDelay = s.config.ActivityConfiguration(job.ActivityType).RetryDelay

	if err := s.store.Store(ctx, job); err != nil {
		return "", err
	}
	s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated, Payload: job.Snapshot()})

	s.coordinator.RunSync(job.ID, func() {
		updated := job
		s.recoverable.Run(ctx, job, func() error {
			j, err := s.mutator.ChangeStatus(ctx, updated, models.JobStatusReady)
			if err == nil {
				updated = j
			}
			return err
		}, func() {
			if err := s.router.Route(ctx, updated); err != nil {
				s.logger.Error().Err(err).Str("job_id", updated.ID).Msg("Failed to route submitted job")
			}
		})
	})

	s.logger.Info().
		Str("job_id", job.ID).
		Str("activity_type", job.ActivityType).
		Str("method", job.Method).
		Msg("Job submitted")
	return job.ID, nil
}

// Status returns the durable state of a job
func (s *Service) Status(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.Load(ctx, jobID)
}

// Root returns the root job of a correlation
func (s *Service) Root(ctx context.Context, correlationID string) (*models.Job, error) {
	return s.store.LoadByCorrelation(ctx, correlationID)
}

// recoverReady rebuilds the queue candidate set from the store: Running jobs
// are re-marked Ready first, then all Ready jobs are collected in FIFO order
func (s *Service) recoverReady(ctx context.Context) ([]*models.Job, error) {
	running, err := s.store.LoadByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("boot recovery scan failed: %w", err)
	}
	for _, job := range running {
		j := job
		s.coordinator.RunSync(j.ID, func() {
			s.recoverable.Run(ctx, j, func() error {
				_, err := s.mutator.ChangeStatus(ctx, j, models.JobStatusReady)
				return err
			}, nil)
		})
	}
	if len(running) > 0 {
		s.logger.Info().Int("count", len(running)).Msg("Requeued jobs interrupted mid-run")
	}

	ready, err := s.store.LoadByStatus(ctx, models.JobStatusReady)
	if err != nil {
		return nil, fmt.Errorf("boot recovery scan failed: %w", err)
	}

	// Suspended jobs stay durable-only; the queues reload them on drain
	candidates := make([]*models.Job, 0, len(ready))
	for _, job := range ready {
		if !job.Suspended {
			candidates = append(candidates, job)
		}
	}
	return candidates, nil
}

// finishPending drives half-done transitions and stuck parents found at boot
func (s *Service) finishPending(ctx context.Context) {
	if jobs, err := s.store.LoadByStatus(ctx, models.JobStatusReadyToComplete); err == nil {
		for _, job := range jobs {
			j := job
			s.coordinator.Run(j.ID, func() { s.end.Finish(context.Background(), j) })
		}
	}
	if jobs, err := s.store.LoadByStatus(ctx, models.JobStatusReadyToPoison); err == nil {
		for _, job := range jobs {
			j := job
			s.coordinator.Run(j.ID, func() { s.poisoned.Finish(context.Background(), j) })
		}
	}
	if jobs, err := s.store.LoadByStatus(ctx, models.JobStatusFailed); err == nil {
		for _, job := range jobs {
			j := job
			s.coordinator.Run(j.ID, func() { s.failed.Retry(context.Background(), j) })
		}
	}
	if parents, err := s.store.LoadByStatus(ctx, models.JobStatusWaitingForChildren); err == nil {
		for _, parent := range parents {
			s.liveness.Schedule(parent.ID)
		}
	}
}

// sweepWaiting is the periodic liveness pass: every waiting parent is
// re-verified so a crashed dispatch can never strand one permanently
func (s *Service) sweepWaiting() {
	parents, err := s.store.LoadByStatus(context.Background(), models.JobStatusWaitingForChildren)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Liveness sweep scan failed")
		return
	}
	for _, parent := range parents {
		s.liveness.Schedule(parent.ID)
	}
	if len(parents) > 0 {
		s.logger.Debug().Int("count", len(parents)).Msg("Liveness sweep scheduled verifications")
	}
}
