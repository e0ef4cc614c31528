package scheduler

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/models"
)

// Router selects the queue for a job by activity type, falling back to the
// default queue. The registry is built once at boot; routing is a pure
// function of the job's activity type.
type Router struct {
	queues       map[string]*JobQueue
	defaultQueue *JobQueue
	logger       arbor.ILogger
}

// NewRouter creates a router over the given default queue
func NewRouter(defaultQueue *JobQueue, logger arbor.ILogger) *Router {
	return &Router{
		queues:       make(map[string]*JobQueue),
		defaultQueue: defaultQueue,
		logger:       logger,
	}
}

// Register binds an activity type to a dedicated queue
func (r *Router) Register(activityType string, queue *JobQueue) {
	r.queues[activityType] = queue
	r.logger.Debug().Str("activity_type", activityType).Msg("Queue registered")
}

// Route writes the job to its queue
func (r *Router) Route(ctx context.Context, job *models.Job) error {
	queue := r.queues[job.ActivityType]
	if queue == nil {
		queue = r.defaultQueue
	}
	if queue == nil {
		return fmt.Errorf("no queue registered for activity type %q", job.ActivityType)
	}
	return queue.Write(ctx, job)
}

// Queues returns every registered queue, the default queue last
func (r *Router) Queues() []*JobQueue {
	result := make([]*JobQueue, 0, len(r.queues)+1)
	for _, q := range r.queues {
		result = append(result, q)
	}
	if r.defaultQueue != nil {
		result = append(result, r.defaultQueue)
	}
	return result
}
