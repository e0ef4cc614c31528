package runtime

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// HandlerFunc executes one activity method. Returning a *models.Activity
// blocks the job on the described children; any other value completes it.
type HandlerFunc func(ctx context.Context, args []interface{}) (interface{}, error)

// Registry is a handler-table activity runtime: user code registers a
// handler per (activity type, method) pair and the scheduler dispatches jobs
// into it. Dispatch is at-least-once; handlers own their idempotence.
type Registry struct {
	handlers map[string]HandlerFunc
	logger   arbor.ILogger
}

// NewRegistry creates an empty activity registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a handler to an activity type and method. Registration
// happens at boot, before the scheduler starts; last registration wins.
func (r *Registry) Register(activityType, method string, handler HandlerFunc) {
	r.handlers[handlerKey(activityType, method)] = handler
	r.logger.Debug().
		Str("activity_type", activityType).
		Str("method", method).
		Msg("Activity handler registered")
}

// Execute runs the job's handler and interprets its outcome
func (r *Registry) Execute(ctx context.Context, job *models.Job) interfaces.ExecutionResult {
	handler, ok := r.handlers[handlerKey(job.ActivityType, job.Method)]
	if !ok {
		return interfaces.ExecutionResult{
			Err: fmt.Errorf("no handler registered for %s.%s", job.ActivityType, job.Method),
		}
	}

	value, err := handler(ctx, job.Arguments)
	if err != nil {
		return interfaces.ExecutionResult{Err: err}
	}
	if activity, ok := value.(*models.Activity); ok {
		return interfaces.ExecutionResult{Activity: activity}
	}
	return interfaces.ExecutionResult{Value: value}
}

func handlerKey(activityType, method string) string {
	return activityType + "." + method
}
