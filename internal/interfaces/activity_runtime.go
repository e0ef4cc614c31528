package interfaces

import (
	"context"

	"github.com/ternarybob/conductor/internal/models"
)

// ExecutionResult is the outcome of handing a job to the activity runtime.
// Exactly one of the three fields is meaningful: a returned value completes
// the job, a returned activity graph blocks it on children, an error feeds
// the retry/poison policy.
type ExecutionResult struct {
	Value    interface{}
	Activity *models.Activity
	Err      error
}

// ActivityRuntime executes user code for a job. The orchestrator guarantees
// at-least-once dispatch; idempotence of side effects is the activity
// author's responsibility.
type ActivityRuntime interface {
	Execute(ctx context.Context, job *models.Job) ExecutionResult
}
