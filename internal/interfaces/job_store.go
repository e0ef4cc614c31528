package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/conductor/internal/models"
)

// ErrNotFound is returned when a job is absent from the store
var ErrNotFound = errors.New("job not found")

// ErrStoreFailed wraps transient durability failures; callers retry these
// through the recoverable action
var ErrStoreFailed = errors.New("store operation failed")

// JobStore is the persistence contract the scheduler core consumes. The store
// owns durable truth: queues hold weak in-memory copies, and every mutation
// path writes through the store before the in-memory copy counts.
//
// Two Store calls for the same id issued from the same coordinator lane must
// be persisted in the order issued.
type JobStore interface {
	// Load returns the job with the given id, or ErrNotFound
	Load(ctx context.Context, id string) (*models.Job, error)

	// LoadByCorrelation returns the root job of a correlation, or ErrNotFound
	LoadByCorrelation(ctx context.Context, correlationID string) (*models.Job, error)

	// LoadByStatus returns all jobs in the given status. Used only at boot.
	LoadByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)

	// Store upserts a single job
	Store(ctx context.Context, job *models.Job) error

	// StoreBatch upserts jobs atomically: readers observe all or none
	StoreBatch(ctx context.Context, jobs []*models.Job) error

	// LoadSuspended returns up to max suspended jobs for an activity type in
	// FIFO insertion order (CreatedUTC, then ID). The caller clears the
	// suspended flag.
	LoadSuspended(ctx context.Context, activityType string, max int) ([]*models.Job, error)

	// LoadSuspendedExcept is the default-queue variant: suspended jobs whose
	// activity type is not in excludeTypes
	LoadSuspendedExcept(ctx context.Context, excludeTypes []string, max int) ([]*models.Job, error)

	// CountSuspended returns the exact number of suspended jobs for a type
	CountSuspended(ctx context.Context, activityType string) (int, error)

	// CountSuspendedExcept counts suspended jobs owned by the default queue
	CountSuspendedExcept(ctx context.Context, excludeTypes []string) (int, error)
}
