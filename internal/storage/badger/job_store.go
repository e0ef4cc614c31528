package badger

import (
	"context"
	"fmt"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// JobStore implements the JobStore interface for Badger
type JobStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStore creates a new JobStore instance
func NewJobStore(db *BadgerDB, logger arbor.ILogger) interfaces.JobStore {
	return &JobStore{
		db:     db,
		logger: logger,
	}
}

func (s *JobStore) Load(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: load %s: %v", interfaces.ErrStoreFailed, id, err)
	}
	return &job, nil
}

func (s *JobStore) LoadByCorrelation(ctx context.Context, correlationID string) (*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("CorrelationID").Eq(correlationID).Index("CorrelationID"))
	if err != nil {
		return nil, fmt.Errorf("%w: load by correlation %s: %v", interfaces.ErrStoreFailed, correlationID, err)
	}
	for i := range jobs {
		if jobs[i].IsRoot() {
			return &jobs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: correlation %s", interfaces.ErrNotFound, correlationID)
}

func (s *JobStore) LoadByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status).Index("Status"))
	if err != nil {
		return nil, fmt.Errorf("%w: load by status %s: %v", interfaces.ErrStoreFailed, status, err)
	}
	sortFIFO(jobs)
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStore) Store(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("%w: store %s: %v", interfaces.ErrStoreFailed, job.ID, err)
	}
	return nil
}

// StoreBatch upserts all jobs inside a single Badger transaction so readers
// observe the whole batch or none of it
func (s *JobStore) StoreBatch(ctx context.Context, jobs []*models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		for _, job := range jobs {
			if job.ID == "" {
				return fmt.Errorf("job ID is required")
			}
			if err := s.db.Store().TxUpsert(tx, job.ID, job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: store batch of %d: %v", interfaces.ErrStoreFailed, len(jobs), err)
	}
	return nil
}

func (s *JobStore) LoadSuspended(ctx context.Context, activityType string, max int) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs,
		badgerhold.Where("ActivityType").Eq(activityType).Index("ActivityType").
			And("Suspended").Eq(true))
	if err != nil {
		return nil, fmt.Errorf("%w: load suspended %s: %v", interfaces.ErrStoreFailed, activityType, err)
	}
	return capFIFO(jobs, max), nil
}

// LoadSuspendedExcept returns suspended jobs owned by the default queue.
// BadgerHold cannot express a negated In over an index, so the exclusion is
// applied in code after an indexed scan of the suspended set.
func (s *JobStore) LoadSuspendedExcept(ctx context.Context, excludeTypes []string, max int) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Suspended").Eq(true).Index("Suspended"))
	if err != nil {
		return nil, fmt.Errorf("%w: load suspended (default): %v", interfaces.ErrStoreFailed, err)
	}
	excluded := make(map[string]bool, len(excludeTypes))
	for _, t := range excludeTypes {
		excluded[t] = true
	}
	filtered := jobs[:0]
	for _, job := range jobs {
		if !excluded[job.ActivityType] {
			filtered = append(filtered, job)
		}
	}
	return capFIFO(filtered, max), nil
}

func (s *JobStore) CountSuspended(ctx context.Context, activityType string) (int, error) {
	count, err := s.db.Store().Count(&models.Job{},
		badgerhold.Where("ActivityType").Eq(activityType).Index("ActivityType").
			And("Suspended").Eq(true))
	if err != nil {
		return 0, fmt.Errorf("%w: count suspended %s: %v", interfaces.ErrStoreFailed, activityType, err)
	}
	return int(count), nil
}

func (s *JobStore) CountSuspendedExcept(ctx context.Context, excludeTypes []string) (int, error) {
	jobs, err := s.LoadSuspendedExcept(ctx, excludeTypes, 0)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// sortFIFO orders jobs by creation time, then id for a stable tie-break
func sortFIFO(jobs []models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedUTC.Equal(jobs[j].CreatedUTC) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedUTC.Before(jobs[j].CreatedUTC)
	})
}

func capFIFO(jobs []models.Job, max int) []*models.Job {
	sortFIFO(jobs)
	if max > 0 && len(jobs) > max {
		jobs = jobs[:max]
	}
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}
