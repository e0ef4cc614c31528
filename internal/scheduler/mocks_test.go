package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// testPolicy returns a policy lookup with a fixed recoverable attempt budget
func testPolicy(maxPoisonedRetries int) PolicyLookup {
	return func(activityType string) models.ActivityConfiguration {
		cfg := models.DefaultActivityConfiguration(activityType)
		cfg.MaxPoisonedRetries = maxPoisonedRetries
		return cfg
	}
}

// mockJobStore is an in-memory JobStore double with call counters and
// programmable failures
type mockJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job

	storeCalls      []models.Job // value snapshots in call order
	batchCalls      [][]models.Job
	loadCalls       map[string]int
	storeFailures   map[string]int // id -> remaining Store failures
	loadFailures    map[string]int // id -> remaining Load failures
	suspendedLoads  int
	suspendedFails  int // remaining LoadSuspended failures
	suspendedCounts int
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{
		jobs:          make(map[string]*models.Job),
		loadCalls:     make(map[string]int),
		storeFailures: make(map[string]int),
		loadFailures:  make(map[string]int),
	}
}

// put seeds a job without recording a call
func (m *mockJobStore) put(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
}

// get returns the stored state of a job
func (m *mockJobStore) get(id string) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		return job.Clone()
	}
	return nil
}

func (m *mockJobStore) Load(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls[id]++
	if m.loadFailures[id] > 0 {
		m.loadFailures[id]--
		return nil, fmt.Errorf("%w: injected load failure", interfaces.ErrStoreFailed)
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, id)
	}
	return job.Clone(), nil
}

func (m *mockJobStore) LoadByCorrelation(ctx context.Context, correlationID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.CorrelationID == correlationID && job.IsRoot() {
			return job.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: correlation %s", interfaces.ErrNotFound, correlationID)
}

func (m *mockJobStore) LoadByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Job
	for _, job := range m.jobs {
		if job.Status == status {
			result = append(result, job.Clone())
		}
	}
	sortJobsFIFO(result)
	return result, nil
}

func (m *mockJobStore) Store(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeFailures[job.ID] > 0 {
		m.storeFailures[job.ID]--
		return fmt.Errorf("%w: injected store failure", interfaces.ErrStoreFailed)
	}
	m.jobs[job.ID] = job.Clone()
	m.storeCalls = append(m.storeCalls, *job.Clone())
	return nil
}

func (m *mockJobStore) StoreBatch(ctx context.Context, jobs []*models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make([]models.Job, len(jobs))
	for i, job := range jobs {
		m.jobs[job.ID] = job.Clone()
		batch[i] = *job.Clone()
	}
	m.batchCalls = append(m.batchCalls, batch)
	return nil
}

func (m *mockJobStore) LoadSuspended(ctx context.Context, activityType string, max int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspendedLoads++
	if m.suspendedFails > 0 {
		m.suspendedFails--
		return nil, fmt.Errorf("%w: injected suspended load failure", interfaces.ErrStoreFailed)
	}
	var result []*models.Job
	for _, job := range m.jobs {
		if job.Suspended && job.ActivityType == activityType {
			result = append(result, job.Clone())
		}
	}
	sortJobsFIFO(result)
	if max > 0 && len(result) > max {
		result = result[:max]
	}
	return result, nil
}

func (m *mockJobStore) LoadSuspendedExcept(ctx context.Context, excludeTypes []string, max int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspendedLoads++
	excluded := make(map[string]bool)
	for _, t := range excludeTypes {
		excluded[t] = true
	}
	var result []*models.Job
	for _, job := range m.jobs {
		if job.Suspended && !excluded[job.ActivityType] {
			result = append(result, job.Clone())
		}
	}
	sortJobsFIFO(result)
	if max > 0 && len(result) > max {
		result = result[:max]
	}
	return result, nil
}

func (m *mockJobStore) CountSuspended(ctx context.Context, activityType string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspendedCounts++
	count := 0
	for _, job := range m.jobs {
		if job.Suspended && job.ActivityType == activityType {
			count++
		}
	}
	return count, nil
}

func (m *mockJobStore) CountSuspendedExcept(ctx context.Context, excludeTypes []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspendedCounts++
	excluded := make(map[string]bool)
	for _, t := range excludeTypes {
		excluded[t] = true
	}
	count := 0
	for _, job := range m.jobs {
		if job.Suspended && !excluded[job.ActivityType] {
			count++
		}
	}
	return count, nil
}

func sortJobsFIFO(jobs []*models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedUTC.Equal(jobs[j].CreatedUTC) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedUTC.Before(jobs[j].CreatedUTC)
	})
}

// mockEventService records published events
type mockEventService struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func newMockEventService() *mockEventService {
	return &mockEventService{}
}

func (m *mockEventService) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (m *mockEventService) Publish(ctx context.Context, event interfaces.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventService) PublishSync(ctx context.Context, event interfaces.Event) error {
	return m.Publish(ctx, event)
}

func (m *mockEventService) Close() error {
	return nil
}

func (m *mockEventService) byType(eventType interfaces.EventType) []interfaces.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []interfaces.Event
	for _, e := range m.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}
