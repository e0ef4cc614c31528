// -----------------------------------------------------------------------
// Job - durable unit of schedulable work
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewCorrelationID generates a correlation ID shared by a job tree
// Format: cor_<uuid>
func NewCorrelationID() string {
	return "cor_" + uuid.New().String()
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusCreated            JobStatus = "created"
	JobStatusReady              JobStatus = "ready"
	JobStatusRunning            JobStatus = "running"
	JobStatusWaitingForChildren JobStatus = "waiting_for_children"
	JobStatusReadyToComplete    JobStatus = "ready_to_complete"
	JobStatusReadyToPoison      JobStatus = "ready_to_poison"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusFailed             JobStatus = "failed"
	JobStatusPoisoned           JobStatus = "poisoned"
)

// legalTransitions encodes the lifecycle graph. The Running -> Ready edge is the
// crash-recovery path: jobs found Running at boot are handed back to the queues
// for at-least-once redelivery.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusCreated:            {JobStatusReady},
	JobStatusReady:              {JobStatusRunning},
	JobStatusRunning:            {JobStatusWaitingForChildren, JobStatusReadyToComplete, JobStatusReadyToPoison, JobStatusFailed, JobStatusReady},
	JobStatusWaitingForChildren: {JobStatusReadyToComplete, JobStatusReadyToPoison},
	JobStatusReadyToComplete:    {JobStatusCompleted},
	JobStatusReadyToPoison:      {JobStatusPoisoned},
	JobStatusFailed:             {JobStatusReady, JobStatusReadyToPoison},
}

// CanTransition reports whether moving from s to next is a legal edge
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusPoisoned
}

// Job is the durable, schedulable record derived from an activity.
// Jobs are persisted on every mutation; after creation they may only be
// modified through the scheduler's mutator, which persists before the
// in-memory copy is considered authoritative.
type Job struct {
	ID            string  `json:"id"`
	CorrelationID string  `json:"correlation_id" badgerhold:"index"`
	ParentID      *string `json:"parent_id"`
	RootID        string  `json:"root_id"`

	ActivityType string        `json:"activity_type" badgerhold:"index"`
	Method       string        `json:"method"`
	Arguments    []interface{} `json:"arguments"`

	Status        JobStatus `json:"status" badgerhold:"index"`
	DispatchCount int       `json:"dispatch_count"`

	RetryOnCount     int           `json:"retry_on_count"`
	RetryDelay       time.Duration `json:"retry_delay"`
	PoisonRetryCount int           `json:"poison_retry_count"`

	// Suspended marks a durable-only job spilled from a bounded queue.
	// Suspended jobs are never held in any in-memory buffer.
	Suspended bool `json:"suspended" badgerhold:"index"`

	// Continuation is non-nil only while Status is WaitingForChildren.
	Continuation *Continuation `json:"continuation,omitempty"`

	LastError  string    `json:"last_error,omitempty"`
	CreatedUTC time.Time `json:"created_utc" badgerhold:"index"`
}

// NewJob creates a root job in Created state. The job is its own root and
// carries a fresh correlation id shared with all of its descendants.
func NewJob(activityType, method string, arguments ...interface{}) *Job {
	id := NewJobID()
	return &Job{
		ID:            id,
		CorrelationID: NewCorrelationID(),
		RootID:        id,
		ActivityType:  activityType,
		Method:        method,
		Arguments:     arguments,
		Status:        JobStatusCreated,
		CreatedUTC:    time.Now().UTC(),
	}
}

// NewChildJob creates a child job in Created state, inheriting the parent's
// correlation and root ids.
func NewChildJob(parent *Job, activityType, method string, arguments ...interface{}) *Job {
	parentID := parent.ID
	return &Job{
		ID:            NewJobID(),
		CorrelationID: parent.CorrelationID,
		ParentID:      &parentID,
		RootID:        parent.RootID,
		ActivityType:  activityType,
		Method:        method,
		Arguments:     arguments,
		Status:        JobStatusCreated,
		CreatedUTC:    time.Now().UTC(),
	}
}

// IsRoot returns true if this job has no parent
func (j *Job) IsRoot() bool {
	return j.ParentID == nil
}

// GetParentID returns the parent ID or empty string for root jobs
func (j *Job) GetParentID() string {
	if j.ParentID == nil {
		return ""
	}
	return *j.ParentID
}

// Validate validates the job record
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.CorrelationID == "" {
		return fmt.Errorf("job correlation ID is required")
	}
	if j.ActivityType == "" {
		return fmt.Errorf("job activity type is required")
	}
	if j.Method == "" {
		return fmt.Errorf("job method is required")
	}
	if j.DispatchCount < 0 {
		return fmt.Errorf("job dispatch count cannot be negative")
	}
	if j.Status == JobStatusWaitingForChildren && j.Continuation == nil {
		return fmt.Errorf("waiting job requires a continuation")
	}
	return nil
}

// Clone creates a deep copy of the job. Mutation paths clone before changing
// anything so callers only ever adopt fully persisted instances.
func (j *Job) Clone() *Job {
	clone := *j
	if j.ParentID != nil {
		parentID := *j.ParentID
		clone.ParentID = &parentID
	}
	if j.Arguments != nil {
		clone.Arguments = make([]interface{}, len(j.Arguments))
		copy(clone.Arguments, j.Arguments)
	}
	if j.Continuation != nil {
		clone.Continuation = j.Continuation.Clone()
	}
	return &clone
}

// Snapshot returns the telemetry view of the job published on every mutation
func (j *Job) Snapshot() JobSnapshot {
	return JobSnapshot{
		ID:            j.ID,
		Type:          j.ActivityType,
		Method:        j.Method,
		Status:        j.Status,
		DispatchCount: j.DispatchCount,
	}
}

// JobSnapshot is the fire-and-forget record published to the event stream
type JobSnapshot struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Method        string    `json:"method"`
	Status        JobStatus `json:"status"`
	DispatchCount int       `json:"dispatch_count"`
}
