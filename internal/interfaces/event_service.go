package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventJobCreated is published when a submitted root job is first
	// persisted. Child jobs stored by a continuation are not announced with
	// this event. Payload: models.JobSnapshot
	EventJobCreated EventType = "job_created"

	// EventJobStatusChange is published on every successful status mutation.
	// Payload: models.JobSnapshot
	EventJobStatusChange EventType = "job_status_change"

	// EventJobSuspended is published when a bounded queue spills a job to the
	// store. Payload: models.JobSnapshot
	EventJobSuspended EventType = "job_suspended"

	// EventSuspendDrift is published when the store write for a suspension
	// fails. The job stays durable with its previous suspended value and is
	// recovered by the boot-time status scan; operators watch this event to
	// detect the drift. Payload: models.JobSnapshot
	EventSuspendDrift EventType = "suspend_drift"

	// EventQueueReloaded is published after a queue drains part of its
	// suspended pool back into memory.
	// Payload: map[string]interface{} with keys activity_type, reloaded
	EventQueueReloaded EventType = "queue_reloaded"

	// EventPoisonMarker is published when a recoverable action exhausts its
	// retry budget and records a poison marker against the originating job.
	// Payload: models.JobSnapshot
	EventPoisonMarker EventType = "poison_marker"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService is the fire-and-forget publication surface. Publication must
// never block job progress; dropped events are acceptable and consumers are
// advisory.
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers without waiting for handlers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
