package scheduler

import "errors"

var (
	// ErrAlreadyInitialized is returned by a second Initialize call on a
	// queue. Programmer error: it propagates instead of being retried.
	ErrAlreadyInitialized = errors.New("queue already initialized")

	// ErrNotInitialized is returned when a queue is used before Initialize
	ErrNotInitialized = errors.New("queue not initialized")

	// ErrQueueClosed terminates parked reads on orderly shutdown
	ErrQueueClosed = errors.New("queue closed")

	// ErrIllegalTransition marks a status change that is not an edge of the
	// lifecycle graph. Retrying cannot help, so the recoverable action fails
	// fast on it.
	ErrIllegalTransition = errors.New("illegal status transition")
)
