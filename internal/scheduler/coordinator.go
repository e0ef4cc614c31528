package scheduler

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// Coordinator serializes state-changing callbacks per job id: for a given id
// at most one action is in flight, and subsequent actions queue behind it in
// submission order. Distinct ids run concurrently. All transitions and
// continuation updates go through here, which gives the mutator its implicit
// single-writer-per-id guarantee.
type Coordinator struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	wg     sync.WaitGroup
	logger arbor.ILogger
}

// lane holds the actions queued behind the one currently draining for an id
type lane struct {
	pending []func()
}

// NewCoordinator creates a per-job serializer
func NewCoordinator(logger arbor.ILogger) *Coordinator {
	return &Coordinator{
		lanes:  make(map[string]*lane),
		logger: logger,
	}
}

// Run enqueues action on the serial lane for jobID and returns immediately.
// The first action for an idle id starts a drainer goroutine; the drainer
// exits once the lane empties.
func (c *Coordinator) Run(jobID string, action func()) {
	c.mu.Lock()
	if l, ok := c.lanes[jobID]; ok {
		l.pending = append(l.pending, action)
		c.mu.Unlock()
		return
	}
	l := &lane{pending: []func(){action}}
	c.lanes[jobID] = l
	c.wg.Add(1)
	c.mu.Unlock()

	go c.drain(jobID, l)
}

// RunSync enqueues action and blocks until it has executed. Must not be
// called from within an action on the same id.
func (c *Coordinator) RunSync(jobID string, action func()) {
	done := make(chan struct{})
	c.Run(jobID, func() {
		defer close(done)
		action()
	})
	<-done
}

// Wait blocks until every lane has drained
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) drain(jobID string, l *lane) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if len(l.pending) == 0 {
			delete(c.lanes, jobID)
			c.mu.Unlock()
			return
		}
		action := l.pending[0]
		l.pending = l.pending[1:]
		c.mu.Unlock()

		c.invoke(jobID, action)
	}
}

// invoke shields the drainer: no error or panic may escape the coordinator
// and kill a worker
func (c *Coordinator) invoke(jobID string, action func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().
				Str("job_id", jobID).
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("Coordinator action panicked")
		}
	}()
	action()
}
