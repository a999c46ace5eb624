package track

import "errors"

// Command is one unit of work translated from a viewer event.
type Command func() error

// Queue serializes viewer events into commands executed strictly in arrival
// order. A command submitted while another is running waits until the
// running one (and everything queued before it) completes, so handlers are
// never reentered.
type Queue struct {
	pending  []Command
	draining bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Submit enqueues a command and drains the queue. When called from inside a
// running command the new command is deferred to the current drain and
// Submit returns nil immediately; its error surfaces from the outermost
// Submit call.
func (q *Queue) Submit(c Command) error {
	q.pending = append(q.pending, c)
	if q.draining {
		return nil
	}
	q.draining = true
	defer func() { q.draining = false }()

	var errs []error
	for len(q.pending) > 0 {
		next := q.pending[0]
		q.pending = q.pending[1:]
		if err := next(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of commands waiting to run.
func (q *Queue) Pending() int { return len(q.pending) }
