// Package task implements a cooperative executor that multiplexes units of
// work onto the single kernel thread. Tasks are never preempted; a task runs
// until its Poll method returns and is only polled again once its Waker has
// been invoked.
package task

import "sync/atomic"

// ID uniquely identifies a task. IDs are handed out in increasing order and
// are never reused.
type ID uint64

// nextID holds the ID that will be assigned to the next task.
var nextID uint64

func newID() ID {
	return ID(atomic.AddUint64(&nextID, 1) - 1)
}

// Status is returned by Work.Poll.
type Status uint8

const (
	// Pending indicates that the work cannot make progress until its
	// waker is invoked.
	Pending Status = iota

	// Ready indicates that the work has completed.
	Ready
)

// String implements fmt.Stringer for Status.
func (s Status) String() string {
	if s == Ready {
		return "ready"
	}
	return "pending"
}

// Work is a suspendable unit of kernel work. Each call to Poll drives the
// work one step forward. Implementations that return Pending must arrange
// for w.Wake to be called once they are able to make progress; otherwise
// they will never be polled again.
type Work interface {
	Poll(w *Waker) Status
}

// WorkFunc adapts a plain function to the Work interface.
type WorkFunc func(w *Waker) Status

// Poll implements Work.
func (fn WorkFunc) Poll(w *Waker) Status {
	return fn(w)
}

// Task couples a unit of work with a unique ID.
type Task struct {
	id   ID
	work Work
}

// New creates a task for the supplied work and assigns it a fresh ID.
func New(work Work) *Task {
	return &Task{
		id:   newID(),
		work: work,
	}
}

// ID returns the task's identifier.
func (t *Task) ID() ID {
	return t.id
}

func (t *Task) poll(w *Waker) Status {
	return t.work.Poll(w)
}
