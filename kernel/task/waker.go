package task

import (
	"sync/atomic"

	"github.com/goldencm/blanc-os/kernel"
)

const (
	wakerIdle uint32 = iota
	wakerQueued
	wakerRetired
)

var errWakeQueueFull = &kernel.Error{Module: "task", Message: "wake queue overflow"}

// Waker notifies the executor that a task can make progress. A waker only
// carries the task ID and the producer end of the wake queue so it can be
// handed to interrupt handlers.
type Waker struct {
	id    ID
	state uint32
	queue *wakeQueue
}

func newWaker(id ID, queue *wakeQueue) *Waker {
	return &Waker{id: id, queue: queue}
}

// TaskID returns the ID of the task that this waker belongs to.
func (w *Waker) TaskID() ID {
	return w.id
}

// Wake schedules the task for another poll. It is safe to call from
// interrupt handlers and with interrupts disabled. Repeated calls before the
// task gets polled enqueue a single entry; calls made after the task has
// completed are ignored.
func (w *Waker) Wake() {
	if !atomic.CompareAndSwapUint32(&w.state, wakerIdle, wakerQueued) {
		return
	}

	if !w.queue.push(w.id) {
		// The executor reserves a queue slot for every live task so
		// this can only happen if that bookkeeping is broken.
		panicFn(errWakeQueueFull)
	}
}

// arm is called by the run loop right before polling the task so that
// wakes issued while the task is running schedule another poll.
func (w *Waker) arm() {
	atomic.StoreUint32(&w.state, wakerIdle)
}

// retire permanently disables the waker.
func (w *Waker) retire() {
	atomic.StoreUint32(&w.state, wakerRetired)
}

// queued returns true if the waker has an entry in the wake queue.
func (w *Waker) queued() bool {
	return atomic.LoadUint32(&w.state) == wakerQueued
}

// AtomicWaker is a slot where a task parks its waker while waiting for an
// event raised by an interrupt handler. Register and Wake may race with each
// other.
type AtomicWaker struct {
	waker atomic.Pointer[Waker]
}

// Register stores w so that the next call to Wake notifies it. Any
// previously registered waker is replaced.
func (aw *AtomicWaker) Register(w *Waker) {
	aw.waker.Store(w)
}

// Wake notifies the registered waker, if any, and clears the slot.
func (aw *AtomicWaker) Wake() {
	if w := aw.waker.Swap(nil); w != nil {
		w.Wake()
	}
}
