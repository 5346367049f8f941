package task

import (
	"github.com/goldencm/blanc-os/kernel/cpu"
	"github.com/goldencm/blanc-os/kernel/sync"
)

var (
	// withoutInterruptsFn is mocked by tests and is automatically inlined
	// by the compiler.
	withoutInterruptsFn = cpu.WithoutInterrupts
)

// wakeQueue is a fixed-capacity ring of task IDs. Interrupt handlers push
// into it through wakers while the run loop pops from it, so every access
// happens with interrupts disabled and the lock held. The buffer only grows
// from task context via reserve; push never allocates.
type wakeQueue struct {
	lock  sync.Spinlock
	buf   []ID
	head  int
	count int
}

// reserve grows the ring so that it can hold at least n entries.
func (q *wakeQueue) reserve(n int) {
	if n <= len(q.buf) {
		return
	}

	newCap := len(q.buf) * 2
	if newCap < n {
		newCap = n
	}
	newBuf := make([]ID, newCap)

	withoutInterruptsFn(func() {
		q.lock.Acquire()
		for i := 0; i < q.count; i++ {
			newBuf[i] = q.buf[(q.head+i)%len(q.buf)]
		}
		q.buf, q.head = newBuf, 0
		q.lock.Release()
	})
}

// push appends id to the queue. It returns false if the queue is full.
func (q *wakeQueue) push(id ID) bool {
	var ok bool

	withoutInterruptsFn(func() {
		q.lock.Acquire()
		if q.count < len(q.buf) {
			q.buf[(q.head+q.count)%len(q.buf)] = id
			q.count++
			ok = true
		}
		q.lock.Release()
	})

	return ok
}

// pop removes the oldest entry from the queue.
func (q *wakeQueue) pop() (ID, bool) {
	var (
		id ID
		ok bool
	)

	withoutInterruptsFn(func() {
		q.lock.Acquire()
		if q.count > 0 {
			id, ok = q.buf[q.head], true
			q.head = (q.head + 1) % len(q.buf)
			q.count--
		}
		q.lock.Release()
	})

	return id, ok
}

// len returns the number of queued entries. Callers that need the answer
// to stay valid must disable interrupts first.
func (q *wakeQueue) len() int {
	var n int

	withoutInterruptsFn(func() {
		q.lock.Acquire()
		n = q.count
		q.lock.Release()
	})

	return n
}
