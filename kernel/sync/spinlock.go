// Package sync provides synchronization primitives that do not depend on the
// Go runtime scheduler: a spinlock and a run-once guard.
package sync

import "sync/atomic"

// spinAttemptsBeforeYield controls how many failed acquisition attempts are
// made before yieldFn gets a chance to run.
const spinAttemptsBeforeYield = 64

var (
	// yieldFn is invoked while spinning on a contended lock. The kernel
	// has no other thread to yield to so it stays nil; tests plug
	// runtime.Gosched in.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); ; attempt++ {
		if atomic.LoadUint32(&l.state) == 0 && atomic.CompareAndSwapUint32(&l.state, 0, 1) {
			return
		}

		if attempt%spinAttemptsBeforeYield == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
