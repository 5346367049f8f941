package sync

import "sync/atomic"

const (
	onceIdle uint32 = iota
	onceRunning
	onceDone
)

// Once guards a slot that must be initialized exactly once for the lifetime
// of the kernel. Unlike the standard library version it never parks the
// caller; concurrent callers spin until the winning call completes.
type Once struct {
	state uint32
}

// Do invokes fn if and only if Do is being called for the first time on this
// Once instance. It returns true for the call that ran fn. Callers that lose
// the race wait for fn to complete before returning false.
func (o *Once) Do(fn func()) bool {
	if atomic.LoadUint32(&o.state) == onceDone {
		return false
	}

	if !atomic.CompareAndSwapUint32(&o.state, onceIdle, onceRunning) {
		for attempt := uint32(1); atomic.LoadUint32(&o.state) != onceDone; attempt++ {
			if attempt%spinAttemptsBeforeYield == 0 && yieldFn != nil {
				yieldFn()
			}
		}
		return false
	}

	fn()
	atomic.StoreUint32(&o.state, onceDone)
	return true
}

// Done returns true once the guarded initialization has completed.
func (o *Once) Done() bool {
	return atomic.LoadUint32(&o.state) == onceDone
}
