package sync

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestOnce(t *testing.T) {
	var (
		once  Once
		calls int
	)

	if once.Done() {
		t.Fatal("expected Done to return false before the first call to Do")
	}

	if !once.Do(func() { calls++ }) {
		t.Fatal("expected the first call to Do to report that it ran fn")
	}

	if once.Do(func() { calls++ }) {
		t.Fatal("expected the second call to Do to be a no-op")
	}

	if calls != 1 {
		t.Fatalf("expected fn to be invoked once; got %d", calls)
	}

	if !once.Done() {
		t.Fatal("expected Done to return true after the first call to Do")
	}
}

func TestOnceConcurrent(t *testing.T) {
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)
	yieldFn = runtime.Gosched

	var (
		once       Once
		wg         sync.WaitGroup
		calls      int32
		winners    int32
		numWorkers = 16
	)

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			if once.Do(func() { atomic.AddInt32(&calls, 1) }) {
				atomic.AddInt32(&winners, 1)
			}

			// Every caller must observe a completed initialization
			if !once.Done() {
				t.Error("expected Do to return only after fn has completed")
			}
		}()
	}
	wg.Wait()

	if calls != 1 || winners != 1 {
		t.Fatalf("expected exactly one invocation and one winner; got %d invocations and %d winners", calls, winners)
	}
}
