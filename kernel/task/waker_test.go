package task

import (
	"testing"

	"github.com/goldencm/blanc-os/kernel"
)

func TestWakerDeduplicates(t *testing.T) {
	defer mockInterrupts()()

	var q wakeQueue
	q.reserve(4)
	w := newWaker(42, &q)

	for i := 0; i < 5; i++ {
		w.Wake()
	}

	if got := q.len(); got != 1 {
		t.Fatalf("expected repeated wakes to enqueue a single entry; got %d", got)
	}

	if !w.queued() {
		t.Fatal("expected waker to report a queued entry")
	}

	if id, _ := q.pop(); id != 42 {
		t.Fatalf("expected queued ID to be 42; got %d", id)
	}

	// Once the run loop arms the waker again, the next wake is queued.
	w.arm()
	w.Wake()
	if got := q.len(); got != 1 {
		t.Fatalf("expected wake after arm to enqueue an entry; got %d", got)
	}
}

func TestWakerRetired(t *testing.T) {
	defer mockInterrupts()()

	var q wakeQueue
	q.reserve(1)
	w := newWaker(1, &q)
	w.retire()
	w.Wake()

	if got := q.len(); got != 0 {
		t.Fatalf("expected a retired waker not to enqueue anything; got %d entries", got)
	}
}

func TestWakerQueueOverflow(t *testing.T) {
	defer mockInterrupts()()

	var gotErr interface{}
	panicFn = func(e interface{}) { gotErr = e }

	w := newWaker(1, &wakeQueue{})
	w.Wake()

	if err, ok := gotErr.(*kernel.Error); !ok || err != errWakeQueueFull {
		t.Fatalf("expected panic with errWakeQueueFull; got %v", gotErr)
	}
}

func TestWakerConcurrentWakes(t *testing.T) {
	defer mockInterrupts()()

	var q wakeQueue
	q.reserve(1)
	w := newWaker(3, &q)

	const producers = 8
	doneCh := make(chan struct{}, producers)
	for i := 0; i < producers; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				w.Wake()
			}
			doneCh <- struct{}{}
		}()
	}

	for i := 0; i < producers; i++ {
		<-doneCh
	}

	if got := q.len(); got != 1 {
		t.Fatalf("expected concurrent wakes to enqueue a single entry; got %d", got)
	}
}

func TestAtomicWaker(t *testing.T) {
	defer mockInterrupts()()

	var (
		q  wakeQueue
		aw AtomicWaker
	)
	q.reserve(2)

	// Waking an empty slot is a no-op.
	aw.Wake()
	if got := q.len(); got != 0 {
		t.Fatalf("expected no queued entries; got %d", got)
	}

	first, second := newWaker(1, &q), newWaker(2, &q)
	aw.Register(first)
	aw.Register(second)
	aw.Wake()
	aw.Wake()

	if got := q.len(); got != 1 {
		t.Fatalf("expected a single queued entry; got %d", got)
	}

	if id, _ := q.pop(); id != 2 {
		t.Fatalf("expected the most recently registered waker to be notified; got task %d", id)
	}
}
