package input

import "testing"

func TestByteRingPushPop(t *testing.T) {
	var r byteRing
	r.init()

	if _, ok := r.pop(); ok {
		t.Fatal("expected pop on an empty ring to fail")
	}

	for i := 0; i < queueCapacity; i++ {
		if !r.push(uint8(i)) {
			t.Fatalf("expected push %d to succeed", i)
		}
	}

	if r.push(0xff) {
		t.Fatal("expected push to fail when the ring is full")
	}

	for i := 0; i < queueCapacity; i++ {
		b, ok := r.pop()
		if !ok || b != uint8(i) {
			t.Fatalf("expected to pop %d; got %d, %t", i, b, ok)
		}
	}

	// The ring can be reused after wrapping around.
	for round := 0; round < 3; round++ {
		r.push(uint8(round))
		if b, ok := r.pop(); !ok || b != uint8(round) {
			t.Fatalf("[round %d] expected to pop %d; got %d, %t", round, round, b, ok)
		}
	}
}

func TestByteRingInitIsIdempotent(t *testing.T) {
	var r byteRing
	r.init()
	r.push(42)
	r.init()

	if b, ok := r.pop(); !ok || b != 42 {
		t.Fatalf("expected a second init to preserve queued data; got %d, %t", b, ok)
	}
}

func TestByteRingConcurrent(t *testing.T) {
	var r byteRing
	r.init()

	const total = 10000
	go func() {
		for i := 0; i < total; {
			if r.push(uint8(i)) {
				i++
			}
		}
	}()

	for i := 0; i < total; {
		b, ok := r.pop()
		if !ok {
			continue
		}

		if b != uint8(i) {
			t.Fatalf("expected byte %d to be 0x%x; got 0x%x", i, uint8(i), b)
		}
		i++
	}
}
