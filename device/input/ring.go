package input

import "sync/atomic"

// queueCapacity is the number of bytes buffered per device. It must be a
// power of two.
const queueCapacity = 128

type slot struct {
	val uint8
	seq uint64
}

// byteRing is a single-producer single-consumer ring. The interrupt handler
// is the only producer and the device task the only consumer; each slot's
// sequence number tells the two sides whether the slot holds data. The
// backing storage is a fixed array so pushing from an interrupt handler
// never allocates.
type byteRing struct {
	head uint64
	_    [56]byte
	tail uint64
	_    [56]byte

	ready uint32
	buf   [queueCapacity]slot
}

const ringMask = queueCapacity - 1

func (r *byteRing) init() {
	if atomic.LoadUint32(&r.ready) == 1 {
		return
	}

	for i := range r.buf {
		r.buf[i].seq = uint64(i)
	}
	atomic.StoreUint32(&r.ready, 1)
}

// push appends val and returns false if the ring is full.
func (r *byteRing) push(val uint8) bool {
	t := r.tail
	s := &r.buf[t&ringMask]

	if atomic.LoadUint64(&s.seq) != t {
		return false
	}

	s.val = val
	atomic.StoreUint64(&s.seq, t+1)
	r.tail = t + 1
	return true
}

// pop removes the oldest byte from the ring.
func (r *byteRing) pop() (uint8, bool) {
	h := r.head
	s := &r.buf[h&ringMask]

	if atomic.LoadUint64(&s.seq) != h+1 {
		return 0, false
	}

	val := s.val
	atomic.StoreUint64(&s.seq, h+queueCapacity)
	r.head = h + 1
	return val, true
}
