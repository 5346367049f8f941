// Package input connects the PS/2 keyboard and mouse to the task executor.
// The interrupt handlers read a byte from the controller and push it into a
// per-device queue; a long-running task per device drains the queue and is
// woken by the handler whenever new bytes arrive.
package input

import (
	"sync/atomic"

	"github.com/goldencm/blanc-os/kernel/cpu"
	"github.com/goldencm/blanc-os/kernel/kfmt"
	"github.com/goldencm/blanc-os/kernel/task"
)

// dataPort is the PS/2 controller data register shared by both devices.
const dataPort = uint16(0x60)

var (
	// portReadByteFn is mocked by tests and is automatically inlined by
	// the compiler.
	portReadByteFn = cpu.PortReadByte

	keyboard = stream{name: "kbd", waker: new(task.AtomicWaker)}
	mouse    = stream{name: "mouse", waker: new(task.AtomicWaker)}
)

// wakerSlot is implemented by task.AtomicWaker.
type wakerSlot interface {
	Register(w *task.Waker)
	Wake()
}

// stream couples a device queue with the waker of the task consuming it.
type stream struct {
	name    string
	queue   byteRing
	waker   wakerSlot
	dropped uint64
}

// produce is called from interrupt context.
func (s *stream) produce(b uint8) {
	if atomic.LoadUint32(&s.queue.ready) == 0 {
		kfmt.Printf("[%s] WARNING: input queue uninitialized\n", s.name)
		return
	}

	if !s.queue.push(b) {
		atomic.AddUint64(&s.dropped, 1)
		kfmt.Printf("[%s] WARNING: input queue full; dropping input\n", s.name)
		return
	}

	s.waker.Wake()
}

// next returns the next queued byte. If the queue is empty, w is registered
// so that the next produce call wakes the task. The queue is checked again
// after registering to avoid missing a byte pushed in between.
func (s *stream) next(w *task.Waker) (uint8, bool) {
	if b, ok := s.queue.pop(); ok {
		return b, true
	}

	s.waker.Register(w)
	if b, ok := s.queue.pop(); ok {
		return b, true
	}

	return 0, false
}

// Init prepares the device queues. It must be called before the interrupt
// handlers are registered; input that arrives earlier is discarded.
func Init() {
	keyboard.queue.init()
	mouse.queue.init()
}

// KeyboardIRQ is the handler for the keyboard interrupt line.
func KeyboardIRQ() {
	keyboard.produce(portReadByteFn(dataPort))
}

// MouseIRQ is the handler for the mouse interrupt line.
func MouseIRQ() {
	mouse.produce(portReadByteFn(dataPort))
}

// Dropped returns the number of keyboard and mouse bytes that were
// discarded because the corresponding queue was full.
func Dropped() (kbd, mse uint64) {
	return atomic.LoadUint64(&keyboard.dropped), atomic.LoadUint64(&mouse.dropped)
}

// KeyboardTask returns a unit of work that hands every scancode to fn. The
// work never completes.
func KeyboardTask(fn func(scancode uint8)) task.Work {
	return task.WorkFunc(func(w *task.Waker) task.Status {
		for {
			b, ok := keyboard.next(w)
			if !ok {
				return task.Pending
			}
			fn(b)
		}
	})
}
