package task

import (
	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/cpu"
	"github.com/goldencm/blanc-os/kernel/kfmt"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	disableInterruptsFn       = cpu.DisableInterrupts
	enableInterruptsFn        = cpu.EnableInterrupts
	enableInterruptsAndHaltFn = cpu.EnableInterruptsAndHalt
	panicFn                   = kfmt.Panic

	errDuplicateTask = &kernel.Error{Module: "task", Message: "task with the same ID already spawned"}
)

// Executor polls spawned tasks whenever their wakers fire and halts the CPU
// when there is nothing left to do.
type Executor struct {
	tasks  map[ID]*Task
	wakers map[ID]*Waker
	queue  wakeQueue
}

// NewExecutor creates an executor with no tasks.
func NewExecutor() *Executor {
	return &Executor{
		tasks:  make(map[ID]*Task),
		wakers: make(map[ID]*Waker),
	}
}

// Spawn registers t with the executor and schedules its first poll. Spawning
// two tasks with the same ID is a kernel bug and causes a panic.
func (e *Executor) Spawn(t *Task) {
	if _, exists := e.tasks[t.id]; exists {
		panicFn(errDuplicateTask)
		return
	}

	// Every live task may have at most one queue entry, plus any stale
	// entries left behind by tasks that completed after being woken.
	e.queue.reserve(e.queue.len() + len(e.tasks) + 1)

	w := newWaker(t.id, &e.queue)
	e.tasks[t.id] = t
	e.wakers[t.id] = w
	w.Wake()
}

// Len returns the number of tasks that have not completed yet.
func (e *Executor) Len() int {
	return len(e.tasks)
}

// RunReady polls every task whose ID is in the wake queue until the queue is
// empty. Tasks that complete are removed together with their wakers; IDs of
// tasks that no longer exist are skipped.
func (e *Executor) RunReady() {
	for {
		id, ok := e.queue.pop()
		if !ok {
			return
		}

		t, exists := e.tasks[id]
		if !exists {
			continue
		}

		w := e.wakers[id]
		if w == nil {
			w = newWaker(id, &e.queue)
			e.wakers[id] = w
		}

		w.arm()
		if t.poll(w) == Ready {
			w.retire()
			delete(e.tasks, id)
			delete(e.wakers, id)
		}
	}
}

// Run drives the executor forever. It never returns.
func (e *Executor) Run() {
	for {
		e.RunReady()
		e.sleepIfIdle()
	}
}

// sleepIfIdle halts the CPU if the wake queue is empty. The queue is checked
// with interrupts disabled; sti;hlt then re-enables them so that a wake
// raised by an interrupt after the check still resumes the CPU.
func (e *Executor) sleepIfIdle() {
	disableInterruptsFn()
	if e.queue.len() == 0 {
		enableInterruptsAndHaltFn()
		return
	}
	enableInterruptsFn()
}
