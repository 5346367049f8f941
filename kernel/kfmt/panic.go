package kfmt

import (
	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/cpu"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuDisableInterruptsFn = cpu.DisableInterrupts
	cpuHaltFn              = cpu.Halt

	// panicking is set by the first call to Panic. A fault raised while
	// the report is being printed skips straight to the halt.
	panicking bool

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic reports an unrecoverable error and halts the CPU; it never returns.
// Interrupts are masked first so device handlers stop producing input and
// cannot wake the executor while the report is printed.
//
// Panic is also the redirect target for the runtime panic entry points, so
// a fault raised while a task is being polled ends up here with a string or
// error value instead of a *kernel.Error.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	cpuDisableInterruptsFn()

	if !panicking {
		panicking = true
		printPanicReport(panicCause(e))
	}

	cpuHaltFn()
}

// panicString is the redirect target for runtime.throw.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(msg)
}

// panicCause maps a panic value to the error printed in the report. It
// returns nil for values that carry no description.
func panicCause(e interface{}) *kernel.Error {
	switch cause := e.(type) {
	case *kernel.Error:
		return cause
	case string:
		errRuntimePanic.Message = cause
	case error:
		errRuntimePanic.Message = cause.Error()
	default:
		return nil
	}

	return errRuntimePanic
}

func printPanicReport(err *kernel.Error) {
	Printf("\n[kernel] ===== PANIC =====\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("[kernel] interrupts masked, halting\n")
}
