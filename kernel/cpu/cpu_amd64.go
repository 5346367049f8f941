// Package cpu exposes the privileged x86_64 instructions used by the memory
// and task core. The instruction stubs are implemented in cpu_amd64.s and
// fault when executed outside ring 0, so code that needs to run under test
// must call them through mockable function variables.
package cpu

var (
	interruptsEnabledFn = InterruptsEnabled
	disableInterruptsFn = DisableInterrupts
	enableInterruptsFn  = EnableInterrupts
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the interrupt flag (RFLAGS.IF) is set.
func InterruptsEnabled() bool

// Halt stops instruction execution until the next interrupt arrives.
func Halt()

// EnableInterruptsAndHalt executes STI immediately followed by HLT. STI
// delays interrupt delivery by one instruction so an interrupt that becomes
// pending between the two instructions still wakes the halted CPU.
func EnableInterruptsAndHalt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// WithoutInterrupts runs fn with interrupts disabled and restores the
// previous interrupt flag once fn returns. Calls may be nested.
func WithoutInterrupts(fn func()) {
	enabled := interruptsEnabledFn()
	if enabled {
		disableInterruptsFn()
	}

	fn()

	if enabled {
		enableInterruptsFn()
	}
}
