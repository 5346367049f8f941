// Package irq routes hardware interrupt lines raised through the legacy 8259
// PIC pair to registered Go handlers. The low-level entry stubs that save the
// CPU state live in the boot trampoline and call Dispatch with the line
// number that fired.
package irq

import (
	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/cpu"
	"github.com/goldencm/blanc-os/kernel/kfmt"
)

// Line identifies a PIC interrupt line.
type Line uint8

const (
	// Timer is the PIT line.
	Timer = Line(0)

	// Keyboard is the PS/2 keyboard line.
	Keyboard = Line(1)

	// Cascade connects the secondary PIC to the primary one.
	Cascade = Line(2)

	// Mouse is the PS/2 auxiliary device line.
	Mouse = Line(12)

	// LineCount is the number of lines served by the PIC pair.
	LineCount = 16
)

const (
	// VectorOffset is the interrupt vector assigned to line 0. The
	// primary PIC serves vectors [32, 40) and the secondary [40, 48).
	VectorOffset = 32

	primaryCmdPort    = uint16(0x20)
	primaryDataPort   = uint16(0x21)
	secondaryCmdPort  = uint16(0xa0)
	secondaryDataPort = uint16(0xa1)

	icw1Init     = uint8(0x11)
	icw4Mode8086 = uint8(0x01)
	cmdEOI       = uint8(0x20)
)

// Handler is invoked with interrupts disabled when its line fires.
type Handler func()

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	handlers [LineCount]Handler

	// spurious counts interrupts raised on lines without a handler.
	spurious [LineCount]uint64

	errInvalidLine = &kernel.Error{Module: "irq", Message: "invalid interrupt line"}
)

// Init remaps the PIC pair so that hardware interrupts do not overlap CPU
// exceptions and masks every line. Lines get unmasked when a handler is
// registered for them.
func Init() {
	portWriteByteFn(primaryCmdPort, icw1Init)
	portWriteByteFn(secondaryCmdPort, icw1Init)
	portWriteByteFn(primaryDataPort, VectorOffset)
	portWriteByteFn(secondaryDataPort, VectorOffset+8)
	portWriteByteFn(primaryDataPort, 1<<Cascade)
	portWriteByteFn(secondaryDataPort, uint8(Cascade))
	portWriteByteFn(primaryDataPort, icw4Mode8086)
	portWriteByteFn(secondaryDataPort, icw4Mode8086)

	// Keep the cascade line open so secondary PIC lines can be delivered.
	portWriteByteFn(primaryDataPort, ^uint8(1<<Cascade))
	portWriteByteFn(secondaryDataPort, 0xff)

	kfmt.Printf("[irq] PIC remapped to vectors [%d - %d)\n", VectorOffset, VectorOffset+LineCount)
}

// HandleIRQ registers handler for line and unmasks it. Passing a nil
// handler masks the line again.
func HandleIRQ(line Line, handler Handler) *kernel.Error {
	if line >= LineCount {
		return errInvalidLine
	}

	handlers[line] = handler
	setMasked(line, handler == nil)
	return nil
}

// Dispatch runs the handler registered for line and acknowledges the
// interrupt.
func Dispatch(line Line) {
	if line >= LineCount {
		return
	}

	if handler := handlers[line]; handler != nil {
		handler()
	} else {
		spurious[line]++
	}

	EndOfInterrupt(line)
}

// EndOfInterrupt acknowledges line. Lines served by the secondary PIC
// must be acknowledged on both chips.
func EndOfInterrupt(line Line) {
	if line >= 8 {
		portWriteByteFn(secondaryCmdPort, cmdEOI)
	}
	portWriteByteFn(primaryCmdPort, cmdEOI)
}

// Spurious returns the number of interrupts raised on line while no handler
// was registered.
func Spurious(line Line) uint64 {
	if line >= LineCount {
		return 0
	}
	return spurious[line]
}

func setMasked(line Line, masked bool) {
	port := primaryDataPort
	if line >= 8 {
		port = secondaryDataPort
		line -= 8
	}

	mask := portReadByteFn(port)
	if masked {
		mask |= 1 << line
	} else {
		mask &^= 1 << line
	}
	portWriteByteFn(port, mask)
}
