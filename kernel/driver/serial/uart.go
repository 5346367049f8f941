// Package serial drives a 16550 compatible UART. The kernel uses COM1 as the
// kfmt output sink since it is available before any framebuffer has been set
// up and can be captured by the emulator.
package serial

import (
	"github.com/goldencm/blanc-os/kernel/cpu"
	"github.com/goldencm/blanc-os/kernel/sync"
)

// COM1 is the I/O base of the first serial port.
const COM1 = uint16(0x3f8)

// register offsets relative to the port base
const (
	regData        = 0
	regIntEnable   = 1
	regFIFOCtrl    = 2
	regLineCtrl    = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	regDivisorLow  = 0
	regDivisorHigh = 1

	lineCtrlDLAB      = 0x80
	lineCtrl8N1       = 0x03
	fifoEnableClear14 = 0xc7
	modemCtrlDTRRTS   = 0x0b
	lineStatusTxEmpty = 0x20

	// maxTxSpins bounds the wait for the transmit holding register so a
	// missing UART cannot hang the kernel.
	maxTxSpins = 1 << 16
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn     = cpu.PortWriteByte
	portReadByteFn      = cpu.PortReadByte
	withoutInterruptsFn = cpu.WithoutInterrupts
)

// Port is a serial port that implements io.Writer.
type Port struct {
	lock sync.Spinlock
	base uint16
}

// Init configures the port at base for 38400 baud, 8N1 with FIFOs enabled
// and interrupts disabled.
func (p *Port) Init(base uint16) {
	p.base = base

	portWriteByteFn(base+regIntEnable, 0)
	portWriteByteFn(base+regLineCtrl, lineCtrlDLAB)
	portWriteByteFn(base+regDivisorLow, 3)
	portWriteByteFn(base+regDivisorHigh, 0)
	portWriteByteFn(base+regLineCtrl, lineCtrl8N1)
	portWriteByteFn(base+regFIFOCtrl, fifoEnableClear14)
	portWriteByteFn(base+regModemCtrl, modemCtrlDTRRTS)
}

// Write implements io.Writer. LF characters are expanded to CR LF.
//
// Interrupt handlers may log through the same port, so the lock is only
// ever held with interrupts disabled.
func (p *Port) Write(data []byte) (int, error) {
	withoutInterruptsFn(func() {
		p.lock.Acquire()
		for _, b := range data {
			if b == '\n' {
				p.writeByte('\r')
			}
			p.writeByte(b)
		}
		p.lock.Release()
	})

	return len(data), nil
}

func (p *Port) writeByte(b byte) {
	for spins := 0; spins < maxTxSpins; spins++ {
		if portReadByteFn(p.base+regLineStatus)&lineStatusTxEmpty != 0 {
			break
		}
	}
	portWriteByteFn(p.base+regData, b)
}
