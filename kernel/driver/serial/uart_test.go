package serial

import (
	"testing"

	"github.com/goldencm/blanc-os/kernel/cpu"
)

func restorePorts() {
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn = cpu.PortReadByte
	withoutInterruptsFn = func(fn func()) { fn() }
}

func init() {
	withoutInterruptsFn = func(fn func()) { fn() }
}

func TestInit(t *testing.T) {
	defer restorePorts()

	type write struct {
		port uint16
		val  uint8
	}

	var writes []write
	portWriteByteFn = func(port uint16, val uint8) {
		writes = append(writes, write{port, val})
	}

	var p Port
	p.Init(COM1)

	exp := []write{
		{0x3f9, 0x00},
		{0x3fb, 0x80},
		{0x3f8, 0x03},
		{0x3f9, 0x00},
		{0x3fb, 0x03},
		{0x3fa, 0xc7},
		{0x3fc, 0x0b},
	}

	if len(writes) != len(exp) {
		t.Fatalf("expected %d port writes; got %d", len(exp), len(writes))
	}

	for i := range exp {
		if writes[i] != exp[i] {
			t.Errorf("[write %d] expected 0x%x -> port 0x%x; got 0x%x -> port 0x%x", i, exp[i].val, exp[i].port, writes[i].val, writes[i].port)
		}
	}
}

func TestWrite(t *testing.T) {
	defer restorePorts()

	specs := []struct {
		input string
		exp   string
	}{
		{"", ""},
		{"abc", "abc"},
		{"line\n", "line\r\n"},
		{"a\nb\n", "a\r\nb\r\n"},
	}

	portReadByteFn = func(_ uint16) uint8 { return lineStatusTxEmpty }

	for specIndex, spec := range specs {
		var out []byte
		portWriteByteFn = func(port uint16, val uint8) {
			if port != COM1+regData {
				t.Errorf("[spec %d] unexpected write to port 0x%x", specIndex, port)
			}
			out = append(out, val)
		}

		var p Port
		p.base = COM1

		n, err := p.Write([]byte(spec.input))
		if err != nil || n != len(spec.input) {
			t.Errorf("[spec %d] expected Write to return (%d, nil); got (%d, %v)", specIndex, len(spec.input), n, err)
		}

		if got := string(out); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestWriteWaitsForTransmitter(t *testing.T) {
	defer restorePorts()

	var statusReads, writes int
	portReadByteFn = func(_ uint16) uint8 {
		statusReads++
		if statusReads%3 == 0 {
			return lineStatusTxEmpty
		}
		return 0
	}
	portWriteByteFn = func(_ uint16, _ uint8) { writes++ }

	var p Port
	p.Write([]byte("ab"))

	if statusReads != 6 || writes != 2 {
		t.Fatalf("expected 6 status reads and 2 writes; got %d and %d", statusReads, writes)
	}
}

func TestWriteWithMissingUART(t *testing.T) {
	defer restorePorts()

	var statusReads, writes int
	portReadByteFn = func(_ uint16) uint8 {
		statusReads++
		return 0
	}
	portWriteByteFn = func(_ uint16, _ uint8) { writes++ }

	var p Port
	p.Write([]byte("x"))

	if statusReads != maxTxSpins || writes != 1 {
		t.Fatalf("expected the transmitter wait to give up after %d reads; got %d reads, %d writes", maxTxSpins, statusReads, writes)
	}
}

func TestWriteHoldsLockWithInterruptsDisabled(t *testing.T) {
	defer restorePorts()

	var p Port
	p.base = COM1

	var masked bool
	withoutInterruptsFn = func(fn func()) {
		masked = true
		fn()
		masked = false
	}

	portReadByteFn = func(_ uint16) uint8 { return lineStatusTxEmpty }

	var writes int
	portWriteByteFn = func(_ uint16, _ uint8) {
		writes++
		// A handler logging while the lock is held would spin forever;
		// with interrupts masked it cannot run until Write returns.
		if !masked {
			t.Error("expected port writes to happen with interrupts disabled")
		}
	}

	p.Write([]byte("drop\n"))

	if writes != 6 {
		t.Fatalf("expected 6 port writes; got %d", writes)
	}

	if masked {
		t.Fatal("expected interrupts to be restored after Write returns")
	}

	// An interrupt handler that logs once interrupts are enabled again
	// must find the port free.
	p.Write([]byte("x"))
	if writes != 7 {
		t.Fatalf("expected 7 port writes; got %d", writes)
	}
}
