package input

import "github.com/goldencm/blanc-os/kernel/task"

const (
	// packet flag bits
	flagLeftButton   = 1 << 0
	flagRightButton  = 1 << 1
	flagMiddleButton = 1 << 2
	flagAlwaysOne    = 1 << 3
	flagXSign        = 1 << 4
	flagYSign        = 1 << 5
	flagXOverflow    = 1 << 6
	flagYOverflow    = 1 << 7
)

// Packet is a decoded 3-byte PS/2 mouse movement packet.
type Packet struct {
	Flags uint8
	DX    int16
	DY    int16
}

// LeftButton returns true if the left button is held down.
func (p Packet) LeftButton() bool { return p.Flags&flagLeftButton != 0 }

// RightButton returns true if the right button is held down.
func (p Packet) RightButton() bool { return p.Flags&flagRightButton != 0 }

// MiddleButton returns true if the middle button is held down.
func (p Packet) MiddleButton() bool { return p.Flags&flagMiddleButton != 0 }

// decodePacket converts the raw packet bytes into a Packet. Movement values
// are 9-bit two's complement numbers whose sign bits live in the flags byte.
// Overflowing movement is reported as zero.
func decodePacket(raw [3]uint8) Packet {
	p := Packet{Flags: raw[0]}

	if raw[0]&flagXOverflow == 0 {
		p.DX = int16(raw[1])
		if raw[0]&flagXSign != 0 {
			p.DX -= 0x100
		}
	}

	if raw[0]&flagYOverflow == 0 {
		p.DY = int16(raw[2])
		if raw[0]&flagYSign != 0 {
			p.DY -= 0x100
		}
	}

	return p
}

// packetAssembler collects mouse bytes into packets. Bytes that cannot
// start a packet are skipped so the assembler resynchronizes after a lost
// byte.
type packetAssembler struct {
	raw   [3]uint8
	count int
}

func (a *packetAssembler) feed(b uint8) (Packet, bool) {
	if a.count == 0 && b&flagAlwaysOne == 0 {
		return Packet{}, false
	}

	a.raw[a.count] = b
	a.count++
	if a.count < len(a.raw) {
		return Packet{}, false
	}

	a.count = 0
	return decodePacket(a.raw), true
}

// MouseTask returns a unit of work that assembles mouse bytes into packets
// and hands each complete packet to fn. The work never completes.
func MouseTask(fn func(Packet)) task.Work {
	var asm packetAssembler

	return task.WorkFunc(func(w *task.Waker) task.Status {
		for {
			b, ok := mouse.next(w)
			if !ok {
				return task.Pending
			}

			if p, complete := asm.feed(b); complete {
				fn(p)
			}
		}
	})
}
