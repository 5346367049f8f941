// Package mm defines the frame and page types shared by the memory managers.
package mm

import (
	"math"

	"github.com/goldencm/blanc-os/kernel"
)

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize).
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)
)

// Frame is the index of a 4 KiB physical memory frame.
type Frame uintptr

// InvalidFrame is returned by frame allocators when they fail to reserve a
// frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of the frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr &^ (PageSize - 1)) >> PageShift)
}

// Page is the index of a 4 KiB virtual memory page.
type Page uintptr

// Address returns the virtual address of the first byte of the page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains virtAddr.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr &^ (PageSize - 1)) >> PageShift)
}

// AlignUp rounds size up to the next page boundary.
func AlignUp(size uintptr) uintptr {
	return (size + PageSize - 1) &^ (PageSize - 1)
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

var (
	frameAllocator FrameAllocatorFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// SetFrameAllocator registers the function used by the vmm and the heap when
// new physical frames are needed.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a physical frame using the registered allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}
