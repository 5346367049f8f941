// Package pmm implements the physical frame allocator. Every usable region
// reported by the boot loader gets a bitmap with one bit per 4 KiB frame;
// the bitmap itself lives in frames carved out of the front of the region
// and is accessed through a fixed virtual window.
package pmm

import (
	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/boot"
	"github.com/goldencm/blanc-os/kernel/kfmt"
	"github.com/goldencm/blanc-os/kernel/mm"
	"github.com/goldencm/blanc-os/kernel/mm/vmm"
	"github.com/goldencm/blanc-os/kernel/sync"
)

// BitmapWindowAddr is the virtual address where the pool bitmaps are
// mapped. It uses P4 slot 510.
const BitmapWindowAddr = uintptr(0xffff_ff00_0000_0000)

var (
	// frameAllocator is the allocator used by the kernel once Init returns.
	frameAllocator Allocator

	initOnce sync.Once

	// totalBytes is written once by Init.
	totalBytes uint64

	// windowAddr is overridden by tests so the bitmaps can be backed by
	// ordinary memory.
	windowAddr = BitmapWindowAddr

	// mapWithFn is used by tests to override calls to vmm.MapWith and is
	// automatically inlined by the compiler.
	mapWithFn = vmm.MapWith

	errOutOfMemory       = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errFrameUnavailable  = &kernel.Error{Module: "pmm", Message: "frame is not available"}
	errNotInitialized    = &kernel.Error{Module: "pmm", Message: "allocator not initialized"}
	errNoFramesAvailable = &kernel.Error{Module: "pmm", Message: "no frames available while bootstrapping"}
	errNoUsableMemory    = &kernel.Error{Module: "pmm", Message: "memory map contains no usable region"}
	errTooManyPools      = &kernel.Error{Module: "pmm", Message: "too many usable memory regions"}
)

// emptyAllocFrame backs the page-table walk while the bitmap is being
// mapped. The real allocator does not exist yet so no frame may be handed
// out for intermediate page tables.
func emptyAllocFrame() (mm.Frame, *kernel.Error) {
	return mm.InvalidFrame, errNoFramesAvailable
}

// mapBitmapFrame maps a bitmap page using only the page tables that are
// already in place.
func mapBitmapFrame(page mm.Page, frame mm.Frame) *kernel.Error {
	return mapWithFn(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute, emptyAllocFrame)
}

// Init sets up the frame allocator from the boot memory map and installs it
// as the allocator used by the vmm. Init only runs once; subsequent calls
// return nil without touching the allocator.
func Init(info *boot.Info) *kernel.Error {
	var err *kernel.Error

	initOnce.Do(func() {
		if err = frameAllocator.Setup(info.Memory.Regions(), windowAddr, mapBitmapFrame); err != nil {
			return
		}

		mm.SetFrameAllocator(AllocFrame)

		stats := frameAllocator.Stats()
		totalBytes = stats.TotalFrames << mm.PageShift
		printLayout(&frameAllocator, stats)
	})

	return err
}

func printLayout(alloc *Allocator, stats Stats) {
	for i := 0; i < alloc.poolCount; i++ {
		pool := &alloc.pools[i]
		kfmt.Printf("[pmm] pool %d: bitmap [0x%10x - 0x%10x) -> 0x%16x, frames [0x%10x - 0x%10x)\n",
			i,
			pool.bitmapStart.Address(), pool.startFrame.Address(),
			pool.windowAddr,
			pool.startFrame.Address(), pool.endFrame.Address(),
		)
	}
	kfmt.Printf("[pmm] tracking %d frames (%dKb), %d bitmap frames\n", stats.TotalFrames, stats.TotalFrames<<2, stats.BitmapFrames)
}

// AllocFrame reserves a free physical frame.
func AllocFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame()
}

// AllocFrameAt reserves the physical frame that contains physAddr.
func AllocFrameAt(physAddr uintptr) (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrameAt(physAddr)
}

// FreeFrame releases a frame previously returned by AllocFrame or
// AllocFrameAt. Freeing a frame that is already free has no effect.
func FreeFrame(frame mm.Frame) {
	frameAllocator.FreeFrame(frame)
}

// TotalBytes returns the number of bytes tracked by the allocator, excluding
// the frames that hold the bitmaps. It returns 0 before Init.
func TotalBytes() uint64 {
	return totalBytes
}

// FreeFrames returns the number of frames that are currently available.
func FreeFrames() uint64 {
	return frameAllocator.Stats().FreeFrames
}
