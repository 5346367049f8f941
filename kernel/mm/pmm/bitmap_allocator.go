package pmm

import (
	"math/bits"
	"unsafe"

	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/boot"
	"github.com/goldencm/blanc-os/kernel/mm"
	"github.com/goldencm/blanc-os/kernel/sync"
)

const (
	// maxPools is the number of usable regions the allocator can track.
	// Pools live in a fixed array as the allocator is set up before the
	// heap exists.
	maxPools = 16

	// bitmapSizeShift yields one bitmap frame per 16 MiB of tracked RAM
	// (plus one) when applied to a region length.
	bitmapSizeShift = 24

	allOnes = ^uint64(0)
)

// BitmapMapFn maps a single bitmap page onto its physical backing frame.
type BitmapMapFn func(page mm.Page, frame mm.Frame) *kernel.Error

// framePool tracks the frames of a single usable region.
type framePool struct {
	// bitmapStart is the first physical frame holding the pool bitmap.
	// The bitmap frames are carved out of the front of the region and
	// are never handed out.
	bitmapStart  mm.Frame
	bitmapFrames uintptr

	// startFrame is the frame that corresponds to bit 0; endFrame is the
	// first frame past the pool.
	startFrame mm.Frame
	endFrame   mm.Frame

	// windowAddr is the virtual address the bitmap is mapped at.
	windowAddr uintptr

	freeCount uint64

	// freeBitmap overlays the mapped bitmap. A set bit marks an
	// allocated frame.
	freeBitmap []uint64
}

func (p *framePool) frameCount() uint64 {
	return uint64(p.endFrame - p.startFrame)
}

func (p *framePool) contains(frame mm.Frame) bool {
	return frame >= p.startFrame && frame < p.endFrame
}

// PoolInfo describes the layout of a single pool.
type PoolInfo struct {
	// Bitmap is the physical range holding the pool bitmap.
	Bitmap boot.MemoryRegion

	// Usable is the physical range whose frames the pool hands out.
	Usable boot.MemoryRegion

	// Window is the virtual address of the first bitmap word.
	Window uintptr

	Frames uint64
	Free   uint64
}

// Stats summarizes the allocator state.
type Stats struct {
	TotalFrames  uint64
	FreeFrames   uint64
	BitmapFrames uint64
}

// Allocator hands out physical frames tracked by one bitmap per usable
// region. Its zero value is an allocator that has not been set up; every
// operation on it fails with errNotInitialized.
type Allocator struct {
	lock sync.Spinlock

	pools     [maxPools]framePool
	poolCount int

	ready bool
}

// layoutPool applies the bitmap sizing rule to a usable region. It returns
// false if the region cannot hold its own bitmap plus at least one frame.
func layoutPool(region boot.MemoryRegion) (framePool, bool) {
	var (
		pageSizeMinus1 = uint64(mm.PageSize - 1)
		start          = (region.Start + pageSizeMinus1) &^ pageSizeMinus1
		end            = region.End &^ pageSizeMinus1
		pool           framePool
	)

	if end <= start {
		return pool, false
	}

	bitmapFrames := ((end - start) >> bitmapSizeShift) + 1
	usableStart := start + bitmapFrames<<mm.PageShift
	if usableStart >= end {
		return pool, false
	}

	pool.bitmapStart = mm.FrameFromAddress(uintptr(start))
	pool.bitmapFrames = uintptr(bitmapFrames)
	pool.startFrame = mm.FrameFromAddress(uintptr(usableStart))
	pool.endFrame = mm.FrameFromAddress(uintptr(end))
	pool.freeCount = pool.frameCount()
	return pool, true
}

// BitmapWindowSize returns the number of bytes of virtual address space that
// Setup needs for the bitmaps of regions.
func BitmapWindowSize(regions []boot.MemoryRegion) uintptr {
	var size uintptr
	for _, region := range regions {
		if region.Kind != boot.KindUsable {
			continue
		}

		if pool, ok := layoutPool(region); ok {
			size += pool.bitmapFrames << mm.PageShift
		}
	}

	return size
}

// Setup lays out one pool per usable region, maps every bitmap frame into
// the virtual window starting at window through mapFn and initializes the
// bitmaps. Pool bitmaps are placed back to back inside the window.
//
// Setup is a two-phase operation: no bitmap word is touched before all
// bitmap frames have been mapped.
func (alloc *Allocator) Setup(regions []boot.MemoryRegion, window uintptr, mapFn BitmapMapFn) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	alloc.ready = false
	alloc.poolCount = 0

	nextWindowAddr := window
	for _, region := range regions {
		if region.Kind != boot.KindUsable {
			continue
		}

		pool, ok := layoutPool(region)
		if !ok {
			continue
		}

		if alloc.poolCount == maxPools {
			return errTooManyPools
		}

		pool.windowAddr = nextWindowAddr
		nextWindowAddr += pool.bitmapFrames << mm.PageShift

		alloc.pools[alloc.poolCount] = pool
		alloc.poolCount++
	}

	if alloc.poolCount == 0 {
		return errNoUsableMemory
	}

	// Phase 1: map the bitmap frames.
	for i := 0; i < alloc.poolCount; i++ {
		pool := &alloc.pools[i]
		page := mm.PageFromAddress(pool.windowAddr)
		for index := uintptr(0); index < pool.bitmapFrames; index++ {
			if err := mapFn(page+mm.Page(index), pool.bitmapStart+mm.Frame(index)); err != nil {
				return err
			}
		}
	}

	// Phase 2: overlay the bitmaps, clear them and flag the bits past the
	// end of each pool as allocated so they are never handed out.
	for i := 0; i < alloc.poolCount; i++ {
		pool := &alloc.pools[i]
		kernel.Memset(pool.windowAddr, 0, pool.bitmapFrames<<mm.PageShift)

		wordCount := (pool.frameCount() + 63) >> 6
		pool.freeBitmap = unsafe.Slice((*uint64)(unsafe.Pointer(pool.windowAddr)), wordCount)

		if tail := pool.frameCount() & 63; tail != 0 {
			pool.freeBitmap[wordCount-1] = allOnes << tail
		}
	}

	alloc.ready = true
	return nil
}

// AllocFrame reserves the lowest free frame, scanning pools in order. It
// returns errOutOfMemory once every tracked frame is allocated.
func (alloc *Allocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.ready {
		return mm.InvalidFrame, errNotInitialized
	}

	for i := 0; i < alloc.poolCount; i++ {
		pool := &alloc.pools[i]
		if pool.freeCount == 0 {
			continue
		}

		for wordIndex, word := range pool.freeBitmap {
			if word == allOnes {
				continue
			}

			bit := bits.TrailingZeros64(^word)
			pool.freeBitmap[wordIndex] = word | (1 << bit)
			pool.freeCount--
			return pool.startFrame + mm.Frame(wordIndex<<6+bit), nil
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// AllocFrameAt reserves the frame that contains physAddr. It fails with
// errFrameUnavailable if the frame is already allocated or is not tracked
// by any pool.
func (alloc *Allocator) AllocFrameAt(physAddr uintptr) (mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.ready {
		return mm.InvalidFrame, errNotInitialized
	}

	frame := mm.FrameFromAddress(physAddr)
	pool := alloc.poolForFrame(frame)
	if pool == nil {
		return mm.InvalidFrame, errFrameUnavailable
	}

	word, mask := bitFor(pool, frame)
	if pool.freeBitmap[word]&mask != 0 {
		return mm.InvalidFrame, errFrameUnavailable
	}

	pool.freeBitmap[word] |= mask
	pool.freeCount--
	return frame, nil
}

// FreeFrame returns a frame to its pool. Frames not tracked by any pool are
// ignored. Freeing a frame that is not allocated has no effect.
func (alloc *Allocator) FreeFrame(frame mm.Frame) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.ready {
		return
	}

	pool := alloc.poolForFrame(frame)
	if pool == nil {
		return
	}

	word, mask := bitFor(pool, frame)
	if pool.freeBitmap[word]&mask == 0 {
		return
	}

	pool.freeBitmap[word] &^= mask
	pool.freeCount++
}

// Stats returns the current frame counters.
func (alloc *Allocator) Stats() Stats {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	var stats Stats
	for i := 0; i < alloc.poolCount; i++ {
		stats.TotalFrames += alloc.pools[i].frameCount()
		stats.FreeFrames += alloc.pools[i].freeCount
		stats.BitmapFrames += uint64(alloc.pools[i].bitmapFrames)
	}
	return stats
}

// Pools returns a description of every pool.
func (alloc *Allocator) Pools() []PoolInfo {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	info := make([]PoolInfo, alloc.poolCount)
	for i := range info {
		info[i] = alloc.pools[i].info()
	}
	return info
}

func (p *framePool) info() PoolInfo {
	return PoolInfo{
		Bitmap: boot.MemoryRegion{
			Start: uint64(p.bitmapStart.Address()),
			End:   uint64(p.startFrame.Address()),
			Kind:  boot.KindReserved,
		},
		Usable: boot.MemoryRegion{
			Start: uint64(p.startFrame.Address()),
			End:   uint64(p.endFrame.Address()),
			Kind:  boot.KindUsable,
		},
		Window: p.windowAddr,
		Frames: p.frameCount(),
		Free:   p.freeCount,
	}
}

// poolForFrame returns the pool that tracks frame or nil.
func (alloc *Allocator) poolForFrame(frame mm.Frame) *framePool {
	for i := 0; i < alloc.poolCount; i++ {
		if alloc.pools[i].contains(frame) {
			return &alloc.pools[i]
		}
	}
	return nil
}

// bitFor returns the bitmap word index and bit mask for a frame inside pool.
func bitFor(pool *framePool, frame mm.Frame) (int, uint64) {
	bit := uint64(frame - pool.startFrame)
	return int(bit >> 6), uint64(1) << (bit & 63)
}
