// Package heap maps the kernel heap arena. The allocator that carves objects
// out of the arena lives outside of this package; it only needs the arena to
// be backed by physical frames.
package heap

import (
	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/kfmt"
	"github.com/goldencm/blanc-os/kernel/mm"
	"github.com/goldencm/blanc-os/kernel/mm/pmm"
	"github.com/goldencm/blanc-os/kernel/mm/vmm"
)

const (
	// Start is the virtual address of the first heap byte (P4 slot 480).
	Start = uintptr(0xffff_f000_0000_0000)

	// Size is the size of the heap arena in bytes.
	Size = uintptr(100 * 1024)
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mapFn        = vmm.Map
	unmapFn      = vmm.Unmap
	translateFn  = vmm.Translate
	frameAllocFn = mm.AllocFrame
	frameFreeFn  = pmm.FreeFrame

	mapped bool
)

// Init backs every page of the heap arena with a freshly allocated frame. The
// frame allocator must be installed before calling Init.
func Init() *kernel.Error {
	return mapArena(Start, Size)
}

// mapArena establishes an RW, non-executable mapping for [start, start+size)
// rounded up to whole pages. If any page cannot be mapped, the pages mapped
// so far are unmapped and their frames returned to the allocator.
func mapArena(start, size uintptr) *kernel.Error {
	var (
		mapFlags  = vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
		pageCount = mm.AlignUp(size) >> mm.PageShift
		firstPage = mm.PageFromAddress(start)
	)

	for page := firstPage; pageCount > 0; pageCount, page = pageCount-1, page+1 {
		frame, err := frameAllocFn()
		if err != nil {
			unmapPages(firstPage, page)
			return err
		}

		if err = mapFn(page, frame, mapFlags); err != nil {
			frameFreeFn(frame)
			unmapPages(firstPage, page)
			return err
		}
	}

	mapped = true
	kfmt.Printf("[heap] mapped arena [0x%16x - 0x%16x)\n", start, start+mm.AlignUp(size))
	return nil
}

// unmapPages removes the mappings for [from, to) and frees the frames that
// backed them. Pages whose mapping cannot be removed keep their frame.
func unmapPages(from, to mm.Page) {
	for page := from; page < to; page++ {
		physAddr, err := translateFn(page.Address())
		if err != nil {
			continue
		}

		if err = unmapFn(page); err != nil {
			continue
		}

		frameFreeFn(mm.FrameFromAddress(physAddr))
	}
}

// Arena returns the bounds of the heap arena and whether it has been mapped.
func Arena() (start, size uintptr, ok bool) {
	return Start, Size, mapped
}
