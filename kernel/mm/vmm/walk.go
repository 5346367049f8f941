package vmm

import (
	"unsafe"

	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/mm"
)

var (
	// recursiveIndex is the P4 slot that points back at the P4 table. It
	// is set by Init.
	recursiveIndex = uintptr(511)

	// ptePtrFn returns a pointer to the supplied entry address. It is
	// used by tests to override the generated page table entry pointers so
	// walk() can be properly tested. When compiling the kernel this function
	// will be automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// canonical sign-extends bit 47 of addr into the upper 16 bits.
func canonical(addr uintptr) uintptr {
	if addr&canonicalSignBit != 0 {
		return addr | canonicalHighBits
	}
	return addr &^ canonicalHighBits
}

// tableAddr returns the virtual address through which the page table used
// at the given level for virtAddr can be accessed. Level 0 is the P4 table.
//
// With the recursive slot r, the P4 lives at (r, r, r, r), the P3 for a P4
// index a at (r, r, r, a), the P2 at (r, r, a, b) and the P1 at (r, a, b, c).
func tableAddr(level uint8, virtAddr uintptr) uintptr {
	var (
		addr      uintptr
		recursive = pageLevels - level
		index     uintptr
	)

	for slot := uint8(0); slot < pageLevels; slot++ {
		index = recursiveIndex
		if slot >= recursive {
			index = (virtAddr >> pageLevelShifts[slot-recursive]) & entryIndexMask
		}
		addr |= index << pageLevelShifts[slot]
	}

	return canonical(addr)
}

// entryIndex returns the index into the table at the given level for virtAddr.
func entryIndex(level uint8, virtAddr uintptr) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & entryIndexMask
}

// walk performs a page table walk for the given virtual address. It calls the
// supplied walkFn with the page table entry that corresponds to each page
// table level. If walkFn returns false then the walk is aborted.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	for level := uint8(0); level < pageLevels; level++ {
		entryAddr := tableAddr(level, virtAddr) + (entryIndex(level, virtAddr) << mm.PointerShift)
		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}
	}
}

// pteForAddress returns the final page table entry that corresponds to a
// particular virtual address, or ErrInvalidMapping if the page is not present
// at any level.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	walk(virtAddr, func(_ uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}
