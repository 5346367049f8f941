package vmm

import (
	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/cpu"
	"github.com/goldencm/blanc-os/kernel/mm"
)

var (
	// nextAddrFn is used by tests to override the address of a freshly
	// installed page table before it gets cleared. When compiling the
	// kernel this function will be automatically inlined.
	nextAddrFn = func(addr uintptr) uintptr {
		return addr
	}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// Map establishes a mapping between a virtual page and a physical memory frame
// using the currently active page directory table. Missing intermediate page
// tables are backed by frames obtained from mm.AllocFrame.
func Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return MapWith(page, frame, flags, mm.AllocFrame)
}

// MapWith behaves like Map but obtains the frames for any missing intermediate
// page tables from allocFn. An allocFn that always fails restricts the mapping
// to page tables that already exist.
func MapWith(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, allocFn mm.FrameAllocatorFn) *kernel.Error {
	var (
		err      *kernel.Error
		virtAddr = page.Address()
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(virtAddr)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it map it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			newTableFrame, err = allocFn()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			kernel.Memset(nextAddrFn(tableAddr(pteLevel+1, virtAddr)), 0, mm.PageSize)
		}

		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to Map.
func Unmap(page mm.Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to set the
		// page as non-present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		// Next table is not present; this is an invalid mapping
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}
