package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in a table at any level.
	entriesPerTable = 512

	// entryIndexMask extracts a single level index from a shifted virtual address.
	entryIndexMask = uintptr(entriesPerTable - 1)

	// ptePhysPageMask extracts the physical frame address from a page
	// table entry. For this architecture, bits 12-51 hold the address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// canonicalSignBit is the highest implemented virtual address bit; it
	// must be copied into bits 48-63.
	canonicalSignBit = uintptr(1) << 47

	canonicalHighBits = uintptr(0xffff) << 48
)

// pageLevelShifts defines the shift required to access each page table
// component of a virtual address, from P4 down to P1.
var pageLevelShifts = [pageLevels]uint8{
	39,
	30,
	21,
	12,
}

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when using 2Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal prevents the TLB from flushing the cached translation for
	// this page when CR3 is reloaded.
	FlagGlobal

	// FlagNoExecute marks a page as non-executable.
	FlagNoExecute = 1 << 63
)
