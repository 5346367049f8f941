// Package multiboot decodes the parts of the multiboot2 information block that
// the memory core depends on.
package multiboot

import (
	"unsafe"

	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/boot"
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// tagHeader describes the header that precedes each tag.
type tagHeader struct {
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at an 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown is reported as boot.KindUnknown.
	memUnknown
)

// Kind converts the entry type to the matching boot.RegionKind.
func (t MemoryEntryType) Kind() boot.RegionKind {
	switch t {
	case MemAvailable:
		return boot.KindUsable
	case MemReserved:
		return boot.KindReserved
	case MemAcpiReclaimable:
		return boot.KindACPIReclaimable
	case MemNvs:
		return boot.KindNVS
	default:
		return boot.KindUnknown
	}
}

// MemoryMapEntry describes a memory region entry as laid out by the boot
// loader.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region
// provided by the boot loader. The visitor must return true to continue or
// false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

var (
	infoData uintptr

	errNoMemoryMap = &kernel.Error{Module: "multiboot", Message: "boot info does not contain a memory map"}
)

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes the supplied visitor for each memory region that is
// defined by the multiboot info data that we received from the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	// A corrupt entry size would never advance past the first entry.
	if uintptr(ptrMapHeader.entrySize) < unsafe.Sizeof(MemoryMapEntry{}) {
		return
	}

	for ; curPtr+uintptr(ptrMapHeader.entrySize) <= endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		if !visitor((*MemoryMapEntry)(unsafe.Pointer(curPtr))) {
			return
		}
	}
}

// ReadMemoryMap copies the boot loader memory map into m. Entries keep the
// order reported by the boot loader.
func ReadMemoryMap(m *boot.MemoryMap) *kernel.Error {
	var (
		err     *kernel.Error
		visited int
	)

	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		visited++
		err = m.Append(boot.MemoryRegion{
			Start: entry.PhysAddress,
			End:   entry.PhysAddress + entry.Length,
			Kind:  entry.Type.Kind(),
		})
		return err == nil
	})

	if err == nil && visited == 0 {
		err = errNoMemoryMap
	}

	return err
}

// findTagByType scans the multiboot info data looking for the start of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length excluding the tag header.
//
// If the tag is not present in the multiboot info, findTagByType will return
// back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
