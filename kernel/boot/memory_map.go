// Package boot describes the machine state handed to the kernel by the boot
// stage: the physical memory map and the recursive page table slot.
package boot

import "github.com/goldencm/blanc-os/kernel"

// RegionKind classifies a physical memory region.
type RegionKind uint8

const (
	// KindUsable marks RAM that the kernel may hand out.
	KindUsable RegionKind = iota

	// KindReserved marks memory that must never be touched.
	KindReserved

	// KindACPIReclaimable marks memory holding ACPI tables. It becomes
	// usable once the tables have been parsed.
	KindACPIReclaimable

	// KindNVS marks memory that must be preserved across sleep states.
	KindNVS

	// KindBootloader marks memory used by the boot stage (page tables,
	// boot info).
	KindBootloader

	// KindKernel marks the loaded kernel image.
	KindKernel

	// KindUnknown is used for types the firmware reported but the
	// kernel does not recognize.
	KindUnknown
)

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	switch k {
	case KindUsable:
		return "usable"
	case KindReserved:
		return "reserved"
	case KindACPIReclaimable:
		return "ACPI (reclaimable)"
	case KindNVS:
		return "NVS"
	case KindBootloader:
		return "bootloader"
	case KindKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// MemoryRegion describes the physical range [Start, End).
type MemoryRegion struct {
	Start uint64
	End   uint64
	Kind  RegionKind
}

// Size returns the length of the region in bytes.
func (r MemoryRegion) Size() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// MaxRegions is the number of entries a MemoryMap can hold. The map lives
// in a fixed array as it is populated before any allocator is available.
const MaxRegions = 64

var (
	errMemoryMapFull = &kernel.Error{Module: "boot", Message: "memory map is full"}
)

// MemoryMap is an ordered list of memory regions backed by fixed storage.
type MemoryMap struct {
	entries [MaxRegions]MemoryRegion
	count   int
}

// Append adds a region to the end of the map. Empty regions are ignored.
func (m *MemoryMap) Append(region MemoryRegion) *kernel.Error {
	if region.Size() == 0 {
		return nil
	}

	if m.count == MaxRegions {
		return errMemoryMapFull
	}

	m.entries[m.count] = region
	m.count++
	return nil
}

// Regions returns the populated entries. The returned slice aliases the map
// storage.
func (m *MemoryMap) Regions() []MemoryRegion {
	return m.entries[:m.count]
}

// Len returns the number of entries in the map.
func (m *MemoryMap) Len() int {
	return m.count
}

// Exclude re-labels the part of every usable region that overlaps [start,
// end) with the supplied kind, splitting regions where required. Regions of
// any other kind are left untouched.
func (m *MemoryMap) Exclude(start, end uint64, kind RegionKind) *kernel.Error {
	if end <= start {
		return nil
	}

	for i := 0; i < m.count; i++ {
		r := m.entries[i]
		if r.Kind != KindUsable || end <= r.Start || start >= r.End {
			continue
		}

		var (
			pieces [3]MemoryRegion
			n      int
		)

		if start > r.Start {
			pieces[n] = MemoryRegion{Start: r.Start, End: start, Kind: KindUsable}
			n++
		}

		pieces[n] = MemoryRegion{Start: max(start, r.Start), End: min(end, r.End), Kind: kind}
		n++

		if end < r.End {
			pieces[n] = MemoryRegion{Start: end, End: r.End, Kind: KindUsable}
			n++
		}

		if m.count+n-1 > MaxRegions {
			return errMemoryMapFull
		}

		// Shift the tail to make room for the extra pieces.
		copy(m.entries[i+n:m.count+n-1], m.entries[i+1:m.count])
		copy(m.entries[i:i+n], pieces[:n])
		m.count += n - 1
		i += n - 1
	}

	return nil
}

// UsableBytes returns the total size of all usable regions.
func (m *MemoryMap) UsableBytes() uint64 {
	var total uint64
	for _, r := range m.Regions() {
		if r.Kind == KindUsable {
			total += r.Size()
		}
	}
	return total
}

// DefaultRecursiveIndex is the P4 slot that the boot stage maps back onto
// the P4 table itself.
const DefaultRecursiveIndex = uint16(511)

// Info bundles everything the memory core needs from the boot stage.
type Info struct {
	Memory MemoryMap

	// RecursiveIndex is the P4 entry that points back to the P4 table.
	RecursiveIndex uint16
}
