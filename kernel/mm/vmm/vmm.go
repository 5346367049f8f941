// Package vmm provides page-table services on top of a recursively mapped P4
// table set up by the boot stage.
package vmm

import (
	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/cpu"
	"github.com/goldencm/blanc-os/kernel/kfmt"
	"github.com/goldencm/blanc-os/kernel/mm"
)

var (
	// activePDTFn is used by tests to override calls to cpu.ActivePDT
	// which will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	errInvalidRecursiveIndex = &kernel.Error{Module: "vmm", Message: "recursive page table index out of range"}
	errRecursiveSlotMismatch = &kernel.Error{Module: "vmm", Message: "recursive P4 slot does not point to the active P4 table"}
)

// Init records the P4 slot that the boot stage mapped onto the P4 table
// itself. All table accesses performed by this package go through that slot,
// so Init checks that the slot really points back at the active P4 table
// (CR3) before accepting it.
func Init(index uint16) *kernel.Error {
	if index >= entriesPerTable {
		return errInvalidRecursiveIndex
	}

	prevIndex := recursiveIndex
	recursiveIndex = uintptr(index)

	p4Addr := tableAddr(0, 0)
	slot := (*pageTableEntry)(ptePtrFn(p4Addr + (recursiveIndex << mm.PointerShift)))
	if !slot.HasFlags(FlagPresent) || slot.Frame().Address() != activePDTFn()&ptePhysPageMask {
		recursiveIndex = prevIndex
		return errRecursiveSlotMismatch
	}

	kfmt.Printf("[vmm] recursive P4 slot %d, P4 table at 0x%16x\n", index, p4Addr)
	return nil
}
