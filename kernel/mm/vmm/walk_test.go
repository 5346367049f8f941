package vmm

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/goldencm/blanc-os/kernel/mm"
)

func TestPtePtrFn(t *testing.T) {
	// Dummy test to keep coverage happy
	if exp, got := unsafe.Pointer(uintptr(123)), ptePtrFn(uintptr(123)); exp != got {
		t.Fatalf("expected ptePtrFn to return %v; got %v", exp, got)
	}
}

func TestCanonical(t *testing.T) {
	specs := []struct {
		in, exp uintptr
	}{
		{0x0000_7fff_ffff_f000, 0x0000_7fff_ffff_f000},
		{0x0000_ff80_0000_0000, 0xffff_ff80_0000_0000},
		{0xffff_ff00_0000_0000, 0xffff_ff00_0000_0000},
		{0x1234_0000_0000_1000, 0x0000_0000_0000_1000},
	}

	for specIndex, spec := range specs {
		if got := canonical(spec.in); got != spec.exp {
			t.Errorf("[spec %d] expected 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
	}
}

func TestTableAddr(t *testing.T) {
	defer func(orig uintptr) { recursiveIndex = orig }(recursiveIndex)

	// indices: 480, 1, 2, 3
	virtAddr := uintptr(0xffff_f000_4040_3000)

	specs := []struct {
		index uintptr
		level uint8
		exp   uintptr
	}{
		{511, 0, 0xffff_ffff_ffff_f000},
		{511, 1, 0xffff_ffff_ffe0_0000 | 480<<12},
		{511, 2, 0xffff_ffff_c000_0000 | 480<<21 | 1<<12},
		{511, 3, 0xffff_ff80_0000_0000 | 480<<30 | 1<<21 | 2<<12},
		{510, 0, 0xffff_ff7f_bfdf_e000},
		{256, 0, 0xffff_8040_2010_0000},
		{1, 3, 1<<39 | 480<<30 | 1<<21 | 2<<12},
	}

	for specIndex, spec := range specs {
		recursiveIndex = spec.index
		if got := tableAddr(spec.level, virtAddr); got != spec.exp {
			t.Errorf("[spec %d] expected table address for level %d to be 0x%x; got 0x%x", specIndex, spec.level, spec.exp, got)
		}
	}
}

func TestWalkAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origIndex uintptr) {
		ptePtrFn = origPtePtr
		recursiveIndex = origIndex
	}(ptePtrFn, recursiveIndex)

	// This address breaks down to:
	// p4 index: 1
	// p3 index: 2
	// p2 index: 3
	// p1 index: 4
	// offset  : 1024
	targetAddr := uintptr(0x8080604400)

	sizeofPteEntry := uintptr(unsafe.Sizeof(pageTableEntry(0)))

	specs := []struct {
		index            uintptr
		expEntryAddrBits [pageLevels][pageLevels + 1]uintptr
	}{
		{
			511,
			[pageLevels][pageLevels + 1]uintptr{
				{511, 511, 511, 511, 1 * sizeofPteEntry},
				{511, 511, 511, 1, 2 * sizeofPteEntry},
				{511, 511, 1, 2, 3 * sizeofPteEntry},
				{511, 1, 2, 3, 4 * sizeofPteEntry},
			},
		},
		{
			42,
			[pageLevels][pageLevels + 1]uintptr{
				{42, 42, 42, 42, 1 * sizeofPteEntry},
				{42, 42, 42, 1, 2 * sizeofPteEntry},
				{42, 42, 1, 2, 3 * sizeofPteEntry},
				{42, 1, 2, 3, 4 * sizeofPteEntry},
			},
		},
	}

	for specIndex, spec := range specs {
		recursiveIndex = spec.index

		pteCallCount := 0
		ptePtrFn = func(entry uintptr) unsafe.Pointer {
			if pteCallCount >= pageLevels {
				t.Fatalf("[spec %d] unexpected call to ptePtrFn; already called %d times", specIndex, pageLevels)
			}

			for i := uint8(0); i < pageLevels; i++ {
				pteIndex := entryIndex(i, entry)
				if exp := spec.expEntryAddrBits[pteCallCount][i]; pteIndex != exp {
					t.Errorf("[spec %d] [ptePtrFn call %d] expected pte entry for level %d to use offset %d; got %d", specIndex, pteCallCount, i, exp, pteIndex)
				}
			}

			// Check the page offset
			if exp, got := spec.expEntryAddrBits[pteCallCount][pageLevels], entry&(mm.PageSize-1); got != exp {
				t.Errorf("[spec %d] [ptePtrFn call %d] expected pte offset to be %d; got %d", specIndex, pteCallCount, exp, got)
			}

			pteCallCount++

			return unsafe.Pointer(uintptr(0xf00))
		}

		walkFnCallCount := 0
		walk(targetAddr, func(level uint8, entry *pageTableEntry) bool {
			walkFnCallCount++
			return walkFnCallCount != pageLevels
		})

		if pteCallCount != pageLevels {
			t.Errorf("[spec %d] expected ptePtrFn to be called %d times; got %d", specIndex, pageLevels, pteCallCount)
		}
	}
}
