package heap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/kfmt"
	"github.com/goldencm/blanc-os/kernel/mm"
	"github.com/goldencm/blanc-os/kernel/mm/pmm"
	"github.com/goldencm/blanc-os/kernel/mm/vmm"
)

func restoreMocks() {
	mapFn = vmm.Map
	unmapFn = vmm.Unmap
	translateFn = vmm.Translate
	frameAllocFn = mm.AllocFrame
	frameFreeFn = pmm.FreeFrame
	mapped = false
}

// fakePageTables tracks page mappings in a map so tests can check that a
// failed Init leaves nothing behind.
type fakePageTables struct {
	pages     map[mm.Page]mm.Frame
	freed     []mm.Frame
	nextFrame mm.Frame

	failAlloc, failMap, failUnmap int
	allocCalls, mapCalls          int
	unmapFailPage                 mm.Page
}

func (pt *fakePageTables) install(expErr *kernel.Error) {
	pt.pages = make(map[mm.Page]mm.Frame)
	pt.nextFrame = 0x300

	frameAllocFn = func() (mm.Frame, *kernel.Error) {
		pt.allocCalls++
		if pt.allocCalls == pt.failAlloc {
			return mm.InvalidFrame, expErr
		}
		pt.nextFrame++
		return pt.nextFrame, nil
	}

	mapFn = func(page mm.Page, frame mm.Frame, _ vmm.PageTableEntryFlag) *kernel.Error {
		pt.mapCalls++
		if pt.mapCalls == pt.failMap {
			return expErr
		}
		pt.pages[page] = frame
		return nil
	}

	translateFn = func(virtAddr uintptr) (uintptr, *kernel.Error) {
		frame, ok := pt.pages[mm.PageFromAddress(virtAddr)]
		if !ok {
			return 0, vmm.ErrInvalidMapping
		}
		return frame.Address() + vmm.PageOffset(virtAddr), nil
	}

	unmapFn = func(page mm.Page) *kernel.Error {
		if pt.failUnmap != 0 && page == pt.unmapFailPage {
			return expErr
		}
		delete(pt.pages, page)
		return nil
	}

	frameFreeFn = func(frame mm.Frame) {
		pt.freed = append(pt.freed, frame)
	}
}

func TestInit(t *testing.T) {
	defer func() {
		restoreMocks()
		kfmt.SetOutputSink(nil)
	}()

	var (
		logBuf    bytes.Buffer
		nextFrame = mm.Frame(0x300)
		pages     = make(map[mm.Page]mm.Frame)
	)

	kfmt.SetOutputSink(&logBuf)

	frameAllocFn = func() (mm.Frame, *kernel.Error) {
		nextFrame++
		return nextFrame, nil
	}

	mapFn = func(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		if exp := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute; flags != exp {
			t.Errorf("expected heap pages to be mapped with flags 0x%x; got 0x%x", exp, flags)
		}

		if _, dup := pages[page]; dup {
			t.Errorf("page 0x%x mapped twice", page)
		}
		pages[page] = frame
		return nil
	}

	if _, _, ok := Arena(); ok {
		t.Fatal("expected arena not to be mapped before Init")
	}

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	if exp := 25; len(pages) != exp {
		t.Fatalf("expected %d pages to be mapped; got %d", exp, len(pages))
	}

	first := mm.PageFromAddress(Start)
	for i := mm.Page(0); i < 25; i++ {
		if _, ok := pages[first+i]; !ok {
			t.Errorf("expected heap page %d to be mapped", i)
		}
	}

	if start, size, ok := Arena(); !ok || start != Start || size != Size {
		t.Fatalf("unexpected arena: 0x%x, %d, %t", start, size, ok)
	}

	if exp := "[heap] mapped arena [0xfffff00000000000 - 0xfffff00000019000)"; !strings.Contains(logBuf.String(), exp) {
		t.Fatalf("expected log output to contain %q; got %q", exp, logBuf.String())
	}
}

func TestInitErrors(t *testing.T) {
	defer restoreMocks()

	var (
		expErr    = &kernel.Error{Module: "test", Message: "out of memory"}
		firstPage = mm.PageFromAddress(Start)
	)

	specs := []struct {
		failAlloc, failMap, failUnmap int
		expFreed                      []mm.Frame
		expLeftMapped                 int
	}{
		// third frame allocation fails; the first two pages are rolled back
		{3, 0, 0, []mm.Frame{0x301, 0x302}, 0},
		// third mapping fails; its frame is released along with the
		// frames of the pages mapped before it
		{0, 3, 0, []mm.Frame{0x303, 0x301, 0x302}, 0},
		// a page whose mapping cannot be removed keeps its frame
		{0, 3, 1, []mm.Frame{0x303, 0x302}, 1},
	}

	for specIndex, spec := range specs {
		pt := &fakePageTables{
			failAlloc:     spec.failAlloc,
			failMap:       spec.failMap,
			failUnmap:     spec.failUnmap,
			unmapFailPage: firstPage,
		}
		pt.install(expErr)

		if err := Init(); err != expErr {
			t.Errorf("[spec %d] expected to get error %v; got %v", specIndex, expErr, err)
			continue
		}

		if len(pt.pages) != spec.expLeftMapped {
			t.Errorf("[spec %d] expected %d pages to remain mapped; got %d", specIndex, spec.expLeftMapped, len(pt.pages))
		}

		if len(pt.freed) != len(spec.expFreed) {
			t.Errorf("[spec %d] expected frames %v to be freed; got %v", specIndex, spec.expFreed, pt.freed)
			continue
		}

		for i, exp := range spec.expFreed {
			if pt.freed[i] != exp {
				t.Errorf("[spec %d] expected frames %v to be freed; got %v", specIndex, spec.expFreed, pt.freed)
				break
			}
		}
	}

	if _, _, ok := Arena(); ok {
		t.Fatal("expected arena to remain unmapped after failed Init calls")
	}
}
