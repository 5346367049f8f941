package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/goldencm/blanc-os/kernel"
	"github.com/goldencm/blanc-os/kernel/mm"
	"github.com/goldencm/blanc-os/kernel/mm/pmm"
)

var errNoWindow = errors.New("memory map has no usable region large enough for a frame pool")

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// simulation owns an allocator whose bitmaps live in a hosted window.
type simulation struct {
	alloc  pmm.Allocator
	win    *window
	mapped int
}

// newSimulation sets up an allocator for the scenario memory map.
func newSimulation(scn *Scenario) (*simulation, error) {
	memMap, err := scn.memoryMap()
	if err != nil {
		return nil, err
	}

	regions := memMap.Regions()
	size := pmm.BitmapWindowSize(regions)
	if size == 0 {
		return nil, errNoWindow
	}

	win, err := newWindow(int(size))
	if err != nil {
		return nil, err
	}

	sim := &simulation{win: win}
	base := addrOf(win.mem)
	limit := base + size

	mapFn := func(page mm.Page, _ mm.Frame) *kernel.Error {
		if addr := page.Address(); addr < base || addr >= limit {
			return &kernel.Error{Module: "memsim", Message: "bitmap page outside of the window"}
		}
		sim.mapped++
		return nil
	}

	if kerr := sim.alloc.Setup(regions, base, mapFn); kerr != nil {
		win.Close()
		return nil, fmt.Errorf("allocator setup: %w", kerr)
	}

	return sim, nil
}

func (sim *simulation) Close() error {
	return sim.win.Close()
}

// run executes the scenario workload and collects a report.
func run(ctx context.Context, scn *Scenario) (*Report, error) {
	sim, err := newSimulation(scn)
	if err != nil {
		return nil, err
	}
	defer sim.Close()

	report := &Report{
		Scenario:     scn.Name,
		WindowBytes:  uint64(len(sim.win.mem)),
		MappedFrames: sim.mapped,
	}

	for _, pool := range sim.alloc.Pools() {
		report.Pools = append(report.Pools, PoolReport{
			BitmapStart: pool.Bitmap.Start,
			BitmapEnd:   pool.Bitmap.End,
			UsableStart: pool.Usable.Start,
			UsableEnd:   pool.Usable.End,
			Frames:      pool.Frames,
		})
	}

	if err = sim.reserve(scn.Reserve, report); err != nil {
		return nil, err
	}

	if err = sim.allocSequential(scn.Allocations, report); err != nil {
		return nil, err
	}

	if scn.Stress != nil {
		if report.Stress, err = sim.stress(ctx, scn.Stress); err != nil {
			return nil, err
		}
	}

	stats := sim.alloc.Stats()
	report.TotalFrames = stats.TotalFrames
	report.FreeFrames = stats.FreeFrames
	report.BitmapFrames = stats.BitmapFrames
	return report, nil
}

func (sim *simulation) reserve(addrs []uint64, report *Report) error {
	for _, addr := range addrs {
		frame, kerr := sim.alloc.AllocFrameAt(uintptr(addr))
		if kerr != nil {
			return fmt.Errorf("reserving 0x%x: %w", addr, kerr)
		}
		report.Reserved = append(report.Reserved, uint64(frame.Address()))
	}

	return nil
}

// allocSequential allocates count frames, checking that every frame is new,
// then frees the last one and verifies that it is handed out again.
func (sim *simulation) allocSequential(count int, report *Report) error {
	if count == 0 {
		return nil
	}

	seen := make(map[mm.Frame]struct{}, count)
	var last mm.Frame
	for i := 0; i < count; i++ {
		frame, kerr := sim.alloc.AllocFrame()
		if kerr != nil {
			return fmt.Errorf("allocation %d: %w", i, kerr)
		}

		if _, dup := seen[frame]; dup {
			return fmt.Errorf("allocation %d: frame 0x%x handed out twice", i, frame)
		}
		seen[frame] = struct{}{}

		if i == 0 {
			report.FirstFrame = uint64(frame.Address())
		}
		last = frame
	}
	report.LastFrame = uint64(last.Address())
	report.Allocated = uint64(count)

	sim.alloc.FreeFrame(last)
	again, kerr := sim.alloc.AllocFrame()
	if kerr != nil {
		return fmt.Errorf("round trip: %w", kerr)
	}

	if again != last {
		return fmt.Errorf("round trip: freed frame 0x%x but got 0x%x back", last, again)
	}

	return nil
}

// stress runs concurrent workers that allocate and free frames and checks
// that no frame is ever owned by two workers at once. Every frame obtained
// by a worker is freed before it returns.
func (sim *simulation) stress(ctx context.Context, cfg *Stress) (*StressReport, error) {
	var (
		owners sync.Map
		allocs atomic.Uint64
		frees  atomic.Uint64
		start  = time.Now()
	)

	freeBefore := sim.alloc.Stats().FreeFrames

	g, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < cfg.Workers; worker++ {
		g.Go(func() error {
			held := make([]mm.Frame, 0, cfg.Iterations)
			defer func() {
				for _, frame := range held {
					owners.Delete(frame)
					sim.alloc.FreeFrame(frame)
					frees.Add(1)
				}
			}()

			for i := 0; i < cfg.Iterations; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}

				frame, kerr := sim.alloc.AllocFrame()
				if kerr != nil {
					return fmt.Errorf("worker %d: %w", worker, kerr)
				}
				allocs.Add(1)

				if other, loaded := owners.LoadOrStore(frame, worker); loaded {
					return fmt.Errorf("worker %d: frame 0x%x already owned by worker %d", worker, frame, other)
				}
				held = append(held, frame)

				if i%2 == 1 {
					frame, held = held[len(held)-1], held[:len(held)-1]
					owners.Delete(frame)
					sim.alloc.FreeFrame(frame)
					frees.Add(1)
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if freeAfter := sim.alloc.Stats().FreeFrames; freeAfter != freeBefore {
		return nil, fmt.Errorf("stress: free frame count changed from %d to %d", freeBefore, freeAfter)
	}

	return &StressReport{
		Workers:  cfg.Workers,
		Allocs:   allocs.Load(),
		Frees:    frees.Load(),
		Duration: time.Since(start).String(),
	}, nil
}
