package main

import (
	"fmt"
	"io"

	"github.com/sugawarayuuta/sonnet"
)

// PoolReport describes the layout of a single frame pool.
type PoolReport struct {
	BitmapStart uint64 `json:"bitmap_start"`
	BitmapEnd   uint64 `json:"bitmap_end"`
	UsableStart uint64 `json:"usable_start"`
	UsableEnd   uint64 `json:"usable_end"`
	Frames      uint64 `json:"frames"`
}

// StressReport summarizes the concurrent allocation phase.
type StressReport struct {
	Workers  int    `json:"workers"`
	Allocs   uint64 `json:"allocs"`
	Frees    uint64 `json:"frees"`
	Duration string `json:"duration"`
}

// Report is the outcome of a scenario run.
type Report struct {
	Scenario     string       `json:"scenario"`
	WindowBytes  uint64       `json:"window_bytes"`
	MappedFrames int          `json:"mapped_frames"`
	Pools        []PoolReport `json:"pools"`

	Reserved   []uint64 `json:"reserved,omitempty"`
	Allocated  uint64   `json:"allocated"`
	FirstFrame uint64   `json:"first_frame"`
	LastFrame  uint64   `json:"last_frame"`

	TotalFrames  uint64 `json:"total_frames"`
	FreeFrames   uint64 `json:"free_frames"`
	BitmapFrames uint64 `json:"bitmap_frames"`

	Stress *StressReport `json:"stress,omitempty"`
}

// writeJSON encodes r as a single JSON document followed by a newline.
func (r *Report) writeJSON(w io.Writer) error {
	data, err := sonnet.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	_, err = w.Write(append(data, '\n'))
	return err
}

// writeText prints r in the same layout the kernel uses for its boot log.
func (r *Report) writeText(w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("[memsim] scenario %q\n", r.Scenario)
	for i, pool := range r.Pools {
		ew.printf("[memsim] pool %d: bitmap [0x%010x - 0x%010x), frames [0x%010x - 0x%010x) (%d frames)\n",
			i, pool.BitmapStart, pool.BitmapEnd, pool.UsableStart, pool.UsableEnd, pool.Frames)
	}
	ew.printf("[memsim] window %d bytes, %d bitmap frames mapped\n", r.WindowBytes, r.MappedFrames)

	for _, addr := range r.Reserved {
		ew.printf("[memsim] reserved frame 0x%010x\n", addr)
	}

	if r.Allocated != 0 {
		ew.printf("[memsim] allocated %d frames [0x%010x .. 0x%010x]\n", r.Allocated, r.FirstFrame, r.LastFrame)
	}

	if r.Stress != nil {
		ew.printf("[memsim] stress: %d workers, %d allocs, %d frees in %s\n",
			r.Stress.Workers, r.Stress.Allocs, r.Stress.Frees, r.Stress.Duration)
	}

	ew.printf("[memsim] %d/%d frames free (%dKb), %d bitmap frames\n",
		r.FreeFrames, r.TotalFrames, r.FreeFrames<<2, r.BitmapFrames)

	return ew.err
}

// errWriter remembers the first write error so the caller only needs to
// check once.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
