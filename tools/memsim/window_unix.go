//go:build unix

package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// window is anonymous memory standing in for the kernel's bitmap window.
type window struct {
	mem []byte
}

// newWindow maps size bytes of zeroed, page-aligned memory.
func newWindow(size int) (*window, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping %d byte bitmap window: %w", size, err)
	}

	return &window{mem: mem}, nil
}

func (w *window) Close() error {
	if w.mem == nil {
		return nil
	}

	err := unix.Munmap(w.mem)
	w.mem = nil
	return err
}
