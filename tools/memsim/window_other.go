//go:build !unix

package main

import "github.com/goldencm/blanc-os/kernel/mm"

// window is heap memory standing in for the kernel's bitmap window.
type window struct {
	mem []byte
	buf []byte
}

// newWindow allocates size bytes of zeroed memory and aligns the usable
// part to a page boundary.
func newWindow(size int) (*window, error) {
	buf := make([]byte, size+int(mm.PageSize))
	offset := int(mm.AlignUp(addrOf(buf)) - addrOf(buf))
	return &window{mem: buf[offset : offset+size], buf: buf}, nil
}

func (w *window) Close() error {
	w.mem, w.buf = nil, nil
	return nil
}
