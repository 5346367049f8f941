package kernel

import (
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(uintptr(0), 0x00, 0)

	for _, size := range []int{1, 7, 4096, 3 * 4096, 4096 + 13} {
		buf := make([]byte, size+1)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		Memset(uintptr(unsafe.Pointer(&buf[0])), 0x00, uintptr(size))

		for i := 0; i < size; i++ {
			if got := buf[i]; got != 0x00 {
				t.Fatalf("[size %d] expected byte %d to be 0x00; got 0x%x", size, i, got)
			}
		}

		if got := buf[size]; got != 0xFE {
			t.Errorf("[size %d] expected Memset not to touch the byte past the region end; got 0x%x", size, got)
		}
	}
}
