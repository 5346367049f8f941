// Package kfmt implements the kernel's logging facilities: an allocation-free
// Printf, an early-output ring buffer and the kernel panic handler.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

const hexDigits = "0123456789abcdef"

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// numBuf holds the digits of the number being formatted. It is
	// filled from the end so the result is always numBuf[start:].
	numBuf [maxBufSize + 1]byte

	// oneByte is a shared buffer for passing single characters to doWrite.
	oneByte [1]byte

	// earlyPrintBuffer captures Printf output until an output sink is
	// registered.
	earlyPrintBuffer ringBuffer

	// outputSink is where Printf sends its output. While nil, output is
	// redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and replays
// any output accumulated in the early print buffer.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go allocator has been set up. The following verbs are supported:
//
//	%s string or []byte
//	%d base 10 integer
//	%o base 8 integer
//	%x base 16 integer (lower-case)
//	%t bool
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
//
// Arguments are never checked for io.Stringer support and %p is not
// available; both would pull in reflect and trigger allocations.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		verb     byte
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		switch verb = format[i]; verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'o', 'x', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		switch verb {
		case 'd':
			fmtInt(w, args[argIndex], 10, width)
		case 'o':
			fmtInt(w, args[argIndex], 8, width)
		case 'x':
			fmtInt(w, args[argIndex], 16, width)
		case 's':
			fmtString(w, args[argIndex], width)
		case 't':
			fmtBool(w, args[argIndex])
		}
		argIndex++
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a formatted version of string or []byte value v, left
// padding it with spaces up to width.
func fmtString(w io.Writer, v interface{}, width int) {
	switch sVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(sVal))
		// converting the string to a byte slice triggers a memory
		// allocation so it is written one byte at a time.
		for i := 0; i < len(sVal); i++ {
			writeByte(w, sVal[i])
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(sVal))
		doWrite(w, sVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count copies of ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by width. All built-in integer types are supported.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		uval uint64
		sval int64
		neg  bool
	)

	switch iVal := v.(type) {
	case uint8:
		uval = uint64(iVal)
	case uint16:
		uval = uint64(iVal)
	case uint32:
		uval = uint64(iVal)
	case uint64:
		uval = iVal
	case uint:
		uval = uint64(iVal)
	case uintptr:
		uval = uint64(iVal)
	case int8:
		sval = int64(iVal)
	case int16:
		sval = int64(iVal)
	case int32:
		sval = int64(iVal)
	case int64:
		sval = iVal
	case int:
		sval = int64(iVal)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if sval < 0 {
		neg, uval = true, uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	if width >= maxBufSize {
		width = maxBufSize - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	start := len(numBuf)
	for {
		start--
		numBuf[start] = hexDigits[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	// With space padding the sign sits right before the digits and
	// counts towards the width; with zero padding it precedes the zeroes.
	if neg && padCh == ' ' {
		start--
		numBuf[start] = '-'
	}

	for len(numBuf)-start < width {
		start--
		numBuf[start] = padCh
	}

	if neg && padCh == '0' {
		start--
		numBuf[start] = '-'
	}

	doWrite(w, numBuf[start:])
}

// writeByte writes a single byte via the shared oneByte buffer.
func writeByte(w io.Writer, b byte) {
	oneByte[0] = b
	doWrite(w, oneByte[:])
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without it, the call to the dynamic io.Writer
// makes p escape and every Printf call would allocate, crashing the kernel
// if it happens before the Go allocator is available.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(p)
	} else {
		_, _ = earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
