// Package assembler concatenates the scattered fragments of a decode unit
// into one contiguous elementary-stream buffer.
package assembler

import (
	"fmt"

	"moonlink/native/internal/domain"
)

// ErrTruncated is domain.ErrTruncated, re-exported for callers that only
// import this package.
var ErrTruncated = domain.ErrTruncated

// Assemble returns a new buffer of exactly du.TotalLength bytes.
func Assemble(du *domain.DecodeUnit) ([]byte, error) {
	var a Assembler
	return a.Assemble(du)
}

// Assembler reuses one output buffer across calls. The returned slice is
// only valid until the next call. Not safe for concurrent use.
type Assembler struct {
	buf []byte
}

// Assemble copies the fragments in order. The declared total length is
// authoritative: a fragment running past it is clamped, and fragments
// summing to less fail with ErrTruncated so no partial frame is emitted.
func (a *Assembler) Assemble(du *domain.DecodeUnit) ([]byte, error) {
	if du.TotalLength < 0 {
		return nil, fmt.Errorf("%w: negative total length %d", ErrTruncated, du.TotalLength)
	}
	if cap(a.buf) < du.TotalLength {
		a.buf = make([]byte, du.TotalLength)
	}
	out := a.buf[:du.TotalLength]

	off := 0
	for _, f := range du.Fragments {
		if off == len(out) {
			break
		}
		off += copy(out[off:], f.Data)
	}

	if off < du.TotalLength {
		return nil, fmt.Errorf("%w: frame %d has %d of %d bytes",
			ErrTruncated, du.FrameNumber, off, du.TotalLength)
	}
	return out, nil
}

// AssembleInto is like Assemble but appends into dst.
func AssembleInto(dst []byte, du *domain.DecodeUnit) ([]byte, error) {
	a := Assembler{buf: dst[len(dst):cap(dst)]}
	out, err := a.Assemble(du)
	if err != nil {
		return dst, err
	}
	if len(dst)+len(out) <= cap(dst) {
		return dst[:len(dst)+len(out)], nil
	}
	return append(dst, out...), nil
}
