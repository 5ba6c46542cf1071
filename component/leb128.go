package component

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"fortio.org/safecast"
)

// maxNameLength bounds allocations to prevent OOM from malformed binaries
const maxNameLength = 100000

// reader is a cursor over one section payload.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) eof() bool {
	return r.pos >= len(r.data)
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) peek() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	return r.data[r.pos], nil
}

func (r *reader) expect(want byte, what string) error {
	b, err := r.readByte()
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}
	if b != want {
		return fmt.Errorf("%s: expected 0x%02x, got 0x%02x", what, want, b)
	}
	return nil
}

// u32 reads an unsigned LEB128 value.
func (r *reader) u32() (uint32, error) {
	var result uint32
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if i == 4 && b&0x70 != 0 {
			return 0, fmt.Errorf("LEB128 value too large")
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("LEB128 encoding exceeded maximum length")
}

// s33 reads a signed 33-bit LEB128 value, the encoding of type indices.
func (r *reader) s33() (int64, error) {
	var result int64
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, fmt.Errorf("SLEB128 encoding exceeded maximum length")
}

// count reads a vector length, rejecting lengths the remaining payload
// cannot hold.
func (r *reader) count(what string) (uint32, error) {
	n, err := r.u32()
	if err != nil {
		return 0, fmt.Errorf("read %s count: %w", what, err)
	}
	if int64(n) > int64(len(r.data)-r.pos) {
		return 0, fmt.Errorf("%s count %d exceeds remaining %d bytes", what, n, len(r.data)-r.pos)
	}
	return n, nil
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if int64(n) > int64(len(r.data)-r.pos) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", fmt.Errorf("read name length: %w", err)
	}
	if n > maxNameLength {
		return "", fmt.Errorf("name length %d exceeds maximum %d", n, maxNameLength)
	}
	b, err := r.bytes(n)
	if err != nil {
		return "", fmt.Errorf("read name: %w", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("name is not valid UTF-8")
	}
	return string(b), nil
}

// writer encodes binary values. The first length overflow is kept in err
// and every later write is dropped.
type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) byte(b byte) {
	if w.err == nil {
		w.buf.WriteByte(b)
	}
}

func (w *writer) raw(b []byte) {
	if w.err == nil {
		w.buf.Write(b)
	}
}

func (w *writer) u32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.byte(b)
		if v == 0 {
			return
		}
	}
}

func (w *writer) s33(v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.byte(b)
			return
		}
		w.byte(b | 0x80)
	}
}

func (w *writer) length(n int) {
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		if w.err == nil {
			w.err = fmt.Errorf("length %d: %w", n, err)
		}
		return
	}
	w.u32(v)
}

func (w *writer) name(s string) {
	w.length(len(s))
	w.raw([]byte(s))
}

// section writes a section id followed by the size-prefixed payload.
func (w *writer) section(id byte, payload []byte) {
	w.byte(id)
	w.length(len(payload))
	w.raw(payload)
}
