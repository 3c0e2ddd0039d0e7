// Package wire implements the little-endian binary primitives, the Record
// codec and the local-map codec of the Pip-Boy wire protocol.
//
// All multi-byte fields are little-endian. Strings are raw bytes terminated
// by a single NUL byte; decoding replaces invalid byte sequences rather than
// failing, mirroring the leniency of the original Python decoder.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Cursor reads fixed-width little-endian fields out of an in-memory buffer,
// tracking position explicitly so decode errors can report exactly where a
// stream ran out.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for sequential reads starting at offset 0.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Pos returns the current read offset.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// AtEnd reports whether the cursor has consumed the entire buffer.
func (c *Cursor) AtEnd() bool { return c.pos == len(c.buf) }

func (c *Cursor) need(n int) error {
	if c.Remaining() < n {
		return fmt.Errorf("%w: need %d byte(s) at offset %d, have %d", ErrTruncated, n, c.pos, c.Remaining())
	}
	return nil
}

func (c *Cursor) ReadBool() (bool, error) {
	if err := c.need(1); err != nil {
		return false, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v != 0, nil
}

func (c *Cursor) ReadI8() (int8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := int8(c.buf[c.pos])
	c.pos++
	return v, nil
}

func (c *Cursor) ReadU8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *Cursor) ReadU16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *Cursor) ReadI32() (int32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(c.buf[c.pos:]))
	c.pos += 4
	return v, nil
}

func (c *Cursor) ReadU32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *Cursor) ReadF32() (float32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(c.buf[c.pos:]))
	c.pos += 4
	return v, nil
}

// ReadString reads bytes up to and including the next NUL terminator and
// returns them decoded as a string. Invalid byte sequences are replaced
// rather than rejected, matching the leniency of the source protocol's own
// string decoder.
func (c *Cursor) ReadString() (string, error) {
	start := c.pos
	for c.pos < len(c.buf) {
		if c.buf[c.pos] == 0x00 {
			raw := c.buf[start:c.pos]
			c.pos++
			return strings.ToValidUTF8(string(raw), "�"), nil
		}
		c.pos++
	}
	c.pos = start
	return "", fmt.Errorf("%w: unterminated string starting at offset %d", ErrTruncated, start)
}

// ReadBytes reads exactly n raw bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.buf[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

// Rest returns every byte from the current position to the end of the
// buffer, without advancing the cursor.
func (c *Cursor) Rest() []byte {
	return c.buf[c.pos:]
}

// Writer encodes little-endian primitives into a growable byte slice.
// Encoding is infallible for in-range Go values, mirroring the spec.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// NewWriterSize returns an empty Writer with capacity preallocated.
func NewWriterSize(n int) *Writer { return &Writer{buf: make([]byte, 0, n)} }

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteI8(v int8)   { w.buf = append(w.buf, byte(v)) }
func (w *Writer) WriteU8(v uint8)  { w.buf = append(w.buf, v) }

func (w *Writer) WriteU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }

func (w *Writer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }

// WriteString appends s followed by a single NUL terminator.
func (w *Writer) WriteString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0x00)
}

// WriteBytes appends raw bytes unchanged.
func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }
