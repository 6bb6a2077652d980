// Package stream provides the big-endian cursors used to decode and encode
// class files and Code attributes.
package stream

import (
	"encoding/binary"
	"errors"
)

// ErrUnexpectedEOF is returned when a read runs past the end of the data.
var ErrUnexpectedEOF = errors.New("stream: unexpected end of data")

// Reader is a forward-only cursor over a class file or one of its
// attributes. Offsets are relative to the start of the data the Reader was
// created with, which is what Code attribute offsets and switch padding
// are measured against.
type Reader struct {
	data []byte
	pos  int
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the current position.
func (r *Reader) Offset() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// take returns the next n bytes without copying and advances past them.
func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

// Align skips the padding that places the position on a multiple of
// alignment, as tableswitch and lookupswitch require.
func (r *Reader) Align(alignment int) error {
	if alignment <= 1 {
		return nil
	}
	return r.Skip((alignment - r.pos%alignment) % alignment)
}

// ReadU8 reads a u1.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a u2.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadU32 reads a u4.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadU64 reads the two u4 halves of a long or double constant.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadI8 reads a signed byte operand such as a bipush immediate.
func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

// ReadI16 reads a signed short operand such as a branch offset.
func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

// ReadI32 reads a signed int operand such as a goto_w offset or switch key.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// ReadBytesRef returns the next n bytes without copying. The slice aliases
// the Reader's data.
func (r *Reader) ReadBytesRef(n int) ([]byte, error) {
	return r.take(n)
}

// SubReader returns a Reader over the next length bytes and advances past
// them. The new Reader's offsets start at zero.
func (r *Reader) SubReader(length int) (*Reader, error) {
	b, err := r.take(length)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}
