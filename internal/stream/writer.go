package stream

import "encoding/binary"

// Writer accumulates big-endian class file structures in memory.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written data. The slice aliases the Writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// WriteU8 appends an unsigned 8-bit integer.
func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteU16 appends an unsigned 16-bit integer.
func (w *Writer) WriteU16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// WriteU32 appends an unsigned 32-bit integer.
func (w *Writer) WriteU32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteU64 appends an unsigned 64-bit integer.
func (w *Writer) WriteU64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Pad appends zero bytes until the length is a multiple of alignment.
func (w *Writer) Pad(alignment int) {
	for alignment > 1 && len(w.buf)%alignment != 0 {
		w.buf = append(w.buf, 0)
	}
}

// PutU16At overwrites two bytes at offset.
func (w *Writer) PutU16At(offset int, v uint16) {
	binary.BigEndian.PutUint16(w.buf[offset:], v)
}

// PutU32At overwrites four bytes at offset.
func (w *Writer) PutU32At(offset int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[offset:], v)
}
