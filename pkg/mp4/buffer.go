// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"encoding/binary"
)

// Buffer is a read cursor over a byte slice. Reads consume bytes
// from the front and fail with ErrTruncated instead of reading past
// the end. A Buffer does not own its bytes.
type Buffer struct {
	buf []byte
}

// NewBuffer returns a Buffer reading buf.
func NewBuffer(buf []byte) *Buffer {
	return &Buffer{buf: buf}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Bytes returns the unread bytes without consuming them.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

func (b *Buffer) need(n uint64, value string) error {
	if n > uint64(len(b.buf)) {
		return truncated(value, n, len(b.buf))
	}
	return nil
}

// ReadUint8 reads 8 bits.
func (b *Buffer) ReadUint8() (uint8, error) {
	if err := b.need(1, "uint8"); err != nil {
		return 0, err
	}
	v := b.buf[0]
	b.buf = b.buf[1:]
	return v, nil
}

// ReadUint16 reads 16 bits.
func (b *Buffer) ReadUint16() (uint16, error) {
	if err := b.need(2, "uint16"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.buf)
	b.buf = b.buf[2:]
	return v, nil
}

// ReadUint24 reads 24 bits.
func (b *Buffer) ReadUint24() (uint32, error) {
	if err := b.need(3, "uint24"); err != nil {
		return 0, err
	}
	v := uint32(b.buf[0])<<16 | uint32(b.buf[1])<<8 | uint32(b.buf[2])
	b.buf = b.buf[3:]
	return v, nil
}

// ReadUint32 reads 32 bits.
func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.need(4, "uint32"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.buf)
	b.buf = b.buf[4:]
	return v, nil
}

// ReadUint64 reads 64 bits.
func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.need(8, "uint64"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.buf)
	b.buf = b.buf[8:]
	return v, nil
}

// ReadBoxType reads a four-character code.
func (b *Buffer) ReadBoxType() (BoxType, error) {
	var t BoxType
	if err := b.need(4, "BoxType"); err != nil {
		return t, err
	}
	copy(t[:], b.buf)
	b.buf = b.buf[4:]
	return t, nil
}

// ReadBytes consumes n bytes and returns them. The returned
// slice aliases the buffer and is capped at n bytes.
func (b *Buffer) ReadBytes(n uint64) ([]byte, error) {
	if err := b.need(n, "[]byte"); err != nil {
		return nil, err
	}
	p := b.buf[:n:n]
	b.buf = b.buf[n:]
	return p, nil
}

// Split consumes n bytes and returns them as a new Buffer.
// The two buffers never share unread bytes.
func (b *Buffer) Split(n uint64) (*Buffer, error) {
	if err := b.need(n, "box body"); err != nil {
		return nil, err
	}
	sub := &Buffer{buf: b.buf[:n:n]}
	b.buf = b.buf[n:]
	return sub, nil
}

// Rest consumes and returns every unread byte.
func (b *Buffer) Rest() []byte {
	p := b.buf
	b.buf = b.buf[len(b.buf):]
	return p
}
