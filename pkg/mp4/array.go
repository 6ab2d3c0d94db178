// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"mediasan/pkg/report"

	"github.com/icza/bitio"
)

// Count is the integer type a BoundedArray encodes its length with.
type Count interface {
	uint8 | uint16 | uint32 | uint64
}

// BoundedArray is a count prefixed sequence of fixed size entries.
type BoundedArray[N Count, T any] struct {
	entries []T
}

// NewBoundedArray returns an array holding entries.
func NewBoundedArray[N Count, T any](entries ...T) BoundedArray[N, T] {
	return BoundedArray[N, T]{entries: entries}
}

// EntryCount returns the number of entries.
func (a *BoundedArray[N, T]) EntryCount() N {
	return N(len(a.entries))
}

// Entries returns an iterator over the entries in wire order.
func (a *BoundedArray[N, T]) Entries() *ArrayIter[T] {
	return &ArrayIter[T]{entries: a.entries}
}

// At returns the i-th entry.
func (a *BoundedArray[N, T]) At(i int) T {
	return a.entries[i]
}

// Set replaces the i-th entry.
func (a *BoundedArray[N, T]) Set(i int, v T) {
	a.entries[i] = v
}

func countLen[N Count]() int {
	var n N
	switch any(n).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	case uint32:
		return 4
	default:
		return 8
	}
}

func readCount[N Count](buf *Buffer) (uint64, error) {
	switch countLen[N]() {
	case 1:
		v, err := buf.ReadUint8()
		return uint64(v), err
	case 2:
		v, err := buf.ReadUint16()
		return uint64(v), err
	case 4:
		v, err := buf.ReadUint32()
		return uint64(v), err
	default:
		return buf.ReadUint64()
	}
}

// DecodeBoundedArray reads the entry count followed by exactly that many
// entries of entryLen bytes each, decoding every entry with decode.
// The count is checked against the remaining bytes before anything is
// allocated.
func DecodeBoundedArray[N Count, T any](
	buf *Buffer,
	entryLen int,
	decode func(*Buffer) (T, error),
) (BoundedArray[N, T], error) {
	var a BoundedArray[N, T]
	count, err := readCount[N](buf)
	if err != nil {
		return a, report.WhileParsingTypeOf[BoundedArray[N, T]](err)
	}

	remaining := uint64(buf.Len())
	if count != 0 && remaining/count < uint64(entryLen) {
		err := report.New(&TruncatedError{
			Value: "entries",
			Need:  saturatingMul(count, uint64(entryLen)),
			Have:  buf.Len(),
		}).Attachf("%d entries declared", count)
		return a, report.WhileParsingTypeOf[BoundedArray[N, T]](err)
	}

	if count == 0 {
		return a, nil
	}
	a.entries = make([]T, count)
	for i := range a.entries {
		a.entries[i], err = decode(buf)
		if err != nil {
			err = report.Attachf(err, "while parsing entry %d", i)
			return a, report.WhileParsingTypeOf[BoundedArray[N, T]](err)
		}
	}
	return a, nil
}

func saturatingMul(a, b uint64) uint64 {
	if a != 0 && b > ^uint64(0)/a {
		return ^uint64(0)
	}
	return a * b
}

// FieldSize returns the marshaled size in bytes.
func (a *BoundedArray[N, T]) FieldSize(entryLen int) int {
	return countLen[N]() + len(a.entries)*entryLen
}

// MarshalField writes the count and every entry with encode.
func (a *BoundedArray[N, T]) MarshalField(w *bitio.Writer, encode func(*bitio.Writer, T)) error {
	w.TryWriteBits(uint64(len(a.entries)), uint8(countLen[N]()*8))
	for _, entry := range a.entries {
		encode(w, entry)
	}
	return w.TryError
}

// ArrayIter is a single pass iterator over decoded entries.
type ArrayIter[T any] struct {
	entries []T
	cur     T
}

// Len returns the number of entries not yet visited.
func (it *ArrayIter[T]) Len() int {
	return len(it.entries)
}

// Next advances to the next entry, it returns false when done.
func (it *ArrayIter[T]) Next() bool {
	if len(it.entries) == 0 {
		return false
	}
	it.cur = it.entries[0]
	it.entries = it.entries[1:]
	return true
}

// Value returns the current entry.
func (it *ArrayIter[T]) Value() T {
	return it.cur
}

func decodeUint32(buf *Buffer) (uint32, error) { return buf.ReadUint32() }

func decodeUint64(buf *Buffer) (uint64, error) { return buf.ReadUint64() }

func encodeUint32(w *bitio.Writer, v uint32) { w.TryWriteBits(uint64(v), 32) }

func encodeUint64(w *bitio.Writer, v uint64) { w.TryWriteBits(v, 64) }
