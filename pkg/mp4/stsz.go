// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"mediasan/pkg/report"

	"github.com/icza/bitio"
)

// Stsz is ISOBMFF stsz box type. It is either *StszFixed, where every
// sample has the same size, or *StszVariable, where each sample size is
// listed. A zero sample size on the wire selects the variable form.
type Stsz interface {
	ImmutableBox

	// Header returns the full box header.
	Header() FullBox

	// SampleSizes returns the size of every sample in order.
	SampleSizes() *SampleSizeIter

	isStsz()
}

// StszFixed is a stsz box where all samples have the same size.
type StszFixed struct {
	header      FullBox
	sampleSize  uint32
	sampleCount uint32
}

// NewStszFixed returns a fixed size stsz box, size must not be zero.
func NewStszFixed(header FullBox, size, sampleCount uint32) (*StszFixed, error) {
	if size == 0 {
		return nil, report.New(ErrInvalidInput).Attach("fixed sample size must not be zero")
	}
	return &StszFixed{header: header, sampleSize: size, sampleCount: sampleCount}, nil
}

// StszVariable is a stsz box listing every sample size.
type StszVariable struct {
	header  FullBox
	Entries BoundedArray[uint32, uint32]
}

// NewStszVariable returns a stsz box listing sizes.
func NewStszVariable(header FullBox, sizes ...uint32) *StszVariable {
	return &StszVariable{
		header:  header,
		Entries: NewBoundedArray[uint32](sizes...),
	}
}

// DefaultStsz returns an empty variable size stsz box with a zeroed header.
// A fixed box is never the default since it would claim a sample size.
func DefaultStsz() *StszVariable {
	return &StszVariable{}
}

// DecodeStsz decodes the body of a stsz box.
func DecodeStsz(buf *Buffer) (Stsz, error) {
	header, err := DecodeFullBox(buf)
	if err != nil {
		return nil, whileParsingField(err, TypeStsz, "header")
	}
	size, err := buf.ReadUint32()
	if err != nil {
		return nil, whileParsingField(err, TypeStsz, "size")
	}

	var box Stsz
	if size != 0 {
		count, err := buf.ReadUint32()
		if err != nil {
			return nil, whileParsingField(err, TypeStsz, "number_of_samples")
		}
		box = &StszFixed{header: header, sampleSize: size, sampleCount: count}
	} else {
		entries, err := DecodeBoundedArray[uint32](buf, 4, decodeUint32)
		if err != nil {
			return nil, whileParsingField(err, TypeStsz, "entries")
		}
		box = &StszVariable{header: header, Entries: entries}
	}

	if buf.Len() != 0 {
		return nil, extraUnparsedData(buf.Len())
	}
	return box, nil
}

// Type returns the BoxType.
func (*StszFixed) Type() BoxType {
	return TypeStsz
}

// Size returns the marshaled size in bytes.
func (*StszFixed) Size() int {
	return 12
}

// Marshal box to writer.
func (b *StszFixed) Marshal(w *bitio.Writer) error {
	if err := b.header.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteBits(uint64(b.sampleSize), 32)
	w.TryWriteBits(uint64(b.sampleCount), 32)
	return w.TryError
}

// Header returns the full box header.
func (b *StszFixed) Header() FullBox {
	return b.header
}

// SampleSize returns the size shared by all samples.
func (b *StszFixed) SampleSize() uint32 {
	return b.sampleSize
}

// SampleCount returns the number of samples.
func (b *StszFixed) SampleCount() uint32 {
	return b.sampleCount
}

// SetSampleCount changes the number of samples.
func (b *StszFixed) SetSampleCount(n uint32) {
	b.sampleCount = n
}

// SampleSizes returns the size of every sample in order.
func (b *StszFixed) SampleSizes() *SampleSizeIter {
	return &SampleSizeIter{fixed: b.sampleSize, remaining: int(b.sampleCount)}
}

func (*StszFixed) isStsz() {}

// Type returns the BoxType.
func (*StszVariable) Type() BoxType {
	return TypeStsz
}

// Size returns the marshaled size in bytes.
func (b *StszVariable) Size() int {
	return 8 + b.Entries.FieldSize(4)
}

// Marshal box to writer.
func (b *StszVariable) Marshal(w *bitio.Writer) error {
	if err := b.header.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteBits(0, 32)
	return b.Entries.MarshalField(w, encodeUint32)
}

// Header returns the full box header.
func (b *StszVariable) Header() FullBox {
	return b.header
}

// SampleSizes returns the size of every sample in order.
func (b *StszVariable) SampleSizes() *SampleSizeIter {
	entries := b.Entries.Entries()
	return &SampleSizeIter{remaining: entries.Len(), entries: entries}
}

func (*StszVariable) isStsz() {}

// SampleSizeIter is a single pass iterator over sample sizes
// whose length is known up front.
type SampleSizeIter struct {
	fixed     uint32
	remaining int
	entries   *ArrayIter[uint32]
	bits      *bitio.Reader
	fieldSize uint8
	cur       uint32
}

// Len returns the number of sizes not yet visited.
func (it *SampleSizeIter) Len() int {
	return it.remaining
}

// Next advances to the next size, it returns false when done.
func (it *SampleSizeIter) Next() bool {
	if it.remaining == 0 {
		return false
	}
	it.remaining--
	switch {
	case it.entries != nil:
		it.entries.Next()
		it.cur = it.entries.Value()
	case it.bits != nil:
		// The packed length was checked against the count.
		v, _ := it.bits.ReadBits(it.fieldSize)
		it.cur = uint32(v)
	default:
		it.cur = it.fixed
	}
	return true
}

// Value returns the current size.
func (it *SampleSizeIter) Value() uint32 {
	return it.cur
}

// Collect drains the iterator into a slice.
func (it *SampleSizeIter) Collect() []uint32 {
	out := make([]uint32, 0, it.Len())
	for it.Next() {
		out = append(out, it.Value())
	}
	return out
}
