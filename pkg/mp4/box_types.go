// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bytes"

	"mediasan/pkg/report"

	"github.com/icza/bitio"
)

// Known box types.
var (
	TypeCo64 = BoxType{'c', 'o', '6', '4'}
	TypeCtts = BoxType{'c', 't', 't', 's'}
	TypeDinf = BoxType{'d', 'i', 'n', 'f'}
	TypeEdts = BoxType{'e', 'd', 't', 's'}
	TypeFree = BoxType{'f', 'r', 'e', 'e'}
	TypeFtyp = BoxType{'f', 't', 'y', 'p'}
	TypeMdat = BoxType{'m', 'd', 'a', 't'}
	TypeMdia = BoxType{'m', 'd', 'i', 'a'}
	TypeMfra = BoxType{'m', 'f', 'r', 'a'}
	TypeMinf = BoxType{'m', 'i', 'n', 'f'}
	TypeMoof = BoxType{'m', 'o', 'o', 'f'}
	TypeMoov = BoxType{'m', 'o', 'o', 'v'}
	TypeMvex = BoxType{'m', 'v', 'e', 'x'}
	TypeSkip = BoxType{'s', 'k', 'i', 'p'}
	TypeStbl = BoxType{'s', 't', 'b', 'l'}
	TypeStco = BoxType{'s', 't', 'c', 'o'}
	TypeStsc = BoxType{'s', 't', 's', 'c'}
	TypeStss = BoxType{'s', 't', 's', 's'}
	TypeStsz = BoxType{'s', 't', 's', 'z'}
	TypeStts = BoxType{'s', 't', 't', 's'}
	TypeStz2 = BoxType{'s', 't', 'z', '2'}
	TypeTraf = BoxType{'t', 'r', 'a', 'f'}
	TypeTrak = BoxType{'t', 'r', 'a', 'k'}
	TypeUdta = BoxType{'u', 'd', 't', 'a'}
)

func init() {
	for _, typ := range []BoxType{
		TypeDinf, TypeEdts, TypeMdia, TypeMfra, TypeMinf, TypeMoof,
		TypeMoov, TypeMvex, TypeStbl, TypeTraf, TypeTrak, TypeUdta,
	} {
		RegisterContainer(typ)
	}

	Register(TypeCo64, decoderOf(DecodeCo64))
	Register(TypeCtts, decoderOf(DecodeCtts))
	Register(TypeFree, decoderOf(decodeFree(TypeFree)))
	Register(TypeFtyp, decoderOf(DecodeFtyp))
	Register(TypeMdat, decoderOf(DecodeMdat))
	Register(TypeSkip, decoderOf(decodeFree(TypeSkip)))
	Register(TypeStco, decoderOf(DecodeStco))
	Register(TypeStsc, decoderOf(DecodeStsc))
	Register(TypeStss, decoderOf(DecodeStss))
	Register(TypeStsz, decoderOf(DecodeStsz))
	Register(TypeStts, decoderOf(DecodeStts))
	Register(TypeStz2, decoderOf(DecodeStz2))
}

/*************************** co64 ****************************/

// Co64 is ISOBMFF co64 box type.
type Co64 struct {
	FullBox
	ChunkOffsets BoundedArray[uint32, uint64]
}

// DecodeCo64 decodes the body of a co64 box.
func DecodeCo64(buf *Buffer) (*Co64, error) {
	var b Co64
	var err error
	if b.FullBox, err = DecodeFullBox(buf); err != nil {
		return nil, whileParsingField(err, TypeCo64, "header")
	}
	b.ChunkOffsets, err = DecodeBoundedArray[uint32](buf, 8, decodeUint64)
	if err != nil {
		return nil, whileParsingField(err, TypeCo64, "chunk_offsets")
	}
	return &b, nil
}

// Type returns the BoxType.
func (*Co64) Type() BoxType {
	return TypeCo64
}

// Size returns the marshaled size in bytes.
func (b *Co64) Size() int {
	return 4 + b.ChunkOffsets.FieldSize(8)
}

// Marshal box to writer.
func (b *Co64) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	return b.ChunkOffsets.MarshalField(w, encodeUint64)
}

/*************************** ctts ****************************/

// Ctts is ISOBMFF ctts box type.
type Ctts struct {
	FullBox
	Entries BoundedArray[uint32, CttsEntry]
}

// CttsEntry .
type CttsEntry struct {
	SampleCount    uint32
	SampleOffsetV0 uint32
	SampleOffsetV1 int32
}

// DecodeCtts decodes the body of a ctts box.
func DecodeCtts(buf *Buffer) (*Ctts, error) {
	var b Ctts
	var err error
	if b.FullBox, err = DecodeFullBox(buf); err != nil {
		return nil, whileParsingField(err, TypeCtts, "header")
	}
	version := b.FullBox.Version
	b.Entries, err = DecodeBoundedArray[uint32](buf, 8, func(buf *Buffer) (CttsEntry, error) {
		var e CttsEntry
		var err error
		if e.SampleCount, err = buf.ReadUint32(); err != nil {
			return e, err
		}
		offset, err := buf.ReadUint32()
		if version == 0 {
			e.SampleOffsetV0 = offset
		} else {
			e.SampleOffsetV1 = int32(offset)
		}
		return e, err
	})
	if err != nil {
		return nil, whileParsingField(err, TypeCtts, "entries")
	}
	return &b, nil
}

// Type returns the BoxType.
func (*Ctts) Type() BoxType {
	return TypeCtts
}

// Size returns the marshaled size in bytes.
func (b *Ctts) Size() int {
	return 4 + b.Entries.FieldSize(8)
}

// Marshal box to writer.
func (b *Ctts) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	version := b.FullBox.Version
	return b.Entries.MarshalField(w, func(w *bitio.Writer, e CttsEntry) {
		w.TryWriteBits(uint64(e.SampleCount), 32)
		if version == 0 {
			w.TryWriteBits(uint64(e.SampleOffsetV0), 32)
		} else {
			w.TryWriteBits(uint64(uint32(e.SampleOffsetV1)), 32)
		}
	})
}

/*************************** free ****************************/

// Free is ISOBMFF free and skip box type.
type Free struct {
	BoxType BoxType
	Data    []byte
}

func decodeFree(typ BoxType) func(*Buffer) (*Free, error) {
	return func(buf *Buffer) (*Free, error) {
		return &Free{BoxType: typ, Data: buf.Rest()}, nil
	}
}

// Type returns the BoxType.
func (b *Free) Type() BoxType {
	return b.BoxType
}

// Size returns the marshaled size in bytes.
func (b *Free) Size() int {
	return len(b.Data)
}

// Marshal box to writer.
func (b *Free) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands []CompatibleBrandElem
}

// CompatibleBrandElem .
type CompatibleBrandElem struct {
	CompatibleBrand [4]byte
}

// DecodeFtyp decodes the body of a ftyp box. Compatible brands fill
// the rest of the box, a partial brand is left unparsed.
func DecodeFtyp(buf *Buffer) (*Ftyp, error) {
	var b Ftyp
	var err error
	if b.MajorBrand, err = buf.ReadBoxType(); err != nil {
		return nil, whileParsingField(err, TypeFtyp, "major_brand")
	}
	if b.MinorVersion, err = buf.ReadUint32(); err != nil {
		return nil, whileParsingField(err, TypeFtyp, "minor_version")
	}
	for buf.Len() >= 4 {
		brand, _ := buf.ReadBoxType()
		b.CompatibleBrands = append(b.CompatibleBrands, CompatibleBrandElem{brand})
	}
	return &b, nil
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType {
	return TypeFtyp
}

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int {
	total := len(b.MajorBrand) + 4
	total += len(b.CompatibleBrands) * 4
	return total
}

// Marshal box to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	w.TryWriteBits(uint64(b.MinorVersion), 32)
	for _, brands := range b.CompatibleBrands {
		w.TryWrite(brands.CompatibleBrand[:])
	}
	return w.TryError
}

/*************************** mdat ****************************/

// Mdat is ISOBMFF mdat box type.
type Mdat struct {
	// Data aliases the parsed input.
	Data []byte
}

// DecodeMdat decodes the body of a mdat box.
func DecodeMdat(buf *Buffer) (*Mdat, error) {
	return &Mdat{Data: buf.Rest()}, nil
}

// Type returns the BoxType.
func (*Mdat) Type() BoxType {
	return TypeMdat
}

// Size returns the marshaled size in bytes.
func (b *Mdat) Size() int {
	return len(b.Data)
}

// Marshal box to writer.
func (b *Mdat) Marshal(w *bitio.Writer) error {
	_, err := w.Write(b.Data)
	return err
}

/*************************** stco ****************************/

// Stco is ISOBMFF stco box type.
type Stco struct {
	FullBox
	ChunkOffsets BoundedArray[uint32, uint32]
}

// DecodeStco decodes the body of a stco box.
func DecodeStco(buf *Buffer) (*Stco, error) {
	var b Stco
	var err error
	if b.FullBox, err = DecodeFullBox(buf); err != nil {
		return nil, whileParsingField(err, TypeStco, "header")
	}
	b.ChunkOffsets, err = DecodeBoundedArray[uint32](buf, 4, decodeUint32)
	if err != nil {
		return nil, whileParsingField(err, TypeStco, "chunk_offsets")
	}
	return &b, nil
}

// Type returns the BoxType.
func (*Stco) Type() BoxType {
	return TypeStco
}

// Size returns the marshaled size in bytes.
func (b *Stco) Size() int {
	return 4 + b.ChunkOffsets.FieldSize(4)
}

// Marshal box to writer.
func (b *Stco) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	return b.ChunkOffsets.MarshalField(w, encodeUint32)
}

/*************************** stsc ****************************/

// StscEntry .
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

func decodeStscEntry(buf *Buffer) (StscEntry, error) {
	var e StscEntry
	var err error
	if e.FirstChunk, err = buf.ReadUint32(); err != nil {
		return e, err
	}
	if e.SamplesPerChunk, err = buf.ReadUint32(); err != nil {
		return e, err
	}
	e.SampleDescriptionIndex, err = buf.ReadUint32()
	return e, err
}

// MarshalField entry to buffer.
func (b StscEntry) MarshalField(w *bitio.Writer) {
	w.TryWriteBits(uint64(b.FirstChunk), 32)
	w.TryWriteBits(uint64(b.SamplesPerChunk), 32)
	w.TryWriteBits(uint64(b.SampleDescriptionIndex), 32)
}

// Stsc is ISOBMFF stsc box type.
type Stsc struct {
	FullBox
	Entries BoundedArray[uint32, StscEntry]
}

// DecodeStsc decodes the body of a stsc box.
func DecodeStsc(buf *Buffer) (*Stsc, error) {
	var b Stsc
	var err error
	if b.FullBox, err = DecodeFullBox(buf); err != nil {
		return nil, whileParsingField(err, TypeStsc, "header")
	}
	b.Entries, err = DecodeBoundedArray[uint32](buf, 12, decodeStscEntry)
	if err != nil {
		return nil, whileParsingField(err, TypeStsc, "entries")
	}
	return &b, nil
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType {
	return TypeStsc
}

// Size returns the marshaled size in bytes.
func (b *Stsc) Size() int {
	return 4 + b.Entries.FieldSize(12)
}

// Marshal box to writer.
func (b *Stsc) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	return b.Entries.MarshalField(w, func(w *bitio.Writer, e StscEntry) {
		e.MarshalField(w)
	})
}

/*************************** stss ****************************/

// Stss is ISOBMFF stss box type.
type Stss struct {
	FullBox
	SampleNumbers BoundedArray[uint32, uint32]
}

// DecodeStss decodes the body of a stss box.
func DecodeStss(buf *Buffer) (*Stss, error) {
	var b Stss
	var err error
	if b.FullBox, err = DecodeFullBox(buf); err != nil {
		return nil, whileParsingField(err, TypeStss, "header")
	}
	b.SampleNumbers, err = DecodeBoundedArray[uint32](buf, 4, decodeUint32)
	if err != nil {
		return nil, whileParsingField(err, TypeStss, "sample_numbers")
	}
	return &b, nil
}

// Type returns the BoxType.
func (*Stss) Type() BoxType {
	return TypeStss
}

// Size returns the marshaled size in bytes.
func (b *Stss) Size() int {
	return 4 + b.SampleNumbers.FieldSize(4)
}

// Marshal box to writer.
func (b *Stss) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	return b.SampleNumbers.MarshalField(w, encodeUint32)
}

/*************************** stts ****************************/

// Stts is ISOBMFF stts box type.
type Stts struct {
	FullBox
	Entries BoundedArray[uint32, SttsEntry]
}

// SttsEntry .
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// DecodeStts decodes the body of a stts box.
func DecodeStts(buf *Buffer) (*Stts, error) {
	var b Stts
	var err error
	if b.FullBox, err = DecodeFullBox(buf); err != nil {
		return nil, whileParsingField(err, TypeStts, "header")
	}
	b.Entries, err = DecodeBoundedArray[uint32](buf, 8, func(buf *Buffer) (SttsEntry, error) {
		var e SttsEntry
		var err error
		if e.SampleCount, err = buf.ReadUint32(); err != nil {
			return e, err
		}
		e.SampleDelta, err = buf.ReadUint32()
		return e, err
	})
	if err != nil {
		return nil, whileParsingField(err, TypeStts, "entries")
	}
	return &b, nil
}

// Type returns the BoxType.
func (*Stts) Type() BoxType {
	return TypeStts
}

// Size returns the marshaled size in bytes.
func (b *Stts) Size() int {
	return 4 + b.Entries.FieldSize(8)
}

// Marshal box to writer.
func (b *Stts) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	return b.Entries.MarshalField(w, func(w *bitio.Writer, e SttsEntry) {
		w.TryWriteBits(uint64(e.SampleCount), 32)
		w.TryWriteBits(uint64(e.SampleDelta), 32)
	})
}

/*************************** stz2 ****************************/

// Stz2 is ISOBMFF stz2 box type, the compact sample size box.
// Sizes stay packed at their field width and are unpacked on iteration.
type Stz2 struct {
	FullBox
	fieldSize   uint8
	sampleCount uint32
	packed      []byte
}

func validStz2FieldSize(fieldSize uint8) error {
	if fieldSize != 4 && fieldSize != 8 && fieldSize != 16 {
		return report.New(ErrInvalidInput).Attachf("field size %d is not 4, 8 or 16", fieldSize)
	}
	return nil
}

// 4 bit entries are padded to a whole byte.
func stz2PackedLen(count uint32, fieldSize uint8) uint64 {
	return (uint64(count)*uint64(fieldSize) + 7) / 8
}

// NewStz2 packs sizes at fieldSize bits each.
// Every size must fit in fieldSize bits.
func NewStz2(header FullBox, fieldSize uint8, sizes ...uint32) (*Stz2, error) {
	if err := validStz2FieldSize(fieldSize); err != nil {
		return nil, err
	}
	if uint64(len(sizes)) > uint32Max {
		return nil, report.New(ErrInvalidInput).Attachf("%d sizes do not fit a 32 bit count", len(sizes))
	}
	var out bytes.Buffer
	w := bitio.NewWriter(&out)
	for i, size := range sizes {
		if uint64(size) >= 1<<fieldSize {
			return nil, report.New(ErrInvalidInput).
				Attachf("entry %d: size %d does not fit in %d bits", i, size, fieldSize)
		}
		w.TryWriteBits(uint64(size), fieldSize)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &Stz2{
		FullBox:     header,
		fieldSize:   fieldSize,
		sampleCount: uint32(len(sizes)),
		packed:      out.Bytes(),
	}, nil
}

// DecodeStz2 decodes the body of a stz2 box.
// The packed sizes are kept as a view into buf.
func DecodeStz2(buf *Buffer) (*Stz2, error) {
	var b Stz2
	var err error
	if b.FullBox, err = DecodeFullBox(buf); err != nil {
		return nil, whileParsingField(err, TypeStz2, "header")
	}
	if _, err = buf.ReadUint24(); err != nil {
		return nil, whileParsingField(err, TypeStz2, "reserved")
	}
	if b.fieldSize, err = buf.ReadUint8(); err != nil {
		return nil, whileParsingField(err, TypeStz2, "field_size")
	}
	if err := validStz2FieldSize(b.fieldSize); err != nil {
		return nil, whileParsingField(err, TypeStz2, "field_size")
	}
	if b.sampleCount, err = buf.ReadUint32(); err != nil {
		return nil, whileParsingField(err, TypeStz2, "sample_count")
	}
	b.packed, err = buf.ReadBytes(stz2PackedLen(b.sampleCount, b.fieldSize))
	if err != nil {
		err = report.Attachf(err, "%d entries declared", b.sampleCount)
		return nil, whileParsingField(err, TypeStz2, "entries")
	}
	return &b, nil
}

// Type returns the BoxType.
func (*Stz2) Type() BoxType {
	return TypeStz2
}

// FieldBits returns the width of each packed size.
func (b *Stz2) FieldBits() uint8 {
	return b.fieldSize
}

// SampleCount returns the number of sizes.
func (b *Stz2) SampleCount() uint32 {
	return b.sampleCount
}

// Size returns the marshaled size in bytes.
func (b *Stz2) Size() int {
	return 12 + len(b.packed)
}

// Validate reports a box that would not marshal to a decodable stz2,
// such as the zero value.
func (b *Stz2) Validate() error {
	if err := validStz2FieldSize(b.fieldSize); err != nil {
		return err
	}
	if want := stz2PackedLen(b.sampleCount, b.fieldSize); uint64(len(b.packed)) != want {
		return report.New(ErrInvalidInput).
			Attachf("%d packed bytes for %d entries, want %d", len(b.packed), b.sampleCount, want)
	}
	return nil
}

// Marshal box to writer.
func (b *Stz2) Marshal(w *bitio.Writer) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteBits(0, 24)
	w.TryWriteByte(b.fieldSize)
	w.TryWriteBits(uint64(b.sampleCount), 32)
	w.TryWrite(b.packed)
	return w.TryError
}

// SampleSizes returns the size of every sample in order.
func (b *Stz2) SampleSizes() *SampleSizeIter {
	return &SampleSizeIter{
		remaining: int(b.sampleCount),
		bits:      bitio.NewReader(bytes.NewReader(b.packed)),
		fieldSize: b.fieldSize,
	}
}
