// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"io"

	"mediasan/pkg/report"

	"github.com/icza/bitio"
)

// ImmutableBoxes is slice of ImmutableBox.
type ImmutableBoxes []ImmutableBox

// ImmutableBox is common interface of box.
type ImmutableBox interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the marshaled size in bytes.
	// The size must be known before marshaling
	// since the box header contains the size.
	// The header itself is not included.
	Size() int

	// Marshal box to writer.
	Marshal(w *bitio.Writer) error
}

// Validator is implemented by boxes whose fields can hold values
// that would not marshal. Validate runs before any byte is written.
type Validator interface {
	Validate() error
}

// DecodeFunc decodes the body of a box. It must consume buf exactly,
// bytes it leaves behind are reported as extra unparsed data.
type DecodeFunc func(buf *Buffer) (ImmutableBox, error)

var (
	decoders   = map[BoxType]DecodeFunc{}
	containers = map[BoxType]bool{}
)

// Register associates typ with decode. It is not safe to call
// concurrently with parsing and is meant to be called from init.
func Register(typ BoxType, decode DecodeFunc) {
	decoders[typ] = decode
}

// RegisterContainer marks typ as a box whose body is a sequence of boxes.
func RegisterContainer(typ BoxType) {
	containers[typ] = true
}

// IsRegistered reports whether typ has a decoder or is a container.
func IsRegistered(typ BoxType) bool {
	return decoders[typ] != nil || containers[typ]
}

func decoderOf[B ImmutableBox](decode func(*Buffer) (B, error)) DecodeFunc {
	return func(buf *Buffer) (ImmutableBox, error) {
		b, err := decode(buf)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Boxes is a structure of boxes that can be marshaled together.
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes
}

func (b *Boxes) bodySize() uint64 {
	total := uint64(b.Box.Size())
	for i := range b.Children {
		total += b.Children[i].Size()
	}
	return total
}

// Size returns the total size of the box including header and children.
func (b *Boxes) Size() uint64 {
	header := uint64(8)
	if b.Box.Type() == TypeUUID {
		header += 16
	}
	size := header + b.bodySize()
	if size > uint32Max {
		size += 8
	}
	return size
}

const uint32Max = 1<<32 - 1

// Marshal box including children. The tree is validated
// first so a failure leaves nothing written.
func (b *Boxes) Marshal(w *bitio.Writer) error {
	if err := b.validate(); err != nil {
		return err
	}
	return b.marshal(w)
}

func (b *Boxes) validate() error {
	if v, ok := b.Box.(Validator); ok {
		if err := v.Validate(); err != nil {
			return report.Attachf(err, "while marshaling box `%s`", b.Box.Type())
		}
	}
	for i := range b.Children {
		if err := b.Children[i].validate(); err != nil {
			return report.Attachf(err, "while marshaling box `%s`", b.Box.Type())
		}
	}
	return nil
}

func (b *Boxes) marshal(w *bitio.Writer) error {
	body := b.bodySize()

	var userType *[16]byte
	if u, ok := b.Box.(*Unknown); ok {
		userType = &u.UserType
	}
	if err := writeBoxHeader(w, b.Box.Type(), userType, body); err != nil {
		return err
	}

	if b.Box.Size() != 0 {
		if err := b.Box.Marshal(w); err != nil {
			return err
		}
	}

	for i := range b.Children {
		if err := b.Children[i].marshal(w); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the first box reached by following path
// from the children of b, or nil.
func (b *Boxes) Find(path ...BoxType) *Boxes {
	return find(b.Children, path)
}

// FindAll returns the direct children of type typ.
func (b *Boxes) FindAll(typ BoxType) []*Boxes {
	var out []*Boxes
	for i := range b.Children {
		if b.Children[i].Box.Type() == typ {
			out = append(out, &b.Children[i])
		}
	}
	return out
}

// Find returns the first box reached by following path from boxes, or nil.
func Find(boxes []Boxes, path ...BoxType) *Boxes {
	return find(boxes, path)
}

func find(boxes []Boxes, path []BoxType) *Boxes {
	if len(path) == 0 {
		return nil
	}
	for i := range boxes {
		if boxes[i].Box.Type() != path[0] {
			continue
		}
		if len(path) == 1 {
			return &boxes[i]
		}
		if found := find(boxes[i].Children, path[1:]); found != nil {
			return found
		}
	}
	return nil
}

// Marshal writes boxes to out.
func Marshal(out io.Writer, boxes ...Boxes) error {
	for i := range boxes {
		if err := boxes[i].validate(); err != nil {
			return err
		}
	}
	w := bitio.NewWriter(out)
	for i := range boxes {
		if err := boxes[i].marshal(w); err != nil {
			return err
		}
	}
	return w.Close()
}

// Marshal ImmutableBoxes to writer.
func (boxes ImmutableBoxes) Marshal(w *bitio.Writer) error {
	for _, b := range boxes {
		child := Boxes{Box: b}
		if err := child.validate(); err != nil {
			return err
		}
	}
	for _, b := range boxes {
		child := Boxes{Box: b}
		if err := child.marshal(w); err != nil {
			return err
		}
	}
	return nil
}

// Size combined size of boxes.
func (boxes ImmutableBoxes) Size() int {
	var n int
	for _, b := range boxes {
		child := Boxes{Box: b}
		n += int(child.Size())
	}
	return n
}

// Container is a box whose body only holds other boxes.
type Container struct {
	BoxType BoxType
}

// Type returns the BoxType.
func (b *Container) Type() BoxType {
	return b.BoxType
}

// Size returns the marshaled size in bytes.
func (*Container) Size() int {
	return 0
}

// Marshal is never called.
func (*Container) Marshal(*bitio.Writer) error { return nil }

// Unknown is a box without a registered decoder, its body is kept as is.
type Unknown struct {
	BoxType  BoxType
	UserType [16]byte

	// Data aliases the parsed input.
	Data []byte
}

// Type returns the BoxType.
func (b *Unknown) Type() BoxType {
	return b.BoxType
}

// Size returns the marshaled size in bytes.
func (b *Unknown) Size() int {
	return len(b.Data)
}

// Marshal box to writer.
func (b *Unknown) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

// DefaultMaxDepth is the nesting limit used when Parser.MaxDepth is zero.
const DefaultMaxDepth = 16

// Parser decodes box trees.
type Parser struct {
	// MaxDepth limits how deep boxes may nest.
	MaxDepth int

	// RejectUnknown fails the parse on boxes without a decoder
	// instead of keeping them as *Unknown.
	RejectUnknown bool

	// OnUnknown is called for every box kept as *Unknown.
	OnUnknown func(BoxHeader)
}

// Parse decodes every box in data. Either all of data decodes
// or an error wrapped in a *report.Report is returned.
func (p *Parser) Parse(data []byte) ([]Boxes, error) {
	buf := NewBuffer(data)
	var boxes []Boxes
	for buf.Len() > 0 {
		b, err := p.decodeBox(buf, 0)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}

// DecodeBox decodes a single box from the front of buf.
func (p *Parser) DecodeBox(buf *Buffer) (Boxes, error) {
	return p.decodeBox(buf, 0)
}

func (p *Parser) maxDepth() int {
	if p.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return p.MaxDepth
}

func (p *Parser) decodeBox(buf *Buffer, depth int) (Boxes, error) {
	var out Boxes
	header, err := DecodeBoxHeader(buf)
	if err != nil {
		return out, err
	}
	typ := header.Type

	body, err := buf.Split(header.bodyLen(buf.Len()))
	if err != nil {
		return out, whileParsingBox(err, typ)
	}

	if depth >= p.maxDepth() {
		err := report.New(ErrInvalidBoxLayout).Attachf("boxes nested deeper than %d", p.maxDepth())
		return out, whileParsingBox(err, typ)
	}

	switch decode := decoders[typ]; {
	case containers[typ]:
		out.Box = &Container{BoxType: typ}
		for body.Len() > 0 {
			child, err := p.decodeBox(body, depth+1)
			if err != nil {
				return out, whileParsingBox(err, typ)
			}
			out.Children = append(out.Children, child)
		}

	case decode != nil:
		out.Box, err = decode(body)
		if err != nil {
			return out, whileParsingBox(err, typ)
		}

	default:
		if p.RejectUnknown {
			return out, whileParsingBox(report.New(ErrUnsupportedBox), typ)
		}
		out.Box = &Unknown{BoxType: typ, UserType: header.UserType, Data: body.Rest()}
		if p.OnUnknown != nil {
			p.OnUnknown(header)
		}
	}

	if body.Len() != 0 {
		return out, whileParsingBox(extraUnparsedData(body.Len()), typ)
	}
	return out, nil
}
