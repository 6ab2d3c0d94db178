// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"fmt"
	"math"

	"mediasan/pkg/report"

	"github.com/icza/bitio"
)

// BoxType is mpeg box type.
type BoxType [4]byte

func (t BoxType) String() string {
	for _, c := range t {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(t[0])<<24|uint32(t[1])<<16|uint32(t[2])<<8|uint32(t[3]))
		}
	}
	return string(t[:])
}

// TypeUUID is the box type of boxes carrying an extended 16 byte type.
var TypeUUID = BoxType{'u', 'u', 'i', 'd'}

// BoxHeader is the size and type prefix of every box.
type BoxHeader struct {
	Type     BoxType
	UserType [16]byte // Only for TypeUUID.

	// Size is the total size including the header.
	// It is zero if UntilEnd is set.
	Size uint64

	// LargeSize is set if the size was encoded in 64 bits.
	LargeSize bool

	// UntilEnd is set if the box extends to the end
	// of the enclosing buffer.
	UntilEnd bool
}

// HeaderLen returns the encoded length of the header.
func (h *BoxHeader) HeaderLen() uint64 {
	n := uint64(8)
	if h.LargeSize {
		n += 8
	}
	if h.Type == TypeUUID {
		n += 16
	}
	return n
}

// DecodeBoxHeader decodes a box header from the front of buf.
func DecodeBoxHeader(buf *Buffer) (BoxHeader, error) {
	var h BoxHeader
	size, err := buf.ReadUint32()
	if err != nil {
		return h, report.WhileParsingTypeOf[BoxHeader](nameField(err, "size"))
	}
	h.Type, err = buf.ReadBoxType()
	if err != nil {
		return h, report.WhileParsingTypeOf[BoxHeader](nameField(err, "type"))
	}

	switch size {
	case 0:
		h.UntilEnd = true
	case 1:
		h.LargeSize = true
		h.Size, err = buf.ReadUint64()
		if err != nil {
			return h, whileParsingField(err, h.Type, "largesize")
		}
	default:
		h.Size = uint64(size)
	}

	if h.Type == TypeUUID {
		userType, err := buf.ReadBytes(16)
		if err != nil {
			return h, whileParsingField(err, h.Type, "usertype")
		}
		copy(h.UserType[:], userType)
	}

	if !h.UntilEnd && h.Size < h.HeaderLen() {
		err := report.New(ErrInvalidInput).
			Attachf("box size %d is smaller than its %d byte header", h.Size, h.HeaderLen())
		return h, whileParsingBox(err, h.Type)
	}
	return h, nil
}

// bodyLen returns the number of body bytes the box claims
// given that remaining bytes follow the header.
func (h *BoxHeader) bodyLen(remaining int) uint64 {
	if h.UntilEnd {
		return uint64(remaining)
	}
	return h.Size - h.HeaderLen()
}

func writeBoxHeader(w *bitio.Writer, typ BoxType, userType *[16]byte, bodySize uint64) error {
	headerLen := uint64(8)
	if typ == TypeUUID {
		headerLen += 16
	}
	size := headerLen + bodySize
	if size > math.MaxUint32 {
		w.TryWriteBits(1, 32)
		w.TryWrite(typ[:])
		w.TryWriteBits(size+8, 64)
	} else {
		w.TryWriteBits(size, 32)
		w.TryWrite(typ[:])
	}
	if typ == TypeUUID {
		var u [16]byte
		if userType != nil {
			u = *userType
		}
		w.TryWrite(u[:])
	}
	return w.TryError
}

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// DecodeFullBox decodes the version and flags of a full box.
func DecodeFullBox(buf *Buffer) (FullBox, error) {
	var b FullBox
	p, err := buf.ReadBytes(4)
	if err != nil {
		return b, report.WhileParsingTypeOf[FullBox](nameField(err, "version_and_flags"))
	}
	b.Version = p[0]
	copy(b.Flags[:], p[1:])
	return b, nil
}

// GetFlags returns the flags.
func (b *FullBox) GetFlags() uint32 {
	flag := uint32(b.Flags[0]) << 16
	flag ^= uint32(b.Flags[1]) << 8
	flag ^= uint32(b.Flags[2])
	return flag
}

// CheckFlag checks the flag status.
func (b *FullBox) CheckFlag(flag uint32) bool {
	return b.GetFlags()&flag != 0
}

// FieldSize returns the marshaled size in bytes.
func (b *FullBox) FieldSize() int {
	return 4
}

// MarshalField writes the version and flags.
func (b *FullBox) MarshalField(w *bitio.Writer) error {
	w.TryWriteByte(b.Version)
	w.TryWrite(b.Flags[:])
	return w.TryError
}
