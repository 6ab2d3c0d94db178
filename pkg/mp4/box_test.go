// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bytes"
	"encoding/binary"
	"testing"

	"mediasan/pkg/report"

	"github.com/icza/bitio"
	"github.com/stretchr/testify/require"
)

func box(typ string, body ...[]byte) []byte {
	var payload []byte
	for _, b := range body {
		payload = append(payload, b...)
	}
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out, uint32(8+len(payload)))
	copy(out[4:], typ)
	return append(out, payload...)
}

var (
	testFtyp = box("ftyp", []byte{
		'i', 's', 'o', 'm', // major brand
		0, 0, 0, 1, // minor version
		'i', 's', 'o', '2', // compatible brand
	})
	testStco = box("stco", []byte{
		0, 0, 0, 0, // full box
		0, 0, 0, 2, // entry count
		0, 0, 0x10, 0, // chunk offset
		0, 0, 0x20, 0, // chunk offset
	})
	testMdat = box("mdat", []byte{1, 2, 3, 4})
)

func testMoov(stbl ...[]byte) []byte {
	return box("moov",
		box("trak",
			box("mdia",
				box("minf",
					box("stbl", stbl...)))))
}

func messages(err error) []string {
	out := []string{}
	for _, e := range report.From(err).Entries() {
		out = append(out, e.Message)
	}
	return out
}

func TestParse(t *testing.T) {
	input := bytes.Join([][]byte{
		testFtyp,
		testMoov(box("stsz", stszVariableBody), testStco),
		testMdat,
	}, nil)

	var p Parser
	boxes, err := p.Parse(input)
	require.NoError(t, err)
	require.Len(t, boxes, 3)

	ftyp, ok := boxes[0].Box.(*Ftyp)
	require.True(t, ok)
	require.Equal(t, [4]byte{'i', 's', 'o', 'm'}, ftyp.MajorBrand)

	stbl := Find(boxes, TypeMoov, TypeTrak, TypeMdia, TypeMinf, TypeStbl)
	require.NotNil(t, stbl)
	require.IsType(t, &Container{}, stbl.Box)
	require.Len(t, stbl.Children, 2)

	stsz, ok := stbl.Find(TypeStsz).Box.(Stsz)
	require.True(t, ok)
	require.Equal(t, []uint32{10, 20, 30}, stsz.SampleSizes().Collect())

	stco, ok := stbl.Find(TypeStco).Box.(*Stco)
	require.True(t, ok)
	require.Equal(t, uint32(0x2000), stco.ChunkOffsets.At(1))

	require.Len(t, boxes[1].FindAll(TypeTrak), 1)
	require.Nil(t, Find(boxes, TypeMoov, TypeStbl))
	require.Nil(t, Find(boxes))

	var out bytes.Buffer
	require.NoError(t, Marshal(&out, boxes...))
	require.Equal(t, input, out.Bytes())

	var total uint64
	for i := range boxes {
		total += boxes[i].Size()
	}
	require.Equal(t, uint64(len(input)), total)
}

func TestParseEmpty(t *testing.T) {
	var p Parser
	boxes, err := p.Parse(nil)
	require.NoError(t, err)
	require.Empty(t, boxes)
}

func TestParseExtraData(t *testing.T) {
	t.Run("leaf", func(t *testing.T) {
		stco := box("stco", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0xff})
		var p Parser
		_, err := p.Parse(testMoov(stco))
		require.ErrorIs(t, err, ErrExtraUnparsedData)
		require.Equal(t, []string{
			"1 bytes of extra unparsed data",
			"while parsing box `stco`",
			"while parsing box `stbl`",
			"while parsing box `minf`",
			"while parsing box `mdia`",
			"while parsing box `trak`",
			"while parsing box `moov`",
		}, messages(err))
	})
	t.Run("stsz", func(t *testing.T) {
		stsz := box("stsz", stszFixedBody, []byte{0})
		var p Parser
		_, err := p.Parse(testMoov(stsz))
		require.ErrorIs(t, err, ErrExtraUnparsedData)
		require.Equal(t, []string{
			"1 bytes of extra unparsed data",
			"while parsing box `stsz`",
			"while parsing box `stbl`",
			"while parsing box `minf`",
			"while parsing box `mdia`",
			"while parsing box `trak`",
			"while parsing box `moov`",
		}, messages(err))
	})
	t.Run("ftypPartialBrand", func(t *testing.T) {
		ftyp := box("ftyp", []byte{'i', 's', 'o', 'm', 0, 0, 0, 1, 'a', 'b'})
		var p Parser
		_, err := p.Parse(ftyp)
		require.ErrorIs(t, err, ErrExtraUnparsedData)
		require.Equal(t, []string{
			"2 bytes of extra unparsed data",
			"while parsing box `ftyp`",
		}, messages(err))
	})
	t.Run("containerTail", func(t *testing.T) {
		moov := box("moov", testStco, []byte{0, 0, 0})
		var p Parser
		_, err := p.Parse(moov)
		require.ErrorIs(t, err, ErrTruncated)
	})
}

func TestParseTrailLocation(t *testing.T) {
	stco := box("stco", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0xff})
	var p Parser
	_, err := p.Parse(box("stbl", stco))

	r := report.From(err)
	require.Equal(t, ErrExtraUnparsedData, r.Get())
	require.Equal(t, "mp4/box.go", r.Location().File)
	for _, e := range r.Entries() {
		require.Equal(t, "mp4/box.go", e.Location.File)
	}
	require.Equal(t,
		"extra unparsed data at "+r.Location().String()+"\n"+
			" - 1 bytes of extra unparsed data at "+r.Entries()[0].Location.String()+"\n"+
			" - while parsing box `stco` at "+r.Entries()[1].Location.String()+"\n"+
			" - while parsing box `stbl` at "+r.Entries()[2].Location.String(),
		r.Trail(),
	)
}

func TestParseUnknown(t *testing.T) {
	unknown := box("abcd", []byte{1, 2, 3})

	t.Run("passthrough", func(t *testing.T) {
		var seen []BoxHeader
		p := Parser{OnUnknown: func(h BoxHeader) { seen = append(seen, h) }}
		input := append(box("moov", unknown), testMdat...)
		boxes, err := p.Parse(input)
		require.NoError(t, err)

		u, ok := boxes[0].Find(BoxType{'a', 'b', 'c', 'd'}).Box.(*Unknown)
		require.True(t, ok)
		require.Equal(t, []byte{1, 2, 3}, u.Data)
		require.Equal(t, []BoxHeader{{Type: BoxType{'a', 'b', 'c', 'd'}, Size: 11}}, seen)

		var out bytes.Buffer
		require.NoError(t, Marshal(&out, boxes...))
		require.Equal(t, input, out.Bytes())
	})
	t.Run("reject", func(t *testing.T) {
		p := Parser{RejectUnknown: true}
		_, err := p.Parse(box("moov", unknown))
		require.ErrorIs(t, err, ErrUnsupportedBox)
		require.Equal(t, []string{
			"while parsing box `abcd`",
			"while parsing box `moov`",
		}, messages(err))
	})
	t.Run("uuid", func(t *testing.T) {
		var userType [16]byte
		for i := range userType {
			userType[i] = byte(0xa0 + i)
		}
		input := box("uuid", userType[:], []byte{9, 8, 7})

		var p Parser
		boxes, err := p.Parse(input)
		require.NoError(t, err)
		u, ok := boxes[0].Box.(*Unknown)
		require.True(t, ok)
		require.Equal(t, userType, u.UserType)
		require.Equal(t, []byte{9, 8, 7}, u.Data)
		require.Equal(t, uint64(len(input)), boxes[0].Size())

		var out bytes.Buffer
		require.NoError(t, Marshal(&out, boxes...))
		require.Equal(t, input, out.Bytes())
	})
}

func TestParseMaxDepth(t *testing.T) {
	input := testMoov(testStco)

	p := Parser{MaxDepth: 2}
	_, err := p.Parse(input)
	require.ErrorIs(t, err, ErrInvalidBoxLayout)
	require.Equal(t, []string{
		"boxes nested deeper than 2",
		"while parsing box `mdia`",
		"while parsing box `trak`",
		"while parsing box `moov`",
	}, messages(err))

	p = Parser{MaxDepth: 6}
	_, err = p.Parse(input)
	require.NoError(t, err)

	nested := testStco
	for i := 0; i < DefaultMaxDepth; i++ {
		nested = box("udta", nested)
	}
	var defaults Parser
	_, err = defaults.Parse(nested)
	require.ErrorIs(t, err, ErrInvalidBoxLayout)
}

func TestParseHeaders(t *testing.T) {
	t.Run("largeSize", func(t *testing.T) {
		input := []byte{
			0, 0, 0, 1, 'm', 'd', 'a', 't',
			0, 0, 0, 0, 0, 0, 0, 19, // largesize
			1, 2, 3,
		}
		var p Parser
		boxes, err := p.Parse(input)
		require.NoError(t, err)
		require.Equal(t, &Mdat{Data: []byte{1, 2, 3}}, boxes[0].Box)

		// Marshal picks the compact header when the size fits.
		var out bytes.Buffer
		require.NoError(t, Marshal(&out, boxes...))
		require.Equal(t, box("mdat", []byte{1, 2, 3}), out.Bytes())
	})
	t.Run("untilEnd", func(t *testing.T) {
		input := append(append([]byte{}, testFtyp...), 0, 0, 0, 0, 'm', 'd', 'a', 't', 5, 6)
		var p Parser
		boxes, err := p.Parse(input)
		require.NoError(t, err)
		require.Len(t, boxes, 2)
		require.Equal(t, &Mdat{Data: []byte{5, 6}}, boxes[1].Box)
	})
	t.Run("sizeTooSmall", func(t *testing.T) {
		var p Parser
		_, err := p.Parse([]byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'})
		require.ErrorIs(t, err, ErrInvalidInput)
	})
	t.Run("sizeTooLarge", func(t *testing.T) {
		var p Parser
		_, err := p.Parse([]byte{0, 0, 0, 9, 'f', 'r', 'e', 'e'})
		require.ErrorIs(t, err, ErrTruncated)
		require.Equal(t, []string{"while parsing box `free`"}, messages(err))
	})
}

func TestParseTruncated(t *testing.T) {
	inputs := map[string][]byte{
		"ftyp":  testFtyp,
		"moov":  testMoov(box("stsz", stszVariableBody), testStco),
		"mdat":  testMdat,
		"large": {0, 0, 0, 1, 'f', 'r', 'e', 'e', 0, 0, 0, 0, 0, 0, 0, 18, 0, 0},
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			for n := 1; n < len(input); n++ {
				var p Parser
				_, err := p.Parse(input[:n:n])
				require.ErrorIs(t, err, ErrTruncated, "prefix %d", n)
			}
		})
	}
}

type sizedBox struct{ size int }

func (*sizedBox) Type() BoxType                 { return TypeMdat }
func (b *sizedBox) Size() int                   { return b.size }
func (*sizedBox) Marshal(w *bitio.Writer) error { return nil }

func TestBoxesSize(t *testing.T) {
	b := Boxes{Box: &sizedBox{size: uint32Max}}
	require.Equal(t, uint64(uint32Max)+16, b.Size())

	b = Boxes{Box: &sizedBox{size: uint32Max - 8}}
	require.Equal(t, uint64(uint32Max), b.Size())

	b = Boxes{
		Box: &Container{BoxType: TypeMoov},
		Children: []Boxes{
			{Box: &Free{BoxType: TypeSkip, Data: []byte{1}}},
		},
	}
	require.Equal(t, uint64(17), b.Size())
}

func TestImmutableBoxes(t *testing.T) {
	boxes := ImmutableBoxes{
		&Free{BoxType: TypeFree, Data: []byte{1, 2}},
		&Mdat{Data: []byte{3}},
	}
	require.Equal(t, 19, boxes.Size())

	var out bytes.Buffer
	require.NoError(t, Marshal(&out,
		Boxes{Box: boxes[0]},
		Boxes{Box: boxes[1]},
	))
	require.Equal(t, append(box("free", []byte{1, 2}), box("mdat", []byte{3})...), out.Bytes())
}

func TestMarshalValidatesFirst(t *testing.T) {
	tree := Boxes{
		Box: &Container{BoxType: TypeMoov},
		Children: []Boxes{
			{Box: &Free{BoxType: TypeFree, Data: []byte{1}}},
			{Box: &Stz2{}},
		},
	}
	var out bytes.Buffer
	err := Marshal(&out, Boxes{Box: &Mdat{Data: []byte{1}}}, tree)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, out.Len())
	require.Equal(t, []string{
		"field size 0 is not 4, 8 or 16",
		"while marshaling box `stz2`",
		"while marshaling box `moov`",
	}, messages(err))

	out.Reset()
	w := bitio.NewWriter(&out)
	require.ErrorIs(t, tree.Marshal(w), ErrInvalidInput)
	require.NoError(t, w.Close())
	require.Zero(t, out.Len())

	w = bitio.NewWriter(&out)
	require.ErrorIs(t, ImmutableBoxes{&Mdat{}, &Stz2{}}.Marshal(w), ErrInvalidInput)
	require.NoError(t, w.Close())
	require.Zero(t, out.Len())
}

func TestRegister(t *testing.T) {
	require.True(t, IsRegistered(TypeStsz))
	require.True(t, IsRegistered(TypeMoov))
	require.False(t, IsRegistered(BoxType{'a', 'b', 'c', 'd'}))
}
