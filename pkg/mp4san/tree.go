// SPDX-License-Identifier: GPL-2.0-or-later

package mp4san

import (
	"errors"
	"fmt"
	"io"
	"math"

	"mediasan/pkg/mp4"
)

// Tree errors.
var (
	ErrTrackNotFound = errors.New("track not found")
	ErrBoxNotFound   = errors.New("box not found")
)

// Tree is a parsed and validated box tree.
type Tree struct {
	Boxes []mp4.Boxes
}

// Find returns the first box reached by following path, or nil.
func (t *Tree) Find(path ...mp4.BoxType) *mp4.Boxes {
	return mp4.Find(t.Boxes, path...)
}

// Tracks returns the trak boxes of the first moov box.
func (t *Tree) Tracks() []*mp4.Boxes {
	moov := t.Find(mp4.TypeMoov)
	if moov == nil {
		return nil
	}
	return moov.FindAll(mp4.TypeTrak)
}

// SampleTable returns the stbl box of the n-th track.
func (t *Tree) SampleTable(track int) (*mp4.Boxes, error) {
	tracks := t.Tracks()
	if track < 0 || track >= len(tracks) {
		return nil, fmt.Errorf("%w: %d of %d", ErrTrackNotFound, track, len(tracks))
	}
	stbl := tracks[track].Find(mp4.TypeMdia, mp4.TypeMinf, mp4.TypeStbl)
	if stbl == nil {
		return nil, fmt.Errorf("track %d: stbl: %w", track, ErrBoxNotFound)
	}
	return stbl, nil
}

// SampleSizes returns the sample sizes of the n-th track
// from its stsz or stz2 box.
func (t *Tree) SampleSizes(track int) (*mp4.SampleSizeIter, error) {
	stbl, err := t.SampleTable(track)
	if err != nil {
		return nil, err
	}
	if b := stbl.Find(mp4.TypeStsz); b != nil {
		if stsz, ok := b.Box.(mp4.Stsz); ok {
			return stsz.SampleSizes(), nil
		}
	}
	if b := stbl.Find(mp4.TypeStz2); b != nil {
		if stz2, ok := b.Box.(*mp4.Stz2); ok {
			return stz2.SampleSizes(), nil
		}
	}
	return nil, fmt.Errorf("track %d: stsz: %w", track, ErrBoxNotFound)
}

// ChunkOffsets returns the chunk offsets of the n-th track
// from its stco or co64 box.
func (t *Tree) ChunkOffsets(track int) ([]uint64, error) {
	stbl, err := t.SampleTable(track)
	if err != nil {
		return nil, err
	}
	if stco, ok := findBox[*mp4.Stco](stbl, mp4.TypeStco); ok {
		offsets := make([]uint64, 0, stco.ChunkOffsets.EntryCount())
		for it := stco.ChunkOffsets.Entries(); it.Next(); {
			offsets = append(offsets, uint64(it.Value()))
		}
		return offsets, nil
	}
	if co64, ok := findBox[*mp4.Co64](stbl, mp4.TypeCo64); ok {
		offsets := make([]uint64, 0, co64.ChunkOffsets.EntryCount())
		for it := co64.ChunkOffsets.Entries(); it.Next(); {
			offsets = append(offsets, it.Value())
		}
		return offsets, nil
	}
	return nil, fmt.Errorf("track %d: stco: %w", track, ErrBoxNotFound)
}

// SetChunkOffsets replaces the chunk offsets of the n-th track.
// A stco box is upgraded to co64 if an offset needs 64 bits,
// a co64 box is kept as is.
func (t *Tree) SetChunkOffsets(track int, offsets []uint64) error {
	stbl, err := t.SampleTable(track)
	if err != nil {
		return err
	}

	b := stbl.Find(mp4.TypeStco)
	if b == nil {
		b = stbl.Find(mp4.TypeCo64)
	}
	if b == nil {
		return fmt.Errorf("track %d: stco: %w", track, ErrBoxNotFound)
	}

	var header mp4.FullBox
	var isStco bool
	switch box := b.Box.(type) {
	case *mp4.Stco:
		header, isStco = box.FullBox, true
	case *mp4.Co64:
		header = box.FullBox
	default:
		return fmt.Errorf("track %d: unexpected %T: %w", track, b.Box, ErrBoxNotFound)
	}

	if isStco && fitsUint32(offsets) {
		entries := make([]uint32, len(offsets))
		for i, o := range offsets {
			entries[i] = uint32(o)
		}
		b.Box = &mp4.Stco{
			FullBox:      header,
			ChunkOffsets: mp4.NewBoundedArray[uint32](entries...),
		}
		return nil
	}
	b.Box = &mp4.Co64{
		FullBox:      header,
		ChunkOffsets: mp4.NewBoundedArray[uint32](offsets...),
	}
	return nil
}

func findBox[B mp4.ImmutableBox](parent *mp4.Boxes, typ mp4.BoxType) (B, bool) {
	var zero B
	b := parent.Find(typ)
	if b == nil {
		return zero, false
	}
	box, ok := b.Box.(B)
	return box, ok
}

func fitsUint32(offsets []uint64) bool {
	for _, o := range offsets {
		if o > math.MaxUint32 {
			return false
		}
	}
	return true
}

// Size returns the marshaled size of the tree.
func (t *Tree) Size() uint64 {
	var n uint64
	for i := range t.Boxes {
		n += t.Boxes[i].Size()
	}
	return n
}

// Marshal writes the tree to w.
func (t *Tree) Marshal(w io.Writer) error {
	return mp4.Marshal(w, t.Boxes...)
}

func countBoxes(boxes []mp4.Boxes) int {
	n := len(boxes)
	for i := range boxes {
		n += countBoxes(boxes[i].Children)
	}
	return n
}
