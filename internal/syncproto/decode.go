package syncproto

import (
	"encoding/binary"
	"fmt"

	"github.com/cemoody/dullahan/internal/emulator"
)

// Cursor is the decoded cursor sub-record shared by Snapshot and Delta.
type Cursor struct {
	X, Y    int
	Visible bool
	StyleID uint16
	Blink   bool
}

// StyleEntry is one decoded style-table row.
type StyleEntry struct {
	ID    emulator.StyleID
	FG    emulator.Color
	BG    emulator.Color
	UL    emulator.Color
	Flags uint16
}

// Grapheme is a decoded grapheme-table entry.
type Grapheme struct {
	CellIndex uint32
	CPs       []rune
}

// Hyperlink is a decoded hyperlink-table entry.
type Hyperlink struct {
	CellIndex uint32
	URL       string
}

// DirtyRow is one row carried in a Delta frame.
type DirtyRow struct {
	RowID emulator.RowID
	Cells []emulator.Cell
}

// Snapshot is the decoded form of a FrameSnapshot message.
type Snapshot struct {
	PaneID      int
	Generation  uint64
	Cols, Rows  int
	Cursor      Cursor
	AltScreen   bool
	TotalRows   int
	ViewportTop int
	Cells       []emulator.Cell // row-major, Rows*Cols
	Styles      map[emulator.StyleID]StyleEntry
	RowIDs      []emulator.RowID
	Graphemes   []Grapheme
	Hyperlinks  []Hyperlink
}

// Delta is the decoded form of a FrameDelta message.
type Delta struct {
	PaneID      int
	FromGen     uint64
	Generation  uint64
	Cols, Rows  int
	Cursor      Cursor
	AltScreen   bool
	TotalRows   int
	ViewportTop int
	DirtyRows   []DirtyRow
	RowIDs      []emulator.RowID
	Styles      map[emulator.StyleID]StyleEntry
	Graphemes   []Grapheme
	Hyperlinks  []Hyperlink
}

type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) need(n int) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("syncproto: truncated frame (need %d bytes at offset %d, have %d)", n, r.off, len(r.buf))
	}
	return nil
}

func (r *byteReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) bool8() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func readColor(r *byteReader) (emulator.Color, error) {
	tag, err := r.u8()
	if err != nil {
		return emulator.Color{}, err
	}
	v0, err := r.u8()
	if err != nil {
		return emulator.Color{}, err
	}
	v1, err := r.u8()
	if err != nil {
		return emulator.Color{}, err
	}
	v2, err := r.u8()
	if err != nil {
		return emulator.Color{}, err
	}
	return emulator.Color{Tag: emulator.ColorTag(tag), V0: v0, V1: v1, V2: v2}, nil
}

func readCursor(r *byteReader) (Cursor, error) {
	var c Cursor
	x, err := r.u16()
	if err != nil {
		return c, err
	}
	y, err := r.u16()
	if err != nil {
		return c, err
	}
	vis, err := r.bool8()
	if err != nil {
		return c, err
	}
	style, err := r.u16()
	if err != nil {
		return c, err
	}
	blink, err := r.bool8()
	if err != nil {
		return c, err
	}
	c.X, c.Y, c.Visible, c.StyleID, c.Blink = int(x), int(y), vis, style, blink
	return c, nil
}

func readStyleTable(r *byteReader) (map[emulator.StyleID]StyleEntry, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make(map[emulator.StyleID]StyleEntry, count)
	for i := 0; i < int(count); i++ {
		id, err := r.u16()
		if err != nil {
			return nil, err
		}
		fg, err := readColor(r)
		if err != nil {
			return nil, err
		}
		bg, err := readColor(r)
		if err != nil {
			return nil, err
		}
		ul, err := readColor(r)
		if err != nil {
			return nil, err
		}
		flags, err := r.u16()
		if err != nil {
			return nil, err
		}
		sid := emulator.StyleID(id)
		out[sid] = StyleEntry{ID: sid, FG: fg, BG: bg, UL: ul, Flags: flags}
	}
	return out, nil
}

func readCells(r *byteReader, n int) ([]emulator.Cell, error) {
	out := make([]emulator.Cell, n)
	for i := 0; i < n; i++ {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		out[i] = emulator.Cell(v)
	}
	return out, nil
}

func readRowIDArray(r *byteReader, n int) ([]emulator.RowID, error) {
	out := make([]emulator.RowID, n)
	for i := 0; i < n; i++ {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		out[i] = emulator.RowID(v)
	}
	return out, nil
}

func readGraphemeTable(r *byteReader) ([]Grapheme, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Grapheme, 0, count)
	for i := 0; i < int(count); i++ {
		idx, err := r.u32()
		if err != nil {
			return nil, err
		}
		n, err := r.u8()
		if err != nil {
			return nil, err
		}
		cps := make([]rune, n)
		for j := 0; j < int(n); j++ {
			b, err := r.bytes(3)
			if err != nil {
				return nil, err
			}
			cps[j] = rune(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
		}
		out = append(out, Grapheme{CellIndex: idx, CPs: cps})
	}
	return out, nil
}

func readHyperlinkTable(r *byteReader) ([]Hyperlink, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Hyperlink, 0, count)
	for i := 0; i < int(count); i++ {
		idx, err := r.u32()
		if err != nil {
			return nil, err
		}
		n, err := r.u16()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		out = append(out, Hyperlink{CellIndex: idx, URL: string(b)})
	}
	return out, nil
}

// Decode dispatches on the frame-type prefix byte and returns either a
// *Snapshot or a *Delta.
func Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("syncproto: empty frame")
	}
	switch data[0] {
	case FrameSnapshot:
		return DecodeSnapshot(data)
	case FrameDelta:
		return DecodeDelta(data)
	default:
		return nil, fmt.Errorf("syncproto: unknown frame type 0x%02x", data[0])
	}
}

// DecodeSnapshot parses a FrameSnapshot message (including its leading
// type byte).
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	r := &byteReader{buf: data}
	typ, err := r.u8()
	if err != nil {
		return nil, err
	}
	if typ != FrameSnapshot {
		return nil, fmt.Errorf("syncproto: not a snapshot frame (type 0x%02x)", typ)
	}
	s := &Snapshot{}
	paneID, err := r.u32()
	if err != nil {
		return nil, err
	}
	s.PaneID = int(paneID)
	if s.Generation, err = r.u64(); err != nil {
		return nil, err
	}
	cols, err := r.u16()
	if err != nil {
		return nil, err
	}
	rows, err := r.u16()
	if err != nil {
		return nil, err
	}
	s.Cols, s.Rows = int(cols), int(rows)
	if s.Cursor, err = readCursor(r); err != nil {
		return nil, err
	}
	if s.AltScreen, err = r.bool8(); err != nil {
		return nil, err
	}
	totalRows, err := r.u32()
	if err != nil {
		return nil, err
	}
	s.TotalRows = int(totalRows)
	viewportTop, err := r.u32()
	if err != nil {
		return nil, err
	}
	s.ViewportTop = int(viewportTop)

	if s.Cells, err = readCells(r, s.Cols*s.Rows); err != nil {
		return nil, err
	}
	if s.Styles, err = readStyleTable(r); err != nil {
		return nil, err
	}
	if s.RowIDs, err = readRowIDArray(r, s.Rows); err != nil {
		return nil, err
	}
	if s.Graphemes, err = readGraphemeTable(r); err != nil {
		return nil, err
	}
	if s.Hyperlinks, err = readHyperlinkTable(r); err != nil {
		return nil, err
	}
	if _, err = r.u8(); err != nil { // selection-present flag, unused
		return nil, err
	}
	return s, nil
}

// DecodeDelta parses a FrameDelta message (including its leading type byte).
func DecodeDelta(data []byte) (*Delta, error) {
	r := &byteReader{buf: data}
	typ, err := r.u8()
	if err != nil {
		return nil, err
	}
	if typ != FrameDelta {
		return nil, fmt.Errorf("syncproto: not a delta frame (type 0x%02x)", typ)
	}
	d := &Delta{}
	paneID, err := r.u32()
	if err != nil {
		return nil, err
	}
	d.PaneID = int(paneID)
	if d.FromGen, err = r.u64(); err != nil {
		return nil, err
	}
	if d.Generation, err = r.u64(); err != nil {
		return nil, err
	}
	cols, err := r.u16()
	if err != nil {
		return nil, err
	}
	rows, err := r.u16()
	if err != nil {
		return nil, err
	}
	d.Cols, d.Rows = int(cols), int(rows)
	if d.Cursor, err = readCursor(r); err != nil {
		return nil, err
	}
	if d.AltScreen, err = r.bool8(); err != nil {
		return nil, err
	}
	totalRows, err := r.u32()
	if err != nil {
		return nil, err
	}
	d.TotalRows = int(totalRows)
	viewportTop, err := r.u32()
	if err != nil {
		return nil, err
	}
	d.ViewportTop = int(viewportTop)

	dirtyCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	d.DirtyRows = make([]DirtyRow, 0, dirtyCount)
	for i := 0; i < int(dirtyCount); i++ {
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		cells, err := readCells(r, d.Cols)
		if err != nil {
			return nil, err
		}
		d.DirtyRows = append(d.DirtyRows, DirtyRow{RowID: emulator.RowID(id), Cells: cells})
	}

	if d.RowIDs, err = readRowIDArray(r, d.Rows); err != nil {
		return nil, err
	}
	if d.Styles, err = readStyleTable(r); err != nil {
		return nil, err
	}
	if d.Graphemes, err = readGraphemeTable(r); err != nil {
		return nil, err
	}
	if d.Hyperlinks, err = readHyperlinkTable(r); err != nil {
		return nil, err
	}
	return d, nil
}
