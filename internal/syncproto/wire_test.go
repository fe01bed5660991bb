package syncproto

import (
	"testing"

	"github.com/cemoody/dullahan/internal/emulator"
	"github.com/cemoody/dullahan/internal/pane"
)

func testStyles() *emulator.StyleTable {
	t := emulator.NewStyleTable()
	t.Intern(emulator.Style{FG: emulator.Color{Tag: emulator.ColorPalette, V0: 1}, Flags: emulator.AttrBold})
	return t
}

func testView(cols, rows int, styles *emulator.StyleTable) pane.View {
	content := make([]emulator.Row, rows)
	for y := 0; y < rows; y++ {
		cells := make([]emulator.Cell, cols)
		for x := 0; x < cols; x++ {
			sid := emulator.StyleID(0)
			if x == 0 {
				sid = 1
			}
			cells[x] = emulator.NewCell('a'+rune((x+y)%26), sid)
		}
		content[y] = emulator.Row{ID: emulator.RowID(y), Cells: cells}
	}
	return pane.View{
		PaneID:     7,
		Generation: 42,
		Cols:       cols,
		Rows:       rows,
		CursorX:    2,
		CursorY:    1,
		CursorVis:  true,
		AltScreen:  false,
		TotalRows:  rows,
		MinRowID:   0,
		Content:    content,
		Styles:     styles,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	styles := testStyles()
	v := testView(10, 4, styles)

	encoded := EncodeSnapshot(v)
	if encoded[0] != FrameSnapshot {
		t.Fatalf("expected frame type %x, got %x", FrameSnapshot, encoded[0])
	}

	got, err := DecodeSnapshot(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PaneID != v.PaneID || got.Generation != v.Generation {
		t.Fatalf("pane/gen mismatch: got %+v", got)
	}
	if got.Cols != v.Cols || got.Rows != v.Rows {
		t.Fatalf("dims mismatch: got %dx%d", got.Cols, got.Rows)
	}
	if got.Cursor.X != 2 || got.Cursor.Y != 1 || !got.Cursor.Visible {
		t.Fatalf("cursor mismatch: %+v", got.Cursor)
	}
	if len(got.Cells) != v.Cols*v.Rows {
		t.Fatalf("expected %d cells, got %d", v.Cols*v.Rows, len(got.Cells))
	}
	for i, c := range got.Cells {
		want := v.Content[i/v.Cols].Cells[i%v.Cols]
		if c != want {
			t.Fatalf("cell %d mismatch: got %x want %x", i, c, want)
		}
	}
	if len(got.Styles) != 1 {
		t.Fatalf("expected 1 non-default style, got %d", len(got.Styles))
	}
	if len(got.RowIDs) != v.Rows {
		t.Fatalf("expected %d row ids, got %d", v.Rows, len(got.RowIDs))
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	styles := testStyles()
	v := testView(8, 3, styles)
	dirty := []emulator.RowID{0, 2}

	encoded := EncodeDelta(v, 41, dirty)
	if encoded[0] != FrameDelta {
		t.Fatalf("expected frame type %x, got %x", FrameDelta, encoded[0])
	}

	got, err := DecodeDelta(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.FromGen != 41 || got.Generation != 42 {
		t.Fatalf("gen mismatch: %+v", got)
	}
	if len(got.DirtyRows) != 2 {
		t.Fatalf("expected 2 dirty rows, got %d", len(got.DirtyRows))
	}
	if got.DirtyRows[0].RowID != 0 || got.DirtyRows[1].RowID != 2 {
		t.Fatalf("unexpected dirty row ids: %+v", got.DirtyRows)
	}
	for _, dr := range got.DirtyRows {
		want := v.Content[dr.RowID].Cells
		for x, c := range dr.Cells {
			if c != want[x] {
				t.Fatalf("dirty row %d cell %d mismatch: got %x want %x", dr.RowID, x, c, want[x])
			}
		}
	}
	if len(got.RowIDs) != v.Rows {
		t.Fatalf("expected %d row ids, got %d", v.Rows, len(got.RowIDs))
	}
}

func TestDecodeRejectsUnknownFrameType(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatal("expected error for unknown frame type")
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	v := testView(4, 2, testStyles())
	encoded := EncodeSnapshot(v)
	if _, err := DecodeSnapshot(encoded[:5]); err == nil {
		t.Fatal("expected error decoding truncated frame")
	}
}
