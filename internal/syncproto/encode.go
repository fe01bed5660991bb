package syncproto

import (
	"sort"

	"github.com/cemoody/dullahan/internal/emulator"
	"github.com/cemoody/dullahan/internal/pane"
)

// EncodeSnapshot produces a full-state frame: every cell in the current
// viewport, the complete style table, and the row-id array that lets a
// client detect scrollback pruning on its next delta.
func EncodeSnapshot(v pane.View) []byte {
	w := &byteWriter{buf: make([]byte, 0, 1+4+8+4+len(v.Content)*v.Cols*8)}
	w.u8(FrameSnapshot)
	w.u32(uint32(v.PaneID))
	w.u64(v.Generation)
	w.u16(uint16(v.Cols))
	w.u16(uint16(v.Rows))
	writeCursor(w, v)
	w.bool8(v.AltScreen)
	w.u32(uint32(v.TotalRows))
	w.u32(uint32(viewportTop(v)))

	for _, row := range v.Content {
		writeRowCells(w, row)
	}

	styles := map[emulator.StyleID]emulator.Style{}
	if v.Styles != nil {
		styles = v.Styles.All()
	}
	writeStyleTable(w, styles)
	writeRowIDArray(w, v.Content)

	g, h := collectAttachments(v.Content, v.Cols)
	writeGraphemeTable(w, g)
	writeHyperlinkTable(w, h)

	w.u8(0) // selection present flag: selection sync is not yet implemented

	return w.buf
}

// EncodeDelta produces a dirty-rows-only frame. dirty holds the row-ids
// (within the current viewport) whose content changed since fromGen; rows
// not named in dirty are assumed unchanged by the client and are not
// retransmitted, though their ids are still listed so the client can
// confirm its local row-id array still lines up.
func EncodeDelta(v pane.View, fromGen uint64, dirty []emulator.RowID) []byte {
	w := &byteWriter{buf: make([]byte, 0, 1+4+16+4+len(dirty)*(v.Cols*8+8))}
	w.u8(FrameDelta)
	w.u32(uint32(v.PaneID))
	w.u64(fromGen)
	w.u64(v.Generation)
	w.u16(uint16(v.Cols))
	w.u16(uint16(v.Rows))
	writeCursor(w, v)
	w.bool8(v.AltScreen)
	w.u32(uint32(v.TotalRows))
	w.u32(uint32(viewportTop(v)))

	byID := make(map[emulator.RowID]emulator.Row, len(v.Content))
	for _, row := range v.Content {
		byID[row.ID] = row
	}

	sortedDirty := append([]emulator.RowID(nil), dirty...)
	sort.Slice(sortedDirty, func(i, j int) bool { return sortedDirty[i] < sortedDirty[j] })

	dirtyRows := make([]emulator.Row, 0, len(sortedDirty))
	for _, id := range sortedDirty {
		if row, ok := byID[id]; ok {
			dirtyRows = append(dirtyRows, row)
		}
	}
	w.u32(uint32(len(dirtyRows)))
	for _, row := range dirtyRows {
		w.u64(uint64(row.ID))
		writeRowCells(w, row)
	}

	writeRowIDArray(w, v.Content)

	refIDs := referencedStyleIDs(dirtyRows)
	sub := map[emulator.StyleID]emulator.Style{}
	if v.Styles != nil {
		for id := range refIDs {
			sub[id] = v.Styles.Lookup(id)
		}
	}
	writeStyleTable(w, sub)

	g, h := collectAttachments(dirtyRows, v.Cols)
	writeGraphemeTable(w, g)
	writeHyperlinkTable(w, h)

	return w.buf
}

func viewportTop(v pane.View) int {
	if len(v.Content) == 0 {
		return int(v.MinRowID)
	}
	return int(v.Content[0].ID)
}

func referencedStyleIDs(rows []emulator.Row) map[emulator.StyleID]struct{} {
	out := map[emulator.StyleID]struct{}{}
	for _, row := range rows {
		for _, c := range row.Cells {
			id := c.StyleID()
			if id != 0 {
				out[id] = struct{}{}
			}
		}
	}
	return out
}
