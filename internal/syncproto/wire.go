// Package syncproto implements the binary snapshot/delta wire format
// described in spec.md §6: pure functions over a read-only pane view,
// independent of sockets, mutexes, or any particular pane implementation.
package syncproto

import (
	"encoding/binary"

	"github.com/cemoody/dullahan/internal/emulator"
	"github.com/cemoody/dullahan/internal/pane"
)

// Frame type prefixes for binary WebSocket messages.
const (
	FrameSnapshot byte = 0x01
	FrameDelta    byte = 0x02
)

type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *byteWriter) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *byteWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *byteWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *byteWriter) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *byteWriter) bool8(b bool) {
	if b {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func writeColor(w *byteWriter, c emulator.Color) {
	w.u8(uint8(c.Tag))
	w.u8(c.V0)
	w.u8(c.V1)
	w.u8(c.V2)
}

func writeStyleTable(w *byteWriter, styles map[emulator.StyleID]emulator.Style) {
	w.u16(uint16(len(styles)))
	// Deterministic order for testability.
	ids := make([]emulator.StyleID, 0, len(styles))
	for id := range styles {
		ids = append(ids, id)
	}
	sortStyleIDs(ids)
	for _, id := range ids {
		st := styles[id]
		w.u16(uint16(id))
		writeColor(w, st.FG)
		writeColor(w, st.BG)
		writeColor(w, st.UL)
		w.u16(st.Flags)
	}
}

func sortStyleIDs(ids []emulator.StyleID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func writeRowCells(w *byteWriter, row emulator.Row) {
	for _, c := range row.Cells {
		w.u64(uint64(c))
	}
}

func writeRowIDArray(w *byteWriter, rows []emulator.Row) {
	for _, r := range rows {
		w.u64(uint64(r.ID))
	}
}

type graphemeEntry struct {
	cellIndex uint32
	cps       []rune
}

type hyperlinkEntry struct {
	cellIndex uint32
	url       string
}

// collectAttachments flattens per-row grapheme/hyperlink maps into
// wire-ready entries, using cellIndex = flatRowPos*cols + col, where
// flatRowPos is the row's position within rows (the order they're
// transmitted in, not its row-id).
func collectAttachments(rows []emulator.Row, cols int) ([]graphemeEntry, []hyperlinkEntry) {
	var g []graphemeEntry
	var h []hyperlinkEntry
	for i, row := range rows {
		for col, cps := range row.Graphemes {
			g = append(g, graphemeEntry{cellIndex: uint32(i*cols + col), cps: cps})
		}
		for col, url := range row.Hyperlinks {
			h = append(h, hyperlinkEntry{cellIndex: uint32(i*cols + col), url: url})
		}
	}
	return g, h
}

func writeGraphemeTable(w *byteWriter, entries []graphemeEntry) {
	w.u32(uint32(len(entries)))
	for _, e := range entries {
		w.u32(e.cellIndex)
		n := len(e.cps)
		if n > 255 {
			n = 255
		}
		w.u8(uint8(n))
		for i := 0; i < n; i++ {
			cp := uint32(e.cps[i])
			w.u8(uint8(cp))
			w.u8(uint8(cp >> 8))
			w.u8(uint8(cp >> 16))
		}
	}
}

func writeHyperlinkTable(w *byteWriter, entries []hyperlinkEntry) {
	w.u32(uint32(len(entries)))
	for _, e := range entries {
		w.u32(e.cellIndex)
		u := []byte(e.url)
		w.u16(uint16(len(u)))
		w.bytes(u)
	}
}

func writeCursor(w *byteWriter, v pane.View) {
	w.u16(uint16(v.CursorX))
	w.u16(uint16(v.CursorY))
	w.bool8(v.CursorVis)
	w.u16(0) // cursor style id; reserved for future cursor-shape support
	w.u8(0)  // blink flag
}
