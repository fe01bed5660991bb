// Package emulator adapts the black-box VT100/xterm emulator (github.com/
// hinshun/vt10x) to the capability surface the rest of the synchronization
// engine needs: feed bytes in, read back a viewport of rows with stable
// row-ids, per-row dirty flags, cursor, the style table, and the
// alt-screen flag. Grapheme clusters and hyperlinks are not tracked: the
// rows it returns never carry Graphemes or Hyperlinks entries.
//
// vt10x.Terminal owns only the live grid; it has no scrollback of its own.
// The adapter layers the page-based row-id scheme on top of it by
// diffing the grid's top row before and after each Write to detect how
// many lines scrolled off, exactly as a human eyeballing a terminal would:
// if the line that used to be on top is now a few rows down (or gone
// entirely), that many lines must have scrolled away.
package emulator

import (
	"bytes"
	"hash/fnv"

	"github.com/hinshun/vt10x"
)

// altScreenMarkers are recognized directly from the raw byte stream fed to
// the emulator, independent of vt10x, because an alt-screen transition
// forces a snapshot regardless of what vt10x itself reports.
var altScreenEnter = [][]byte{
	[]byte("\x1b[?1049h"),
	[]byte("\x1b[?1047h"),
	[]byte("\x1b[?47h"),
}
var altScreenExit = [][]byte{
	[]byte("\x1b[?1049l"),
	[]byte("\x1b[?1047l"),
	[]byte("\x1b[?47l"),
}

// Adapter wraps one vt10x.Terminal plus the row-id/page bookkeeping the
// rest of the system needs. Not safe for concurrent use; callers (Pane)
// serialize access with their own mutex.
type Adapter struct {
	term vt10x.Terminal
	cols int
	rows int

	pageCapacity     int
	scrollOverlapPct int
	scrollback       *scrollback

	// nextRowID is both "the id that will be assigned to the next retired
	// row" and "the id of the current live row 0"; live row y is nextRowID+y.
	nextRowID RowID

	// viewportTop is the row-id Scroll last parked the viewport at.
	// scrolledBack is false when the viewport tracks the live tail (the
	// common case); ViewportRows and ViewportTop ignore viewportTop then.
	viewportTop  RowID
	scrolledBack bool

	styles    *StyleTable
	altScreen bool
	title     string
}

// Options configure a new Adapter.
type Options struct {
	Cols             int
	Rows             int
	PageCapacity     int // default 1000
	MaxPages         int // default 64
	ScrollOverlapPct int // default 30; min row-content overlap to confirm a scroll
}

// New creates an Adapter with a fresh vt10x terminal of the given size.
func New(opts Options) *Adapter {
	if opts.PageCapacity <= 0 {
		opts.PageCapacity = 1000
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 64
	}
	if opts.ScrollOverlapPct <= 0 {
		opts.ScrollOverlapPct = 30
	}
	a := &Adapter{
		term:             vt10x.New(vt10x.WithSize(opts.Cols, opts.Rows)),
		cols:             opts.Cols,
		rows:             opts.Rows,
		pageCapacity:     opts.PageCapacity,
		scrollOverlapPct: opts.ScrollOverlapPct,
		scrollback:       newScrollback(opts.PageCapacity, opts.MaxPages),
		styles:           NewStyleTable(),
	}
	return a
}

// Cols and Rows report the live grid's dimensions.
func (a *Adapter) Cols() int { return a.cols }
func (a *Adapter) Rows() int { return a.rows }

// AltScreen reports whether the alt-screen buffer is currently active.
func (a *Adapter) AltScreen() bool { return a.altScreen }

// Title returns the most recent window/icon title set via an OSC 0/1/2
// sequence, or "" if the shell has never sent one.
func (a *Adapter) Title() string { return a.title }

// PageCapacity returns the configured rows-per-page.
func (a *Adapter) PageCapacity() int { return a.pageCapacity }

// StyleTable returns the pane's interned style table.
func (a *Adapter) StyleTable() *StyleTable { return a.styles }

// MinLiveRowID returns the oldest row-id still retrievable (either live or
// retained in scrollback).
func (a *Adapter) MinLiveRowID() RowID {
	if id, ok := a.scrollback.minRowID(); ok {
		return id
	}
	return a.nextRowID
}

// TotalRows returns the total logical row count: scrollback plus the live
// viewport.
func (a *Adapter) TotalRows() int {
	return a.scrollback.totalRows() + a.rows
}

// Feed writes PTY output through the emulator. It returns the set of
// row-ids in the live viewport whose content changed, plus whether the
// cursor, style table, or alt-screen flag changed -- the caller (Pane)
// uses this to decide whether to bump its generation counter.
func (a *Adapter) Feed(data []byte) (dirty []RowID, cursorOrMetaChanged bool, prunedScrollback bool) {
	wasAlt := a.altScreen
	prevStyles := a.styles.Len()
	a.scanAltScreen(data)
	a.scanTitle(data)

	a.term.Lock()
	cols, rows := a.term.Size()
	before := a.captureRows(cols, rows)
	prevCursorX, prevCursorY := a.cursorLocked()
	prevVisible := a.term.CursorVisible()

	a.term.Write(data)

	cols2, rows2 := a.term.Size()
	after := a.captureRows(cols2, rows2)
	curCursorX, curCursorY := a.cursorLocked()
	curVisible := a.term.CursorVisible()
	a.term.Unlock()

	if cols2 != cols || rows2 != rows {
		// A resize happened underneath us (shouldn't normally occur via
		// Feed, but guard against it): treat conservatively as no scroll.
		a.cols, a.rows = cols2, rows2
		return nil, true, false
	}

	scrolled := detectScroll(before, after, a.scrollOverlapPct)

	for i := 0; i < scrolled; i++ {
		id := a.nextRowID
		a.nextRowID++
		retired := Row{ID: id, Cells: append([]Cell(nil), before[i]...)}
		if a.scrollback.append(id, retired) {
			prunedScrollback = true
		}
	}
	if prunedScrollback && a.scrolledBack {
		if min := a.MinLiveRowID(); a.viewportTop < min {
			a.viewportTop = min
		}
	}

	dirtySet := map[RowID]struct{}{}
	for y := 0; y < rows2; y++ {
		var same bool
		srcY := y + scrolled
		if srcY < len(before) {
			same = rowsEqual(before[srcY], after[y])
		}
		if !same {
			dirtySet[a.nextRowID+RowID(y)] = struct{}{}
		}
	}
	for id := range dirtySet {
		dirty = append(dirty, id)
	}

	cursorOrMetaChanged = prevCursorX != curCursorX || prevCursorY != curCursorY || prevVisible != curVisible || wasAlt != a.altScreen ||
		a.styles.Len() != prevStyles
	return dirty, cursorOrMetaChanged, prunedScrollback
}

// Resize applies a new size to the underlying emulator. Per spec, row-id
// viewport stability is not guaranteed across a resize, so the adapter
// does not attempt to preserve it: the caller is expected to force a
// snapshot on the next send.
func (a *Adapter) Resize(cols, rows int) {
	a.term.Lock()
	a.term.Resize(cols, rows)
	a.term.Unlock()
	a.cols, a.rows = cols, rows
	a.scrolledBack = false
}

// Scroll moves the viewport-top row pointer by deltaRows (negative moves
// back into scrollback, positive moves toward the live tail), clamped to
// [MinLiveRowID(), live tail]. Returns the resulting viewport-top row-id.
func (a *Adapter) Scroll(deltaRows int) RowID {
	top := int64(a.currentViewportTop())
	top += int64(deltaRows)

	if min := int64(a.MinLiveRowID()); top < min {
		top = min
	}
	if max := int64(a.nextRowID); top > max {
		top = max
	}

	a.viewportTop = RowID(top)
	a.scrolledBack = a.viewportTop != a.nextRowID
	return a.viewportTop
}

// ViewportTop returns the row-id currently at the top of the viewport:
// the live tail, or wherever Scroll last parked it.
func (a *Adapter) ViewportTop() RowID {
	return a.currentViewportTop()
}

func (a *Adapter) currentViewportTop() RowID {
	if a.scrolledBack {
		return a.viewportTop
	}
	return a.nextRowID
}

// Cursor returns the cursor position and visibility.
func (a *Adapter) Cursor() (x, y int, visible bool) {
	a.term.Lock()
	defer a.term.Unlock()
	x, y = a.cursorLocked()
	return x, y, a.term.CursorVisible()
}

// cursorLocked must be called with the vt10x terminal already locked.
func (a *Adapter) cursorLocked() (x, y int) {
	c := a.term.Cursor()
	return c.X, c.Y
}

// ViewportRows returns the current viewport (top to bottom): the live grid
// when the viewport tracks the tail (the common case), or a blend of
// scrollback and live rows once Scroll has parked the viewport in history.
func (a *Adapter) ViewportRows() []Row {
	a.term.Lock()
	cols, rows := a.term.Size()
	live := make([]Row, rows)
	for y := 0; y < rows; y++ {
		id := a.nextRowID + RowID(y)
		row := Row{ID: id, Cells: make([]Cell, cols)}
		for x := 0; x < cols; x++ {
			g := a.term.Cell(x, y)
			st := glyphStyle(g)
			sid := a.styles.Intern(st)
			r := g.Char
			if r == 0 {
				r = ' '
			}
			row.Cells[x] = NewCell(r, sid)
		}
		live[y] = row
	}
	a.term.Unlock()

	top := a.currentViewportTop()
	if top == a.nextRowID {
		return live
	}

	out := make([]Row, rows)
	for y := 0; y < rows; y++ {
		id := top + RowID(y)
		switch {
		case id >= a.nextRowID:
			out[y] = live[int(id-a.nextRowID)]
		default:
			if row, ok := a.scrollback.lookup(id); ok {
				out[y] = row
			} else {
				out[y] = Row{ID: id, Cells: make([]Cell, cols)}
			}
		}
	}
	return out
}

// ScrollbackRow returns a previously retired row by id, if still retained.
func (a *Adapter) ScrollbackRow(id RowID) (Row, bool) {
	return a.scrollback.lookup(id)
}

// --- internals ---

func (a *Adapter) captureRows(cols, rows int) [][]Cell {
	out := make([][]Cell, rows)
	for y := 0; y < rows; y++ {
		row := make([]Cell, cols)
		for x := 0; x < cols; x++ {
			g := a.term.Cell(x, y)
			st := glyphStyle(g)
			sid := a.styles.Intern(st)
			r := g.Char
			if r == 0 {
				r = ' '
			}
			row[x] = NewCell(r, sid)
		}
		out[y] = row
	}
	return out
}

func rowsEqual(a, b []Cell) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func rowHash(r []Cell) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, c := range r {
		v := uint64(c)
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf)
	}
	return h.Sum64()
}

// detectScroll compares the grid before and after a Write and returns how
// many rows scrolled off the top, using the same two-strategy row match
// used to detect terminal scrolling without a native scroll event: look
// for the old top row further down the new grid, or look for an old row
// landing exactly on the new top.
func detectScroll(before, after [][]Cell, overlapPct int) int {
	if len(before) == 0 || len(after) == 0 || len(before) != len(after) {
		return 0
	}
	rows := len(before)
	if rowsEqual(before[0], after[0]) {
		return 0
	}

	oldTopHash := rowHash(before[0])
	for newY := 1; newY < rows; newY++ {
		if rowHash(after[newY]) != oldTopHash {
			continue
		}
		if !rowsEqual(after[newY], before[0]) {
			continue
		}
		if newY+1 < rows && rowOverlapPct(after[newY+1], before[1]) >= overlapPct {
			return newY
		}
	}

	newTopHash := rowHash(after[0])
	for oldY := 1; oldY < rows; oldY++ {
		if rowHash(before[oldY]) != newTopHash {
			continue
		}
		if !rowsEqual(before[oldY], after[0]) {
			continue
		}
		if oldY+1 < rows && rowOverlapPct(before[oldY+1], after[1]) >= overlapPct {
			return oldY
		}
	}
	return 0
}

// rowOverlapPct returns the percentage of cells that match between two
// rows, confirmation evidence for a scroll when the follower row isn't a
// byte-for-byte match (e.g. a cursor-blink artifact landed on it).
func rowOverlapPct(a, b []Cell) int {
	if len(a) == 0 || len(b) == 0 {
		return 100
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	matches := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return matches * 100 / len(a)
}

func (a *Adapter) scanAltScreen(data []byte) {
	for _, m := range altScreenEnter {
		if bytes.Contains(data, m) {
			a.altScreen = true
		}
	}
	for _, m := range altScreenExit {
		if bytes.Contains(data, m) {
			a.altScreen = false
		}
	}
}

// scanTitle looks for OSC 0 (icon+window title), OSC 1 (icon title), or
// OSC 2 (window title) sequences -- ESC ] <code> ; <text> terminated by
// either BEL or ST (ESC \) -- and records the last one seen as the
// adapter's title. vt10x has no title concept of its own, so this is done
// directly against the raw byte stream, the same way scanAltScreen detects
// alt-screen transitions it can't get from vt10x either.
func (a *Adapter) scanTitle(data []byte) {
	for i := 0; i+1 < len(data); {
		if data[i] != 0x1b || data[i+1] != ']' {
			i++
			continue
		}
		j := i + 2
		codeStart := j
		for j < len(data) && data[j] != ';' {
			j++
		}
		if j >= len(data) {
			return
		}
		code := string(data[codeStart:j])

		textStart := j + 1
		k := textStart
		for k < len(data) && data[k] != 0x07 && !(data[k] == 0x1b && k+1 < len(data) && data[k+1] == '\\') {
			k++
		}
		if k >= len(data) {
			return // sequence not yet terminated in this chunk
		}
		if code == "0" || code == "1" || code == "2" {
			a.title = string(data[textStart:k])
		}
		if data[k] == 0x1b {
			i = k + 2
		} else {
			i = k + 1
		}
	}
}

// glyphStyle converts a vt10x glyph's color/mode fields into a Style.
// vt10x colors below 256 are palette indices; values >= 0x01000000 are the
// "use default" sentinel; everything else packs RGB as r<<16|g<<8|b.
func glyphStyle(g vt10x.Glyph) Style {
	st := Style{
		FG: vtColor(g.FG),
		BG: vtColor(g.BG),
	}
	const (
		modeReverse   = 0x01
		modeUnderline = 0x02
		modeBold      = 0x04
		modeItalic    = 0x10
		modeBlink     = 0x20
	)
	if g.Mode&modeBold != 0 {
		st.Flags |= AttrBold
	}
	if g.Mode&modeItalic != 0 {
		st.Flags |= AttrItalic
	}
	if g.Mode&modeBlink != 0 {
		st.Flags |= AttrBlink
	}
	if g.Mode&modeReverse != 0 {
		st.Flags |= AttrInverse
	}
	if g.Mode&modeUnderline != 0 {
		st = st.WithUnderlineStyle(UnderlineSingle)
	}
	return st
}

func vtColor(c vt10x.Color) Color {
	switch {
	case uint32(c) >= 0x01000000:
		return Color{Tag: ColorNone}
	case uint32(c) < 256:
		return Color{Tag: ColorPalette, V0: uint8(c)}
	default:
		return Color{
			Tag: ColorRGB,
			V0:  uint8(c >> 16),
			V1:  uint8(c >> 8),
			V2:  uint8(c),
		}
	}
}
