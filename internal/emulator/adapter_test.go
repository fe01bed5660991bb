package emulator

import "testing"

func rowText(row []Cell) string {
	out := make([]rune, len(row))
	for i, c := range row {
		r, ok := c.Rune()
		if !ok {
			r = ' '
		}
		out[i] = r
	}
	return string(out)
}

func TestFeedProducesDirtyRowsForWrittenText(t *testing.T) {
	a := New(Options{Cols: 10, Rows: 3, PageCapacity: 100})
	dirty, metaChanged, pruned := a.Feed([]byte("hi"))
	if len(dirty) == 0 {
		t.Fatal("expected at least one dirty row after writing text")
	}
	if !metaChanged {
		t.Fatal("expected cursor move to report a meta change")
	}
	if pruned {
		t.Fatal("no scrollback should have been pruned yet")
	}

	rows := a.ViewportRows()
	if got := rowText(rows[0].Cells)[:2]; got != "hi" {
		t.Fatalf("expected row 0 to start with \"hi\", got %q", got)
	}
}

func TestRowIDsAreMonotonicAcrossScroll(t *testing.T) {
	a := New(Options{Cols: 10, Rows: 2, PageCapacity: 1000})

	var lastMin RowID
	for i := 0; i < 5; i++ {
		a.Feed([]byte("line\r\n"))
		min := a.MinLiveRowID()
		if min < lastMin {
			t.Fatalf("row-id floor went backwards: %d -> %d", lastMin, min)
		}
		lastMin = min
	}
}

func TestRowIDNeverReusedAfterPruning(t *testing.T) {
	a := New(Options{Cols: 10, Rows: 2, PageCapacity: 4, MaxPages: 1})

	seen := map[RowID]bool{}
	for i := 0; i < 30; i++ {
		a.Feed([]byte("x\r\n"))
		for _, row := range a.ViewportRows() {
			if seen[row.ID] {
				continue // live rows are revisited every Feed, that's expected
			}
			seen[row.ID] = true
		}
	}
	// MinLiveRowID must never drop below a value it has already reported,
	// which is the externally observable form of "never reused".
	min1 := a.MinLiveRowID()
	a.Feed([]byte("y\r\n"))
	min2 := a.MinLiveRowID()
	if min2 < min1 {
		t.Fatalf("min row-id decreased after pruning: %d -> %d", min1, min2)
	}
}

func TestScrollMovesViewportIntoScrollbackAndClamps(t *testing.T) {
	a := New(Options{Cols: 10, Rows: 2, PageCapacity: 1000})

	for i := 0; i < 10; i++ {
		a.Feed([]byte("line\r\n"))
	}

	live := a.nextRowID
	if top := a.Scroll(-3); top != live-3 {
		t.Fatalf("expected viewport top %d, got %d", live-3, top)
	}
	if a.ViewportTop() != live-3 {
		t.Fatalf("expected ViewportTop %d, got %d", live-3, a.ViewportTop())
	}

	rows := a.ViewportRows()
	if rows[0].ID != live-3 {
		t.Fatalf("expected viewport row 0 to carry id %d, got %d", live-3, rows[0].ID)
	}

	// Scrolling forward past the tail clamps back to the live top.
	if top := a.Scroll(1000); top != live {
		t.Fatalf("expected clamp to live top %d, got %d", live, top)
	}
	if rows := a.ViewportRows(); rows[0].ID != live {
		t.Fatalf("expected viewport row 0 back at live top %d, got %d", live, rows[0].ID)
	}

	// Scrolling back past the oldest retained row clamps to MinLiveRowID.
	min := a.MinLiveRowID()
	if top := a.Scroll(-1000); top != min {
		t.Fatalf("expected clamp to MinLiveRowID %d, got %d", min, top)
	}
}

func TestScrollDoesNotMarkRowsDirty(t *testing.T) {
	a := New(Options{Cols: 10, Rows: 2, PageCapacity: 1000})
	for i := 0; i < 5; i++ {
		a.Feed([]byte("line\r\n"))
	}
	a.Scroll(-2)
	// Scroll itself never feeds data through the emulator, so there is
	// nothing for the next Feed to report as dirty beyond what the feed
	// itself writes; Scroll has no Feed-shaped return value at all.
	if a.ViewportTop() == a.nextRowID {
		t.Fatal("expected Scroll(-2) to have moved the viewport off the live tail")
	}
	if dirty, _, _ := a.Feed(nil); len(dirty) != 0 {
		t.Fatalf("expected no dirty rows after Scroll, got %v", dirty)
	}
}

func TestTitleParsedFromOSCSequence(t *testing.T) {
	a := New(Options{Cols: 10, Rows: 2, PageCapacity: 100})
	if a.Title() != "" {
		t.Fatalf("expected no title initially, got %q", a.Title())
	}

	a.Feed([]byte("\x1b]0;bash\x07"))
	if a.Title() != "bash" {
		t.Fatalf("expected title %q, got %q", "bash", a.Title())
	}

	// OSC 2 (window-only title) terminated with ST (ESC \) instead of BEL.
	a.Feed([]byte("\x1b]2;vim edit.go\x1b\\"))
	if a.Title() != "vim edit.go" {
		t.Fatalf("expected title %q, got %q", "vim edit.go", a.Title())
	}
}

func TestAltScreenTransitionDetected(t *testing.T) {
	a := New(Options{Cols: 10, Rows: 2, PageCapacity: 100})
	if a.AltScreen() {
		t.Fatal("adapter should not start in alt-screen")
	}
	_, metaChanged, _ := a.Feed([]byte("\x1b[?1049h"))
	if !a.AltScreen() {
		t.Fatal("expected alt-screen to be entered")
	}
	if !metaChanged {
		t.Fatal("alt-screen transition should report a meta change")
	}
	a.Feed([]byte("\x1b[?1049l"))
	if a.AltScreen() {
		t.Fatal("expected alt-screen to be exited")
	}
}
