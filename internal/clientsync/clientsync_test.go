package clientsync

import (
	"testing"
	"time"

	"github.com/cemoody/dullahan/internal/emulator"
	"github.com/cemoody/dullahan/internal/pane"
	"github.com/cemoody/dullahan/internal/syncproto"
)

func buildView(cols, rows int, gen uint64, minRowID emulator.RowID) pane.View {
	styles := emulator.NewStyleTable()
	content := make([]emulator.Row, rows)
	for y := 0; y < rows; y++ {
		cells := make([]emulator.Cell, cols)
		for x := 0; x < cols; x++ {
			cells[x] = emulator.NewCell(rune('A'+((x+y)%26)), 0)
		}
		content[y] = emulator.Row{ID: minRowID + emulator.RowID(y), Cells: cells}
	}
	return pane.View{
		PaneID:     1,
		Generation: gen,
		Cols:       cols,
		Rows:       rows,
		TotalRows:  rows,
		MinRowID:   minRowID,
		Content:    content,
		Styles:     styles,
	}
}

func mustSnapshot(t *testing.T, v pane.View) *syncproto.Snapshot {
	t.Helper()
	s, err := syncproto.DecodeSnapshot(syncproto.EncodeSnapshot(v))
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return s
}

func TestApplySnapshotPopulatesCache(t *testing.T) {
	v := buildView(8, 4, 1, 0)
	s := mustSnapshot(t, v)

	c := NewPaneCache(v.PaneID, 0)
	c.ApplySnapshot(s)

	if c.LastGen() != 1 {
		t.Fatalf("expected lastGen 1, got %d", c.LastGen())
	}
	vp := c.Viewport()
	if len(vp) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(vp))
	}
	for i, row := range vp {
		if row == nil {
			t.Fatalf("row %d missing from cache after snapshot", i)
		}
	}
}

func TestApplyDeltaConvergesToSnapshot(t *testing.T) {
	v1 := buildView(8, 4, 1, 0)
	c := NewPaneCache(v1.PaneID, 0)
	c.ApplySnapshot(mustSnapshot(t, v1))

	v2 := buildView(8, 4, 2, 0)
	v2.Content[1].Cells[0] = emulator.NewCell('Z', 0)
	delta, err := syncproto.DecodeDelta(syncproto.EncodeDelta(v2, 1, []emulator.RowID{1}))
	if err != nil {
		t.Fatalf("decode delta: %v", err)
	}

	if err := c.ApplyDelta(delta, 3, 10); err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if c.LastGen() != 2 {
		t.Fatalf("expected lastGen 2, got %d", c.LastGen())
	}

	vp := c.Viewport()
	if vp[1][0] != emulator.NewCell('Z', 0) {
		t.Fatalf("expected dirty row to reflect delta, got %v", vp[1][0])
	}
	// Row 0 was untouched by the delta; it must still equal the original
	// snapshot's content (delta correctness).
	if vp[0][0] != v1.Content[0].Cells[0] {
		t.Fatalf("expected untouched row to survive delta application")
	}
}

func TestApplyDeltaTriggersResyncOnCacheMiss(t *testing.T) {
	c := NewPaneCache(1, 0)
	// Cache is empty (never got a snapshot); any delta referencing rows
	// it doesn't know about should trip the cache-miss threshold.
	v := buildView(8, 10, 2, 0)
	delta, err := syncproto.DecodeDelta(syncproto.EncodeDelta(v, 1, nil))
	if err != nil {
		t.Fatalf("decode delta: %v", err)
	}

	err = c.ApplyDelta(delta, 3, 10)
	if err == nil {
		t.Fatal("expected resync-needed error")
	}
	rn, ok := err.(*ResyncNeeded)
	if !ok {
		t.Fatalf("expected *ResyncNeeded, got %T", err)
	}
	if rn.Reason != ReasonCacheMiss {
		t.Fatalf("expected cache_miss, got %s", rn.Reason)
	}
}

func TestResyncThrottle(t *testing.T) {
	c := NewPaneCache(1, 0)
	now := time.Now()
	if c.ShouldThrottleResync(now, time.Second) {
		t.Fatal("first resync should not be throttled")
	}
	if !c.ShouldThrottleResync(now, time.Second) {
		t.Fatal("immediate second resync should be throttled")
	}
}
