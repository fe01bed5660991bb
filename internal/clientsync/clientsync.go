// Package clientsync is the reference implementation of the browser-side
// row/style cache and cache-miss/resync logic described by spec.md §4.6:
// given a stream of decoded snapshot/delta frames, it reconstructs the
// server's authoritative viewport and tells the caller when it must ask
// for a resync.
package clientsync

import (
	"container/list"
	"time"

	"github.com/cemoody/dullahan/internal/emulator"
	"github.com/cemoody/dullahan/internal/syncproto"
)

// ResyncReason mirrors the wire enum carried by a client's "resync" message.
type ResyncReason string

const (
	ReasonCacheMiss ResyncReason = "cache_miss"
	ReasonStyleMiss ResyncReason = "style_miss"
)

// ResyncNeeded is returned by ApplyDelta when the client must ask the server to
// force a snapshot; the caller is expected to send a "resync" message and
// not render the partial result.
type ResyncNeeded struct {
	PaneID int
	Reason ResyncReason
}

func (e *ResyncNeeded) Error() string {
	return "clientsync: resync needed (" + string(e.Reason) + ")"
}

type cacheEntry struct {
	rowID emulator.RowID
	cells []emulator.Cell
	elem  *list.Element
}

// PaneCache holds one pane's reconstructed state: a bounded row cache (LRU
// eviction), a style table, and the last generation applied.
type PaneCache struct {
	paneID int

	rowCapacity int
	rows        map[emulator.RowID]*cacheEntry
	lru         *list.List // front = most recently used

	styles map[emulator.StyleID]syncproto.StyleEntry

	lastGen            uint64
	cols, viewportRows int
	cursor             syncproto.Cursor
	altScreen          bool
	viewportIDs        []emulator.RowID

	lastResyncAt time.Time
}

// NewPaneCache creates an empty cache for one pane, bounded to rowCapacity
// rows (0 means unbounded).
func NewPaneCache(paneID, rowCapacity int) *PaneCache {
	return &PaneCache{
		paneID:      paneID,
		rowCapacity: rowCapacity,
		rows:        make(map[emulator.RowID]*cacheEntry),
		lru:         list.New(),
		styles:      make(map[emulator.StyleID]syncproto.StyleEntry),
	}
}

// ApplySnapshot resets the cache to a fresh full-state frame.
func (c *PaneCache) ApplySnapshot(s *syncproto.Snapshot) {
	c.rows = make(map[emulator.RowID]*cacheEntry)
	c.lru.Init()
	c.styles = make(map[emulator.StyleID]syncproto.StyleEntry)

	for id, st := range s.Styles {
		c.styles[id] = st
	}
	for i, rid := range s.RowIDs {
		cells := append([]emulator.Cell(nil), s.Cells[i*s.Cols:(i+1)*s.Cols]...)
		c.put(rid, cells)
	}

	c.lastGen = s.Generation
	c.cols, c.viewportRows = s.Cols, s.Rows
	c.cursor = s.Cursor
	c.altScreen = s.AltScreen
	c.viewportIDs = append([]emulator.RowID(nil), s.RowIDs...)
}

// ApplyDelta folds a dirty-rows-only frame into the cache, per spec.md
// §4.6's six-step algorithm. Returns a *ResyncNeeded error (never any
// other kind) when the client must fall back to requesting a snapshot;
// in that case the delta's dirty rows and styles have already been
// written into the cache, but the generation, cursor and viewport are
// left as they were, and the caller should not render using it.
func (c *PaneCache) ApplyDelta(d *syncproto.Delta, maxMissingFloor int, missingPct int) error {
	for id, st := range d.Styles {
		c.styles[id] = st
	}
	for _, dr := range d.DirtyRows {
		c.put(dr.RowID, dr.Cells)
	}

	missing := 0
	for _, rid := range d.RowIDs {
		if _, ok := c.rows[rid]; !ok {
			missing++
		}
	}
	threshold := maxMissingFloor
	if pctBased := len(d.RowIDs) * missingPct / 100; pctBased > threshold {
		threshold = pctBased
	}
	if missing > threshold {
		return &ResyncNeeded{PaneID: c.paneID, Reason: ReasonCacheMiss}
	}

	for _, row := range c.reconstructLocked(d.RowIDs) {
		for _, cell := range row {
			if sid := cell.StyleID(); sid != 0 {
				if _, ok := c.styles[sid]; !ok {
					return &ResyncNeeded{PaneID: c.paneID, Reason: ReasonStyleMiss}
				}
			}
		}
	}

	c.lastGen = d.Generation
	c.cols, c.viewportRows = d.Cols, d.Rows
	c.cursor = d.Cursor
	c.altScreen = d.AltScreen
	c.viewportIDs = append([]emulator.RowID(nil), d.RowIDs...)
	return nil
}

// Viewport reconstructs the current viewport by row-id lookup. A row
// missing from the cache is returned as nil; callers should have already
// checked ApplyDelta's resync conditions before calling this for real
// rendering.
func (c *PaneCache) Viewport() [][]emulator.Cell {
	return c.reconstructLocked(c.viewportIDs)
}

func (c *PaneCache) reconstructLocked(ids []emulator.RowID) [][]emulator.Cell {
	out := make([][]emulator.Cell, len(ids))
	for i, id := range ids {
		if e, ok := c.rows[id]; ok {
			out[i] = e.cells
			c.lru.MoveToFront(e.elem)
		}
	}
	return out
}

// LastGen returns the generation this cache has been synced to.
func (c *PaneCache) LastGen() uint64 { return c.lastGen }

// ShouldThrottleResync reports whether a resync was already sent for this
// pane within the last interval, per spec.md's "no more than one resync
// per pane per 1000ms" throttle.
func (c *PaneCache) ShouldThrottleResync(now time.Time, interval time.Duration) bool {
	if now.Sub(c.lastResyncAt) < interval {
		return true
	}
	c.lastResyncAt = now
	return false
}

func (c *PaneCache) put(id emulator.RowID, cells []emulator.Cell) {
	if e, ok := c.rows[id]; ok {
		e.cells = cells
		c.lru.MoveToFront(e.elem)
		return
	}
	e := &cacheEntry{rowID: id, cells: cells}
	e.elem = c.lru.PushFront(e)
	c.rows[id] = e

	if c.rowCapacity > 0 {
		for len(c.rows) > c.rowCapacity {
			back := c.lru.Back()
			if back == nil {
				break
			}
			evict := back.Value.(*cacheEntry)
			c.lru.Remove(back)
			delete(c.rows, evict.rowID)
		}
	}
}
