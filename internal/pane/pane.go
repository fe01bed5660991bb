// Package pane implements the per-pane state machine: one emulator, one
// PTY, a generation counter, a dirty-row set, and the force-snapshot state
// machine, all guarded by a single mutex so no two operations on the same
// pane ever run concurrently.
package pane

import (
	"errors"
	"sync"
	"time"

	"github.com/cemoody/dullahan/internal/emulator"
)

// ErrTerminated is returned by (and wraps into) operations attempted on a
// pane that has already hit a pane-fatal condition.
var ErrTerminated = errors.New("pane: terminated")

// PTY is the minimal surface Pane needs from its PTY collaborator (the OS
// handle pair is owned by internal/ptyio; Pane only needs to push bytes
// and resize).
type PTY interface {
	Write(p []byte) (int, error)
	SetSize(cols, rows int) error
	Close() error
	CloseWithGrace(grace time.Duration) error
}

// Pane is one terminal instance: one emulator, one optional PTY, a
// generation counter, and its dirty-row bookkeeping.
type Pane struct {
	ID    int
	Title string

	mu sync.Mutex

	emu PTYEmulator
	pty PTY

	generation   uint64
	dirtyRows    map[emulator.RowID]struct{}
	dirtyBaseGen uint64

	forceSnapshot      bool
	forceSnapshotSince uint64
	snapshotSentTo     map[string]uint64 // client id -> gen at which it last got a forced snapshot

	terminated bool
	viewport   int // rows, cached for dirty-set-size policy
}

// PTYEmulator is the subset of *emulator.Adapter that Pane drives. Defined
// as an interface so tests can substitute a fake emulator.
type PTYEmulator interface {
	Feed(data []byte) (dirty []emulator.RowID, cursorOrMetaChanged bool, prunedScrollback bool)
	Resize(cols, rows int)
	Scroll(deltaRows int) emulator.RowID
	Cols() int
	Rows() int
	AltScreen() bool
	Title() string
	Cursor() (x, y int, visible bool)
	StyleTable() *emulator.StyleTable
	ViewportRows() []emulator.Row
	ViewportTop() emulator.RowID
	ScrollbackRow(id emulator.RowID) (emulator.Row, bool)
	MinLiveRowID() emulator.RowID
	TotalRows() int
	PageCapacity() int
}

// New creates a Pane around an already-constructed emulator adapter. pty
// may be nil for pure display panes.
func New(id int, emu PTYEmulator, pty PTY) *Pane {
	return &Pane{
		ID:           id,
		emu:          emu,
		pty:          pty,
		dirtyRows:    make(map[emulator.RowID]struct{}),
		viewport:     emu.Rows(),
		snapshotSentTo: make(map[string]uint64),
	}
}

// Generation returns the current generation under lock.
func (p *Pane) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Terminated reports whether the pane has hit a fatal condition.
func (p *Pane) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// CurrentTitle returns the pane's current title under lock.
func (p *Pane) CurrentTitle() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Title
}

// Feed writes PTY output to the emulator, updates the dirty set, and bumps
// the generation counter if anything observable changed.
func (p *Pane) Feed(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated {
		return ErrTerminated
	}

	wasAlt := p.emu.AltScreen()
	dirty, metaChanged, pruned := p.emu.Feed(data)

	if pruned || wasAlt != p.emu.AltScreen() {
		p.enterForceSnapshotLocked()
	}

	changed := metaChanged
	for _, id := range dirty {
		p.dirtyRows[id] = struct{}{}
		changed = true
	}

	if t := p.emu.Title(); t != "" && t != p.Title {
		p.Title = t
		changed = true
	}

	if len(p.dirtyRows) > p.viewport {
		// The delta would be larger than the snapshot: reset dirty
		// tracking and force a snapshot instead.
		p.dirtyRows = make(map[emulator.RowID]struct{})
		p.enterForceSnapshotLocked()
	}

	if changed {
		p.generation++
	}
	return nil
}

// WriteInput sends bytes to the pane's PTY (keyboard/paste input), bypassing
// the emulator entirely -- the resulting echo, if any, arrives later as PTY
// output through Feed. A no-op on a pane with no PTY (a pure display pane)
// or a terminated pane.
func (p *Pane) WriteInput(data []byte) error {
	p.mu.Lock()
	pty := p.pty
	terminated := p.terminated
	p.mu.Unlock()
	if terminated || pty == nil {
		return nil
	}
	_, err := pty.Write(data)
	return err
}

// Resize applies a resize to both the emulator and the PTY (if any).
// Always increments generation and forces the next send to be a snapshot.
func (p *Pane) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated {
		return ErrTerminated
	}

	p.emu.Resize(cols, rows)
	p.viewport = rows
	if p.pty != nil {
		if err := p.pty.SetSize(cols, rows); err != nil {
			return err
		}
	}
	p.generation++
	p.enterForceSnapshotLocked()
	return nil
}

// Scroll moves the emulator's scrollback viewport. It never marks rows
// dirty (the content did not change) but always bumps generation so
// watching clients re-send the viewport's rows and updated viewport_top.
func (p *Pane) Scroll(deltaRows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated {
		return ErrTerminated
	}
	p.emu.Scroll(deltaRows)
	p.generation++
	return nil
}

// ClearDirty empties the dirty set and rebases dirty_base_gen to the
// current generation.
func (p *Pane) ClearDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearDirtyLocked()
}

func (p *Pane) clearDirtyLocked() {
	p.dirtyRows = make(map[emulator.RowID]struct{})
	p.dirtyBaseGen = p.generation
}

func (p *Pane) enterForceSnapshotLocked() {
	if p.forceSnapshot {
		return
	}
	p.forceSnapshot = true
	p.forceSnapshotSince = p.generation
	p.snapshotSentTo = make(map[string]uint64)
}

// MarkSnapshotSent records that clientID has now received a snapshot at
// generation gen. Once every currently-registered client (per
// knownClientIDs) has received a snapshot at or after forceSnapshotSince,
// the force-snapshot flag clears.
func (p *Pane) MarkSnapshotSent(clientID string, gen uint64, knownClientIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.forceSnapshot {
		return
	}
	p.snapshotSentTo[clientID] = gen
	for _, id := range knownClientIDs {
		g, ok := p.snapshotSentTo[id]
		if !ok || g < p.forceSnapshotSince {
			return
		}
	}
	p.forceSnapshot = false
	p.clearDirtyLocked()
}

// Terminate marks the pane dead. Subsequent Feed/Resize/Scroll calls are
// no-ops returning ErrTerminated; the next snapshot will show the pane's
// last frame with the cursor hidden.
func (p *Pane) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return
	}
	p.terminated = true
	p.generation++
}

// Shutdown terminates the pane and closes its PTY, giving the child grace
// to exit on SIGTERM before escalating to SIGKILL. A no-op on a pane with
// no PTY (a pure display pane).
func (p *Pane) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	pty := p.pty
	p.terminated = true
	p.generation++
	p.mu.Unlock()
	if pty == nil {
		return nil
	}
	return pty.CloseWithGrace(grace)
}

// Snapshot returns a read-only view suitable for wire encoding. Callers
// must not retain the view past releasing whatever lock they took (View
// is a plain copy of scalar state plus the emulator's live data, which is
// itself copied out under the emulator's own lock).
func (p *Pane) Snapshot() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// Delta returns a view plus the set of row-ids dirty since fromGen, or
// ok=false if a delta cannot be encoded (the caller should snapshot
// instead): fromGen is behind dirtyBaseGen, the pane is mid force-
// snapshot, or too much of the viewport is dirty.
func (p *Pane) Delta(fromGen uint64, dirtyThresholdPct int) (View, []emulator.RowID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.forceSnapshot {
		return View{}, nil, false
	}
	if fromGen < p.dirtyBaseGen {
		return View{}, nil, false
	}
	if len(p.dirtyRows)*100 > p.viewport*dirtyThresholdPct {
		return View{}, nil, false
	}

	dirty := make([]emulator.RowID, 0, len(p.dirtyRows))
	for id := range p.dirtyRows {
		dirty = append(dirty, id)
	}
	return p.viewLocked(), dirty, true
}

// View is a point-in-time, encoder-ready snapshot of pane state.
type View struct {
	PaneID      int
	Generation  uint64
	Cols        int
	Rows        int
	CursorX     int
	CursorY     int
	CursorVis   bool
	AltScreen   bool
	Title       string
	Terminated  bool
	TotalRows   int
	MinRowID    emulator.RowID
	ViewportTop int
	Content     []emulator.Row
	Styles      *emulator.StyleTable
}

func (p *Pane) viewLocked() View {
	x, y, vis := p.emu.Cursor()
	if p.terminated {
		vis = false
	}
	return View{
		PaneID:      p.ID,
		Generation:  p.generation,
		Cols:        p.emu.Cols(),
		Rows:        p.emu.Rows(),
		CursorX:     x,
		CursorY:     y,
		CursorVis:   vis,
		AltScreen:   p.emu.AltScreen(),
		Title:       p.Title,
		Terminated:  p.terminated,
		TotalRows:   p.emu.TotalRows(),
		MinRowID:    p.emu.MinLiveRowID(),
		ViewportTop: int(p.emu.ViewportTop()),
		Content:     p.emu.ViewportRows(),
		Styles:      p.emu.StyleTable(),
	}
}

// ResizeDebouncer coalesces rapid resize requests, per spec.md's
// "debounce (>=100ms idle)" requirement for master-issued resize messages.
type ResizeDebouncer struct {
	mu      sync.Mutex
	timer   *time.Timer
	idle    time.Duration
	apply   func(cols, rows int)
	pending struct{ cols, rows int }
}

// NewResizeDebouncer builds a debouncer that calls apply after idle has
// elapsed since the last Request.
func NewResizeDebouncer(idle time.Duration, apply func(cols, rows int)) *ResizeDebouncer {
	return &ResizeDebouncer{idle: idle, apply: apply}
}

// Request schedules a resize, resetting the idle timer.
func (d *ResizeDebouncer) Request(cols, rows int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.cols, d.pending.rows = cols, rows
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, func() {
		d.mu.Lock()
		c, r := d.pending.cols, d.pending.rows
		d.mu.Unlock()
		d.apply(c, r)
	})
}

// Stop cancels any pending debounced resize.
func (d *ResizeDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
