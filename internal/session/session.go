// Package session owns the window/pane hierarchy for one daemon instance:
// creating and destroying panes (each with its own PTY and emulator
// adapter), and routing PTY output and hangups into the right pane.
package session

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cemoody/dullahan/internal/config"
	"github.com/cemoody/dullahan/internal/emulator"
	"github.com/cemoody/dullahan/internal/pane"
	"github.com/cemoody/dullahan/internal/ptyio"
)

// Window is a named collection of pane-ids sharing a layout. Geometry is
// opaque to the sync core (spec.md treats window layout as out of scope);
// it is carried verbatim for the client to interpret.
type Window struct {
	ID           int
	Title        string
	ActivePaneID int
	PaneIDs      []int
	Geometry     json.RawMessage
}

// Session owns every window and pane for one daemon process.
type Session struct {
	mu sync.RWMutex

	cfg      *config.Config
	registry *ptyio.Registry

	windows        map[int]*Window
	panes          map[int]*pane.Pane
	resizers       map[int]*pane.ResizeDebouncer
	activeWindowID int
	nextID         int
}

// New creates an empty session with no windows.
func New(cfg *config.Config, registry *ptyio.Registry) *Session {
	return &Session{
		cfg:      cfg,
		registry: registry,
		windows:  make(map[int]*Window),
		panes:    make(map[int]*pane.Pane),
		resizers: make(map[int]*pane.ResizeDebouncer),
	}
}

func (s *Session) allocID() int {
	s.nextID++
	return s.nextID
}

// NewWindow creates a window with one pane running the configured shell,
// and makes it the active window. Mirrors the `new_window` message.
func (s *Session) NewWindow(title string) (*Window, *pane.Pane, error) {
	s.mu.Lock()
	winID := s.allocID()
	paneID := s.allocID()
	s.mu.Unlock()

	p, err := s.spawnPane(paneID)
	if err != nil {
		return nil, nil, err
	}

	w := &Window{ID: winID, Title: title, ActivePaneID: paneID, PaneIDs: []int{paneID}}

	s.mu.Lock()
	s.windows[winID] = w
	s.panes[paneID] = p
	s.resizers[paneID] = pane.NewResizeDebouncer(s.cfg.ResizeDebounce, func(cols, rows int) {
		p.Resize(cols, rows)
	})
	s.activeWindowID = winID
	s.mu.Unlock()

	return w, p, nil
}

// ResizePane debounces a resize request for paneID, coalescing rapid
// successive requests (e.g. a dragged browser window) into a single
// applied resize once the requests go idle. Mirrors the `resize` message.
func (s *Session) ResizePane(paneID, cols, rows int) bool {
	s.mu.RLock()
	d, ok := s.resizers[paneID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	d.Request(cols, rows)
	return true
}

func (s *Session) spawnPane(id int) (*pane.Pane, error) {
	cols, rows := s.cfg.DefaultCols, s.cfg.DefaultRows
	pty, err := ptyio.Spawn(id, s.cfg.Shell, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("session: spawn pane %d: %w", id, err)
	}
	emu := emulator.New(emulator.Options{
		Cols:             cols,
		Rows:             rows,
		PageCapacity:     s.cfg.PageCapacity,
		ScrollOverlapPct: s.cfg.ScrollOverlapPct,
	})
	p := pane.New(id, emu, pty)
	p.Title = filepath.Base(s.cfg.Shell) // placeholder until the shell sends an OSC title of its own
	s.registry.Add(pty)
	return p, nil
}

// CloseWindow terminates every pane in a window, releases their PTYs, and
// removes the window. Mirrors the `close_window` message.
func (s *Session) CloseWindow(windowID int) error {
	s.mu.Lock()
	w, ok := s.windows[windowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session: no such window %d", windowID)
	}
	delete(s.windows, windowID)
	paneIDs := append([]int(nil), w.PaneIDs...)
	var toClose []*pane.Pane
	for _, pid := range paneIDs {
		if p, ok := s.panes[pid]; ok {
			toClose = append(toClose, p)
			delete(s.panes, pid)
		}
		if d, ok := s.resizers[pid]; ok {
			d.Stop()
			delete(s.resizers, pid)
		}
	}
	if s.activeWindowID == windowID {
		s.activeWindowID = 0
		for id := range s.windows {
			s.activeWindowID = id
			break
		}
	}
	s.mu.Unlock()

	for _, p := range toClose {
		p.Shutdown(s.cfg.ShutdownGrace)
		s.registry.Remove(p.ID)
	}
	return nil
}

// CloseAll terminates every pane's PTY (SIGTERM, escalating to SIGKILL
// after grace) and empties the session. Intended as the last step of the
// daemon's shutdown sequence, after both the PTY reader and every client
// sender have been stopped.
func (s *Session) CloseAll(grace time.Duration) {
	s.mu.Lock()
	panes := make([]*pane.Pane, 0, len(s.panes))
	for _, p := range s.panes {
		panes = append(panes, p)
	}
	for _, d := range s.resizers {
		d.Stop()
	}
	s.windows = make(map[int]*Window)
	s.panes = make(map[int]*pane.Pane)
	s.resizers = make(map[int]*pane.ResizeDebouncer)
	s.activeWindowID = 0
	s.mu.Unlock()

	for _, p := range panes {
		p.Shutdown(grace)
		s.registry.Remove(p.ID)
	}
}

// Pane looks up a pane by id.
func (s *Session) Pane(id int) (*pane.Pane, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.panes[id]
	return p, ok
}

// Panes returns a snapshot of every live pane.
func (s *Session) Panes() []*pane.Pane {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pane.Pane, 0, len(s.panes))
	for _, p := range s.panes {
		out = append(out, p)
	}
	return out
}

// Windows returns a snapshot of every window, for the `/api/sessions`
// layout listing.
func (s *Session) Windows() []*Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Window, 0, len(s.windows))
	for _, w := range s.windows {
		cp := *w
		cp.PaneIDs = append([]int(nil), w.PaneIDs...)
		out = append(out, &cp)
	}
	return out
}

// HandleOutput feeds PTY bytes to the owning pane. Intended as the
// ptyio.Reader's OnOutput callback.
func (s *Session) HandleOutput(paneID int, data []byte) {
	p, ok := s.Pane(paneID)
	if !ok {
		return
	}
	_ = p.Feed(data) // ErrTerminated is possible under a hangup race; nothing to do.
}

// HandleHangup marks a pane terminated when its PTY's read side closes.
// Intended as the ptyio.Reader's OnHangup callback.
func (s *Session) HandleHangup(paneID int) {
	if p, ok := s.Pane(paneID); ok {
		p.Terminate()
	}
}
