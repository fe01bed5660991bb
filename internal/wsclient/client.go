// Package wsclient implements the per-WebSocket ClientSession: one read
// pump dispatching incoming control messages, and one send loop that
// wakes on either an enqueued control message or a pane-output
// notification and flushes whichever panes have advanced since this
// client last saw them.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/cemoody/dullahan/internal/config"
	"github.com/cemoody/dullahan/internal/master"
	"github.com/cemoody/dullahan/internal/session"
	"github.com/cemoody/dullahan/internal/syncproto"
)

// frame is a pre-encoded outbound message plus its WebSocket message kind.
type frame struct {
	kind websocket.MessageType
	data []byte
}

type perPaneState struct {
	lastSentGen   uint64
	forceSnapshot bool
	lastTitle     string
}

// ClientSession is one attached WebSocket's state and send/receive loops.
type ClientSession struct {
	id      string
	conn    *websocket.Conn
	sess    *session.Session
	arbiter *master.Arbiter
	hub     *Hub
	cfg     *config.Config
	logger  *slog.Logger

	sendCh chan frame
	wake   chan struct{}

	// paneCh carries snapshot/delta frames, kept separate from sendCh (control
	// messages) so a client slow to drain pane traffic can be bounded by
	// queued bytes rather than by the control-message count cap. queuedBytes
	// is maintained with atomic ops so enqueuePane doesn't need c.mu.
	paneCh      chan frame
	queuedBytes int64

	mu           sync.Mutex
	paneState    map[int]*perPaneState
	lastResyncAt map[int]time.Time
	focusedPane  int
	closed       bool
}

// New builds a ClientSession around an accepted WebSocket connection. The
// caller should call Run and, once it returns, drop all references.
func New(conn *websocket.Conn, sess *session.Session, arbiter *master.Arbiter, hub *Hub, cfg *config.Config, logger *slog.Logger) *ClientSession {
	return &ClientSession{
		conn:         conn,
		sess:         sess,
		arbiter:      arbiter,
		hub:          hub,
		cfg:          cfg,
		logger:       logger,
		sendCh:       make(chan frame, cfg.ClientQueueMessages),
		paneCh:       make(chan frame, cfg.ClientQueueMessages),
		wake:         make(chan struct{}, 1),
		paneState:    make(map[int]*perPaneState),
		lastResyncAt: make(map[int]time.Time),
	}
}

// Run performs the hello handshake, sends the bootstrap snapshot, then
// blocks running the read and send loops until the connection closes.
func (c *ClientSession) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.handshake(ctx); err != nil {
		c.logger.Warn("handshake failed", "error", err)
		c.conn.Close(websocket.StatusProtocolError, "bad hello")
		return
	}

	c.hub.Register(c)
	defer c.teardown()
	// Registered first so this client also receives the master_changed
	// broadcast the arbiter fires if this hello promotes it.
	c.arbiter.Hello(c.id)

	go c.sendLoop(ctx)
	c.wakeOnce() // bootstrap: send one snapshot per existing pane
	c.readLoop(ctx)
}

func (c *ClientSession) handshake(ctx context.Context) error {
	_, raw, err := c.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("wsclient: read hello: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != "hello" {
		return errors.New("wsclient: first message must be hello")
	}
	var hello helloMsg
	if err := json.Unmarshal(raw, &hello); err != nil || hello.ClientID == "" {
		return errors.New("wsclient: hello missing clientId")
	}
	c.id = hello.ClientID
	return nil
}

// teardown releases the master seat (if held) and removes this client from
// the hub. Safe to call once.
func (c *ClientSession) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.hub.Unregister(c)
	c.arbiter.Disconnect(c.id)
	c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *ClientSession) readLoop(ctx context.Context) {
	defer c.teardown()
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		c.dispatch(ctx, raw)
	}
}

func (c *ClientSession) dispatch(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("malformed message", "error", err)
		return
	}

	isMaster := c.arbiter.IsMaster(c.id)

	switch env.Type {
	case "ping":
		c.enqueue(marshal(pongMsg{Type: "pong"}), true)

	case "sync":
		var m syncMsg
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		c.requestSync(m.PaneID, m.Gen)

	case "resync":
		var m resyncMsg
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		c.requestResync(m.PaneID)

	case "focus":
		var m focusMsg
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		c.mu.Lock()
		c.focusedPane = m.PaneID
		c.mu.Unlock()

	case "request_master":
		c.arbiter.RequestMaster(c.id)

	case "key":
		if !isMaster {
			return
		}
		var m keyMsg
		if json.Unmarshal(raw, &m) != nil || m.State != "down" {
			return
		}
		if p, ok := c.sess.Pane(m.PaneID); ok {
			p.WriteInput([]byte(keyToBytes(m.Key, m.Ctrl)))
		}

	case "text":
		if !isMaster {
			return
		}
		var m textMsg
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		if p, ok := c.sess.Pane(m.PaneID); ok {
			p.WriteInput([]byte(m.Data))
		}

	case "resize":
		if !isMaster {
			return
		}
		var m resizeMsg
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		c.sess.ResizePane(m.PaneID, m.Cols, m.Rows)

	case "scroll":
		if !isMaster {
			return
		}
		var m scrollMsg
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		if p, ok := c.sess.Pane(m.PaneID); ok {
			p.Scroll(m.Delta)
		}

	case "new_window":
		if !isMaster {
			return
		}
		if _, _, err := c.sess.NewWindow("shell"); err != nil {
			c.logger.Warn("new_window failed", "error", err)
		}
		c.wakeOnce()

	case "close_window":
		if !isMaster {
			return
		}
		var m closeWindowMsg
		if json.Unmarshal(raw, &m) != nil {
			return
		}
		if err := c.sess.CloseWindow(m.WindowID); err != nil {
			c.logger.Warn("close_window failed", "error", err)
		}

	default:
		c.logger.Warn("unknown message type", "type", env.Type)
	}
}

func (c *ClientSession) requestSync(paneID int, gen uint64) {
	c.mu.Lock()
	st, ok := c.paneState[paneID]
	if !ok {
		st = &perPaneState{}
		c.paneState[paneID] = st
	}
	st.lastSentGen = gen
	c.mu.Unlock()
	c.wakeOnce()
}

func (c *ClientSession) requestResync(paneID int) {
	c.mu.Lock()
	last, seen := c.lastResyncAt[paneID]
	if seen && time.Since(last) < c.cfg.ResyncThrottle {
		c.mu.Unlock()
		return
	}
	c.lastResyncAt[paneID] = time.Now()
	st, ok := c.paneState[paneID]
	if !ok {
		st = &perPaneState{}
		c.paneState[paneID] = st
	}
	st.forceSnapshot = true
	c.mu.Unlock()
	c.wakeOnce()
}

func (c *ClientSession) wakeOnce() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// enqueue places a pre-marshaled message on the send queue. If the queue is
// full the client is declared stuck and torn down, per spec.md §7's
// resource-exhaustion policy; other clients are unaffected.
func (c *ClientSession) enqueue(data []byte, text bool) {
	kind := websocket.MessageBinary
	if text {
		kind = websocket.MessageText
	}
	select {
	case c.sendCh <- frame{kind: kind, data: data}:
	default:
		go c.teardown()
	}
}

// enqueuePane places a pane snapshot/delta frame on the byte-bounded pane
// queue. If queuing data would push the outstanding total past
// cfg.ClientQueueBytes, or the queue's message slots are full, the client is
// declared stuck and torn down -- pane traffic is high-volume and must not
// share the small control-message queue's drop policy blindly, but the end
// result (stuck client torn down, others unaffected) is the same.
func (c *ClientSession) enqueuePane(data []byte) bool {
	n := int64(len(data))
	if atomic.AddInt64(&c.queuedBytes, n) > int64(c.cfg.ClientQueueBytes) {
		atomic.AddInt64(&c.queuedBytes, -n)
		go c.teardown()
		return false
	}
	select {
	case c.paneCh <- frame{kind: websocket.MessageBinary, data: data}:
		return true
	default:
		atomic.AddInt64(&c.queuedBytes, -n)
		go c.teardown()
		return false
	}
}

// writeFrame writes one frame with a bounded deadline so a client whose TCP
// receive window has stalled is declared stuck and torn down instead of
// blocking the send loop (and every pane waiting behind it) indefinitely.
func (c *ClientSession) writeFrame(ctx context.Context, f frame) error {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, f.kind, f.data)
}

func (c *ClientSession) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.sendCh:
			if !ok {
				return
			}
			if err := c.writeFrame(ctx, f); err != nil {
				return
			}
		case f, ok := <-c.paneCh:
			if !ok {
				return
			}
			atomic.AddInt64(&c.queuedBytes, -int64(len(f.data)))
			if err := c.writeFrame(ctx, f); err != nil {
				return
			}
		case <-c.wake:
			if !c.flushPanes(ctx) {
				return
			}
		}
	}
}

// flushPanes queues a delta or snapshot for every pane whose generation has
// advanced past what this client last saw, via the byte-bounded pane queue
// rather than writing to the socket directly. Returns false once the queue
// has declared this client stuck (enqueuePane already triggered teardown);
// the caller stops iterating since further sends would be pointless.
func (c *ClientSession) flushPanes(ctx context.Context) bool {
	for _, p := range c.sess.Panes() {
		gen := p.Generation()
		title := p.CurrentTitle()

		c.mu.Lock()
		st, ok := c.paneState[p.ID]
		if !ok {
			st = &perPaneState{forceSnapshot: true}
			c.paneState[p.ID] = st
		}
		lastSent := st.lastSentGen
		forceSnapshot := st.forceSnapshot
		titleChanged := title != st.lastTitle
		if titleChanged {
			st.lastTitle = title
		}
		c.mu.Unlock()

		if titleChanged {
			c.enqueue(marshal(titleMsg{Type: "title", PaneID: p.ID, Title: title}), true)
		}

		if gen == lastSent && !forceSnapshot {
			continue
		}

		var out []byte
		var sentGen uint64
		if !forceSnapshot {
			if view, dirty, ok := p.Delta(lastSent, c.cfg.DirtyRowsThresholdPct); ok {
				out = syncproto.EncodeDelta(view, lastSent, dirty)
				sentGen = view.Generation
			}
		}
		if out == nil {
			view := p.Snapshot()
			out = syncproto.EncodeSnapshot(view)
			sentGen = view.Generation
			p.MarkSnapshotSent(c.id, sentGen, c.hub.ClientIDs())
		}

		if !c.enqueuePane(out) {
			return false
		}

		c.mu.Lock()
		st.lastSentGen = sentGen
		st.forceSnapshot = false
		c.mu.Unlock()
	}
	return true
}

// keyToBytes renders a browser key event into the byte sequence a shell
// expects on its stdin. Only the handful of control keys the sync core
// must special-case are handled here; printable keys arrive via "text".
func keyToBytes(key string, ctrl bool) string {
	switch key {
	case "Enter":
		return "\r"
	case "Backspace":
		return "\x7f"
	case "Tab":
		return "\t"
	case "Escape":
		return "\x1b"
	case "ArrowUp":
		return "\x1b[A"
	case "ArrowDown":
		return "\x1b[B"
	case "ArrowRight":
		return "\x1b[C"
	case "ArrowLeft":
		return "\x1b[D"
	}
	if ctrl && len(key) == 1 {
		c := key[0]
		if c >= 'a' && c <= 'z' {
			return string(rune(c - 'a' + 1))
		}
		if c >= 'A' && c <= 'Z' {
			return string(rune(c - 'A' + 1))
		}
	}
	return ""
}
