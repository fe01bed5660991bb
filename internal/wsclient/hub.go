package wsclient

import "sync"

// Hub tracks every currently-attached ClientSession so broadcasts (master
// transfer, pane output) can reach all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*ClientSession
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*ClientSession)}
}

// Register adds a client, replacing any prior session registered under the
// same id.
func (h *Hub) Register(c *ClientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

// Unregister removes a client.
func (h *Hub) Unregister(c *ClientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
}

// ClientIDs returns every currently-registered client id, used by
// pane.MarkSnapshotSent to decide when every client has caught up on a
// forced snapshot.
func (h *Hub) ClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

// BroadcastJSON enqueues a JSON control message to every registered client.
func (h *Hub) BroadcastJSON(v interface{}) {
	raw := marshal(v)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.enqueue(raw, true)
	}
}

// WakeAll nudges every client's send loop to re-check pane generations,
// the hub-side half of the notify-pipe fan-out (the PTY reader's afterBatch
// hook calls this once per poll iteration that produced output).
func (h *Hub) WakeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.wakeOnce()
	}
}

// CloseAll tears down every attached client, closing their WebSocket
// connections so each one's Run loop unwinds. Used by the shutdown
// sequence's "stop every client sender" step.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*ClientSession, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.teardown()
	}
}

// OnMasterChanged is wired as the master.Arbiter's OnChange hook.
func (h *Hub) OnMasterChanged(masterID string, ok bool) {
	msg := masterChangedMsg{Type: "master_changed"}
	if ok {
		id := masterID
		msg.MasterID = &id
	}
	h.BroadcastJSON(msg)
}
