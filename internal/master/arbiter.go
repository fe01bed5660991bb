// Package master implements the process-wide master/slave arbiter:
// exactly one ClientSession may be master at a time, driving pane input;
// every other client observes. spec.md §4.8 leaves the non-master
// request_master case implementation-defined; this arbiter resolves it as
// an unconditional transfer (see SPEC_FULL.md §9's open question decisions) --
// there is no cooperative yield, so a request always wins immediately.
package master

import "sync"

// OnChange is invoked after every transition, with the new master id
// (empty string with ok=false when the seat is vacant). Called outside
// the arbiter's lock so it is safe for the hook to broadcast to clients.
type OnChange func(masterID string, ok bool)

// Arbiter holds the current master client id, if any.
type Arbiter struct {
	mu       sync.Mutex
	current  string
	hasOne   bool
	onChange OnChange
}

// New creates an empty arbiter (no master held).
func New(onChange OnChange) *Arbiter {
	return &Arbiter{onChange: onChange}
}

// Hello registers a newly connected client. If no master currently exists,
// this client is promoted. Returns whether it is now master.
func (a *Arbiter) Hello(clientID string) bool {
	a.mu.Lock()
	promoted := false
	if !a.hasOne {
		a.current = clientID
		a.hasOne = true
		promoted = true
	}
	cur, has := a.current, a.hasOne
	a.mu.Unlock()

	if promoted {
		a.fire(cur, has)
	}
	return promoted
}

// RequestMaster unconditionally transfers the master seat to clientID.
func (a *Arbiter) RequestMaster(clientID string) {
	a.mu.Lock()
	a.current = clientID
	a.hasOne = true
	a.mu.Unlock()
	a.fire(clientID, true)
}

// Disconnect releases the master seat if clientID currently holds it. A
// no-op (and no broadcast) if clientID was not master.
func (a *Arbiter) Disconnect(clientID string) {
	a.mu.Lock()
	if !a.hasOne || a.current != clientID {
		a.mu.Unlock()
		return
	}
	a.current = ""
	a.hasOne = false
	a.mu.Unlock()
	a.fire("", false)
}

// IsMaster reports whether clientID currently holds the master seat.
func (a *Arbiter) IsMaster(clientID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasOne && a.current == clientID
}

// Current returns the current master id, if any.
func (a *Arbiter) Current() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.hasOne
}

func (a *Arbiter) fire(masterID string, ok bool) {
	if a.onChange != nil {
		a.onChange(masterID, ok)
	}
}
