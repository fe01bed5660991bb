package ptyio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Registry tracks the set of live PTYs a Reader polls.
type Registry struct {
	mu   sync.RWMutex
	ptys map[int]*PTY // paneID -> pty
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ptys: make(map[int]*PTY)}
}

// Add registers a PTY for polling.
func (r *Registry) Add(p *PTY) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ptys[p.PaneID] = p
}

// Remove unregisters a PTY.
func (r *Registry) Remove(paneID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ptys, paneID)
}

// snapshot returns the current set of live PTYs under the registry lock,
// matching spec.md §4.3 step 1 ("collect the current set of live PTY read
// descriptors, snapshotted under a registry lock").
func (r *Registry) snapshot() []*PTY {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PTY, 0, len(r.ptys))
	for _, p := range r.ptys {
		out = append(out, p)
	}
	return out
}

// OnOutput is called with a pane's id and the bytes just read from its PTY.
type OnOutput func(paneID int, data []byte)

// OnHangup is called when a PTY's read side closes (child exit).
type OnHangup func(paneID int)

// Reader is the single-thread PTY multiplexer: it polls every live PTY
// master fd with a bounded timeout, reads whichever are readable, and
// hands their bytes to OnOutput -- never more than one read in flight at
// a time, and never under any pane's mutex (the caller acquires that
// inside OnOutput, after the bytes have already been copied to a local
// buffer here).
type Reader struct {
	registry *Registry
	logger   *slog.Logger
	bufSize  int
	timeout  time.Duration

	onOutput  OnOutput
	onHangup  OnHangup
	afterBatch func()

	running atomic.Bool
	done    chan struct{}
}

// NewReader builds a Reader. timeout bounds each poll call so Run can
// observe Stop promptly; bufSize bounds each individual read. afterBatch
// is called at most once per poll iteration, iff at least one pane
// produced output -- the hook the caller uses to signal the notify pipe.
func NewReader(registry *Registry, logger *slog.Logger, bufSize int, timeout time.Duration, onOutput OnOutput, onHangup OnHangup, afterBatch func()) *Reader {
	r := &Reader{
		registry:   registry,
		afterBatch: afterBatch,
		logger:   logger,
		bufSize:  bufSize,
		timeout:  timeout,
		onOutput: onOutput,
		onHangup: onHangup,
		done:     make(chan struct{}),
	}
	r.running.Store(true)
	return r
}

// Run executes the poll loop until Stop is called. Intended to be the body
// of the process's single PTY-reader goroutine.
func (r *Reader) Run() {
	defer close(r.done)
	buf := make([]byte, r.bufSize)

	for r.running.Load() {
		ptys := r.registry.snapshot()
		if len(ptys) == 0 {
			time.Sleep(r.timeout)
			continue
		}

		fds := make([]unix.PollFd, 0, len(ptys))
		byFD := make(map[int32]*PTY, len(ptys))
		for _, p := range ptys {
			fd := p.FD()
			if fd < 0 {
				continue
			}
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			byFD[int32(fd)] = p
		}
		if len(fds) == 0 {
			time.Sleep(r.timeout)
			continue
		}

		n, err := unix.Poll(fds, int(r.timeout/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.logger.Warn("pty poll error", "error", err)
			continue
		}
		if n == 0 {
			continue // timeout, loop back and re-check running
		}

		batchHadOutput := false
		for _, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			p := byFD[pfd.Fd]
			if p == nil {
				continue
			}
			if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
				continue
			}

			nread, rerr := p.Read(buf)
			if nread > 0 {
				data := make([]byte, nread)
				copy(data, buf[:nread])
				r.onOutput(p.PaneID, data)
				batchHadOutput = true
			}
			if rerr != nil || (nread == 0 && pfd.Revents&(unix.POLLHUP|unix.POLLERR) != 0) {
				r.registry.Remove(p.PaneID)
				if r.onHangup != nil {
					r.onHangup(p.PaneID)
				}
			}
		}
		if batchHadOutput && r.afterBatch != nil {
			r.afterBatch()
		}
	}
}

// Stop signals the poll loop to exit and blocks until it has.
func (r *Reader) Stop() {
	r.running.Store(false)
	<-r.done
}
