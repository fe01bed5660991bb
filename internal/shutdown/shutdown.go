// Package shutdown coordinates the daemon's graceful teardown: a
// process-wide running flag, a SIGINT/SIGTERM handler, and the ordered
// five-step sequence spec.md §4.9 requires (stop readers and senders
// before touching the things they read from and write to).
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Coordinator drives one graceful shutdown. Callers register the
// collaborators that need to be stopped in order, then call either Wait
// (blocks for SIGINT/SIGTERM) or Run (invokes the sequence immediately,
// e.g. from a test).
type Coordinator struct {
	logger  *slog.Logger
	running atomic.Bool

	stopReader   func()
	stopSenders  func()
	closeServer  func()
	closeRegistry func()
	closePipe    func() error
}

// New creates a Coordinator already marked running.
func New(logger *slog.Logger) *Coordinator {
	c := &Coordinator{logger: logger}
	c.running.Store(true)
	return c
}

// Running reports whether shutdown has not yet been initiated. Long-running
// workers (the PTY reader, client send loops) poll this alongside their own
// bounded waits.
func (c *Coordinator) Running() bool { return c.running.Load() }

// OnStopReader registers the PTY reader's Stop method (step 1).
func (c *Coordinator) OnStopReader(f func()) { c.stopReader = f }

// OnStopSenders registers a callback that stops every client send loop
// (step 1, run alongside the reader).
func (c *Coordinator) OnStopSenders(f func()) { c.stopSenders = f }

// OnCloseServer registers the HTTP server's Close method (step 2: stop
// accepting new WebSocket upgrades).
func (c *Coordinator) OnCloseServer(f func()) { c.closeServer = f }

// OnCloseRegistry registers the pane registry's teardown (step 4: SIGTERM
// then SIGKILL-after-grace for every child shell).
func (c *Coordinator) OnCloseRegistry(f func()) { c.closeRegistry = f }

// OnClosePipe registers the notify pipe's Close (step 5, last).
func (c *Coordinator) OnClosePipe(f func() error) { c.closePipe = f }

// Wait blocks until SIGINT or SIGTERM, then runs the shutdown sequence.
// ctx is canceled as part of the sequence so any context-aware goroutines
// (e.g. a client's Run loop) unwind too.
func (c *Coordinator) Wait(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	c.Run(cancel)
}

// Run executes the five-step teardown immediately: stop the PTY reader and
// every client sender, stop accepting new connections, cancel ctx (joining
// anything still blocked on it), destroy the pane registry, then close the
// notify pipe. Steps run in this fixed order because later steps assume
// earlier ones have already quiesced their readers/writers.
func (c *Coordinator) Run(cancel context.CancelFunc) {
	if !c.running.CompareAndSwap(true, false) {
		return // already shutting down
	}
	c.logger.Info("shutting down")

	if c.stopReader != nil {
		c.stopReader()
	}
	if c.stopSenders != nil {
		c.stopSenders()
	}
	if c.closeServer != nil {
		c.closeServer()
	}
	cancel()
	if c.closeRegistry != nil {
		c.closeRegistry()
	}
	if c.closePipe != nil {
		if err := c.closePipe(); err != nil {
			c.logger.Warn("notify pipe close error", "error", err)
		}
	}
}
