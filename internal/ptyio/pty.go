// Package ptyio owns PTY allocation, shell spawning, and the single-thread
// multiplexed reader that feeds PTY output into panes. The reader polls
// every live PTY master fd with a bounded timeout (via golang.org/x/sys/
// unix.Poll) so it can observe the shutdown flag, rather than spawning one
// blocking-read goroutine per pane.
package ptyio

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// PTY is one spawned shell's master-side handle.
type PTY struct {
	PaneID int

	mu      sync.Mutex
	master  *os.File
	cmd     *exec.Cmd
	closed  bool
}

// Spawn starts shell under a new PTY of the given size.
func Spawn(paneID int, shell string, cols, rows int) (*PTY, error) {
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("ptyio: spawn pane %d: %w", paneID, err)
	}
	return &PTY{PaneID: paneID, master: f, cmd: cmd}, nil
}

// Write sends bytes to the shell's stdin (the master side, read by the
// child as its terminal input).
func (p *PTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	f := p.master
	p.mu.Unlock()
	if f == nil {
		return 0, fmt.Errorf("ptyio: pane %d closed", p.PaneID)
	}
	return f.Write(data)
}

// SetSize applies a new window size via ioctl.
func (p *PTY) SetSize(cols, rows int) error {
	p.mu.Lock()
	f := p.master
	p.mu.Unlock()
	if f == nil {
		return fmt.Errorf("ptyio: pane %d closed", p.PaneID)
	}
	return pty.Setsize(f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// FD returns the master fd for polling, or -1 if closed.
func (p *PTY) FD() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.master == nil {
		return -1
	}
	return int(p.master.Fd())
}

// Read reads directly from the master (used by the shared reader loop).
func (p *PTY) Read(buf []byte) (int, error) {
	p.mu.Lock()
	f := p.master
	p.mu.Unlock()
	if f == nil {
		return 0, fmt.Errorf("ptyio: pane %d closed", p.PaneID)
	}
	return f.Read(buf)
}

// Close terminates the child with SIGTERM, escalating to SIGKILL after a
// fixed 3 seconds if it hasn't exited, then releases the master fd.
func (p *PTY) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cmd := p.cmd
	f := p.master
	p.master = nil
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			cmd.Process.Kill()
			<-done
		}
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// CloseWithGrace is like Close but with a caller-supplied grace period,
// for use by the shutdown sequence (spec.md §4.9's "SIGTERM then SIGKILL
// after a grace period").
func (p *PTY) CloseWithGrace(grace time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cmd := p.cmd
	f := p.master
	p.master = nil
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(grace):
			cmd.Process.Kill()
			<-done
		}
	}
	if f != nil {
		return f.Close()
	}
	return nil
}
