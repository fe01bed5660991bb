// Package notifypipe implements a self-pipe wake-up primitive: a kernel
// pipe with both ends non-blocking, so a writer can cheaply signal "there
// is pending work" without ever being able to block the writer, and a
// reader can multiplex the read end alongside a socket fd in poll/select.
//
// In dullahand the PTY reader's after-batch hook calls Signal, but no
// client send loop reads the pipe: those loops are woken through
// wsclient.Hub.WakeAll instead, and nothing calls Drain.
package notifypipe

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Pipe is a single process-wide instance, signalled by the PTY reader.
type Pipe struct {
	readFD  int
	writeFD int
}

// New creates a non-blocking pipe. Both ends are set O_NONBLOCK so signal()
// never blocks the caller and drain() can read until EAGAIN.
func New() (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("notifypipe: pipe2: %w", err)
	}
	return &Pipe{readFD: fds[0], writeFD: fds[1]}, nil
}

// ReadFD returns the pollable read end. The write end is never polled.
func (p *Pipe) ReadFD() int { return p.readFD }

// Signal writes one byte, non-blocking. EAGAIN (a full pipe) is ignored: a
// full pipe already means "there is pending work", so dropping the extra
// byte changes nothing observable.
func (p *Pipe) Signal() {
	var b [1]byte
	_, err := unix.Write(p.writeFD, b[:])
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		// Best-effort: the notify pipe is an optimization, never a
		// correctness requirement by itself (readers also re-check
		// pane generations on every wake).
		_ = err
	}
}

// Drain reads until EAGAIN, leaving the pipe empty.
func (p *Pipe) Drain() {
	var buf [4096]byte
	for {
		n, err := unix.Read(p.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases both ends of the pipe.
func (p *Pipe) Close() error {
	err1 := unix.Close(p.readFD)
	err2 := unix.Close(p.writeFD)
	if err1 != nil {
		return err1
	}
	return err2
}
