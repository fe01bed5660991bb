// Package config parses the daemon's command-line flags and environment
// variable overrides.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the synchronization engine and its
// surrounding ambient stack.
type Config struct {
	ListenAddr string
	Shell      string

	DefaultCols int
	DefaultRows int

	// PageCapacity is the emulator adapter's fixed rows-per-page, used to
	// compute row-ids as page_serial*PageCapacity + row_index_in_page.
	PageCapacity int

	// DirtyRowsThresholdPct is the percentage of viewport rows that, once
	// exceeded by the dirty set, forces a snapshot instead of a delta.
	DirtyRowsThresholdPct int

	// ScrollOverlapPct is the minimum row-content overlap required to
	// confirm a scroll (rather than a redraw) during scrollback capture.
	ScrollOverlapPct int

	ClientQueueMessages int

	// ClientQueueBytes bounds the total size of pane snapshot/delta frames
	// queued for one client before it is declared stuck and torn down.
	ClientQueueBytes int

	// WriteTimeout bounds a single outbound WebSocket write; a client whose
	// TCP receive window has stalled is declared stuck rather than blocking
	// the send loop indefinitely.
	WriteTimeout time.Duration

	ResyncThrottle  time.Duration
	PollTimeout     time.Duration
	ShutdownGrace   time.Duration
	ResizeDebounce  time.Duration
	PTYReadBufBytes int
}

// ParseConfig parses flags, then applies environment-variable overrides,
// mirroring the teacher's flag-then-env precedence.
func ParseConfig() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen-addr", ":7681", "HTTP listen address")
	flag.StringVar(&cfg.Shell, "shell", defaultShell(), "shell to spawn for new panes")
	flag.IntVar(&cfg.DefaultCols, "default-cols", 80, "default pane width")
	flag.IntVar(&cfg.DefaultRows, "default-rows", 24, "default pane height")
	flag.IntVar(&cfg.PageCapacity, "page-capacity", 1000, "rows per scrollback page")
	flag.IntVar(&cfg.DirtyRowsThresholdPct, "dirty-threshold-pct", 70, "dirty-row percentage of viewport that forces a snapshot")
	flag.IntVar(&cfg.ScrollOverlapPct, "scroll-overlap-pct", 30, "minimum row overlap percentage to confirm a scroll")
	flag.IntVar(&cfg.ClientQueueMessages, "client-queue-messages", 256, "max queued outbound messages per client")
	flag.IntVar(&cfg.ClientQueueBytes, "client-queue-bytes", 8*1024*1024, "max queued pane-frame bytes per client before it is torn down")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", 10*time.Second, "max time to wait for a single outbound WebSocket write")
	flag.DurationVar(&cfg.ResyncThrottle, "resync-throttle", time.Second, "minimum interval between resyncs for the same pane")
	flag.DurationVar(&cfg.PollTimeout, "poll-timeout", time.Second, "bounded poll timeout so workers can observe shutdown")
	flag.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", 3*time.Second, "grace period between SIGTERM and SIGKILL for child shells")
	flag.DurationVar(&cfg.ResizeDebounce, "resize-debounce", 100*time.Millisecond, "idle debounce before applying a resize")
	flag.IntVar(&cfg.PTYReadBufBytes, "pty-read-buf-bytes", 64*1024, "scratch buffer size for PTY reads")
	flag.Parse()

	if v := os.Getenv("DULLAHAN_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DULLAHAN_SHELL"); v != "" {
		cfg.Shell = v
	}
	if v := os.Getenv("DULLAHAN_DEFAULT_COLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultCols = n
		}
	}
	if v := os.Getenv("DULLAHAN_DEFAULT_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultRows = n
		}
	}
	if v := os.Getenv("DULLAHAN_PAGE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PageCapacity = n
		}
	}
	if v := os.Getenv("DULLAHAN_DIRTY_THRESHOLD_PCT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DirtyRowsThresholdPct = n
		}
	}
	if v := os.Getenv("DULLAHAN_CLIENT_QUEUE_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClientQueueMessages = n
		}
	}
	if v := os.Getenv("DULLAHAN_CLIENT_QUEUE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClientQueueBytes = n
		}
	}

	return cfg, nil
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
