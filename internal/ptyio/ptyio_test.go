package ptyio

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestSpawnWriteAndClose(t *testing.T) {
	p, err := Spawn(1, "/bin/sh", 80, 24)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Close()

	if p.FD() < 0 {
		t.Fatal("expected a valid master fd")
	}
	if _, err := p.Write([]byte("echo hi\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := p.SetSize(100, 30); err != nil {
		t.Fatalf("setsize: %v", err)
	}
}

func TestCloseTerminatesChild(t *testing.T) {
	p, err := Spawn(1, "/bin/sh", 80, 24)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := p.CloseWithGrace(200 * time.Millisecond); err != nil {
		t.Fatalf("close: %v", err)
	}
	if p.FD() >= 0 {
		t.Fatal("expected fd to be released after close")
	}
}

func TestReaderPollsRegisteredPTYs(t *testing.T) {
	registry := NewRegistry()
	p, err := Spawn(1, "/bin/sh", 80, 24)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Close()
	registry.Add(p)

	outputCh := make(chan string, 16)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader := NewReader(registry, logger, 4096, 50*time.Millisecond,
		func(paneID int, data []byte) { outputCh <- string(data) },
		func(paneID int) {},
		nil,
	)
	go reader.Run()
	defer reader.Stop()

	p.Write([]byte("echo hello\n"))

	select {
	case <-outputCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for pty output to be read")
	}
}
