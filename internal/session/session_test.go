package session

import (
	"testing"

	"github.com/cemoody/dullahan/internal/config"
	"github.com/cemoody/dullahan/internal/ptyio"
)

func testConfig() *config.Config {
	return &config.Config{
		Shell:        "/bin/sh",
		DefaultCols:  80,
		DefaultRows:  24,
		PageCapacity: 1000,
	}
}

func TestNewWindowAllocatesDistinctIDs(t *testing.T) {
	s := New(testConfig(), ptyio.NewRegistry())

	w1, p1, err := s.NewWindow("first")
	if err != nil {
		t.Fatalf("first window: %v", err)
	}
	w2, p2, err := s.NewWindow("second")
	if err != nil {
		t.Fatalf("second window: %v", err)
	}

	if w1.ID == w2.ID {
		t.Fatalf("expected distinct window ids, got %d and %d", w1.ID, w2.ID)
	}
	if p1.ID == p2.ID {
		t.Fatalf("expected distinct pane ids, got %d and %d", p1.ID, p2.ID)
	}
	if _, ok := s.Pane(p1.ID); !ok {
		t.Fatal("expected pane 1 to be registered")
	}
	if len(s.Windows()) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(s.Windows()))
	}

	p1.Terminate()
	p2.Terminate()
}

func TestCloseWindowRemovesItsPanes(t *testing.T) {
	s := New(testConfig(), ptyio.NewRegistry())
	w, p, err := s.NewWindow("only")
	if err != nil {
		t.Fatalf("new window: %v", err)
	}

	if err := s.CloseWindow(w.ID); err != nil {
		t.Fatalf("close window: %v", err)
	}
	if _, ok := s.Pane(p.ID); ok {
		t.Fatal("expected pane to be gone after CloseWindow")
	}
	if len(s.Windows()) != 0 {
		t.Fatalf("expected 0 windows after close, got %d", len(s.Windows()))
	}
}

func TestCloseUnknownWindowErrors(t *testing.T) {
	s := New(testConfig(), ptyio.NewRegistry())
	if err := s.CloseWindow(999); err == nil {
		t.Fatal("expected error closing a nonexistent window")
	}
}
