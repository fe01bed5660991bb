package wsclient_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/cemoody/dullahan/internal/config"
	"github.com/cemoody/dullahan/internal/httpapi"
	"github.com/cemoody/dullahan/internal/master"
	"github.com/cemoody/dullahan/internal/ptyio"
	"github.com/cemoody/dullahan/internal/session"
	"github.com/cemoody/dullahan/internal/syncproto"
	"github.com/cemoody/dullahan/internal/wsclient"
)

type helloMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type masterChangedMsg struct {
	Type     string  `json:"type"`
	MasterID *string `json:"masterId"`
}

func testConfig() *config.Config {
	return &config.Config{
		Shell:                 "/bin/sh",
		DefaultCols:           80,
		DefaultRows:           24,
		PageCapacity:          1000,
		DirtyRowsThresholdPct: 70,
		ClientQueueMessages:   64,
		ClientQueueBytes:      8 * 1024 * 1024,
		WriteTimeout:          5 * time.Second,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *master.Arbiter) {
	t.Helper()
	cfg := testConfig()
	registry := ptyio.NewRegistry()
	sess := session.New(cfg, registry)
	hub := wsclient.NewHub()
	arb := master.New(hub.OnMasterChanged)

	if _, _, err := sess.NewWindow("main"); err != nil {
		t.Fatalf("new window: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := httpapi.NewMux(cfg, sess, arb, hub, logger)
	return httptest.NewServer(mux), arb
}

func dial(t *testing.T, ctx context.Context, url, clientID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	hello, _ := json.Marshal(helloMsg{Type: "hello", ClientID: clientID})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	return conn
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func TestBootstrapSnapshotAndMasterChanged(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, wsURL(srv), "A")
	defer conn.CloseNow()

	kind, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.MessageText {
		t.Fatalf("expected text master_changed first, got kind %v", kind)
	}
	var mc masterChangedMsg
	if err := json.Unmarshal(raw, &mc); err != nil {
		t.Fatalf("unmarshal master_changed: %v", err)
	}
	if mc.MasterID == nil || *mc.MasterID != "A" {
		t.Fatalf("expected master A, got %+v", mc)
	}

	kind, raw, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if kind != websocket.MessageBinary || raw[0] != syncproto.FrameSnapshot {
		t.Fatalf("expected binary snapshot frame, got kind %v first byte %x", kind, raw[0])
	}
	snap, err := syncproto.DecodeSnapshot(raw)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Cols != 80 || snap.Rows != 24 {
		t.Fatalf("expected 80x24, got %dx%d", snap.Cols, snap.Rows)
	}
}

func TestSecondClientDoesNotBecomeMaster(t *testing.T) {
	srv, arb := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := wsURL(srv)

	connA := dial(t, ctx, url, "A")
	defer connA.CloseNow()
	drainUntilSnapshot(t, ctx, connA)

	connB := dial(t, ctx, url, "B")
	defer connB.CloseNow()
	drainUntilSnapshot(t, ctx, connB)

	if cur, ok := arb.Current(); !ok || cur != "A" {
		t.Fatalf("expected A to remain master, got %q ok=%v", cur, ok)
	}
}

// TestStuckClientTornDownWithoutAffectingOthers drives enough pane traffic
// at a client that never reads to exceed its byte-bounded pane queue, and
// checks a second, well-behaved client keeps receiving frames throughout.
func TestStuckClientTornDownWithoutAffectingOthers(t *testing.T) {
	cfg := testConfig()
	cfg.ClientQueueBytes = 32 * 1024 // above one 80x24 snapshot (~15 KiB), so a reading client is never tripped
	cfg.ClientQueueMessages = 4
	registry := ptyio.NewRegistry()
	sess := session.New(cfg, registry)
	hub := wsclient.NewHub()
	arb := master.New(hub.OnMasterChanged)
	if _, _, err := sess.NewWindow("main"); err != nil {
		t.Fatalf("new window: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := httpapi.NewMux(cfg, sess, arb, hub, logger)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := wsURL(srv)

	stuck := dial(t, ctx, url, "stuck")
	defer stuck.CloseNow()

	good := dial(t, ctx, url, "good")
	defer good.CloseNow()
	drainUntilSnapshot(t, ctx, good)

	for _, p := range sess.Panes() {
		for i := 0; i < 50; i++ {
			p.Feed([]byte("more output that keeps the generation moving\r\n"))
		}
	}
	hub.WakeAll()

	drainUntilSnapshot(t, ctx, good)
}

// drainUntilSnapshot reads messages until the first binary snapshot frame,
// discarding the leading master_changed text frame.
func drainUntilSnapshot(t *testing.T, ctx context.Context, conn *websocket.Conn) {
	t.Helper()
	for i := 0; i < 5; i++ {
		kind, raw, err := conn.Read(ctx)
		if err != nil {
			if err == io.EOF {
				return
			}
			t.Fatalf("read: %v", err)
		}
		if kind == websocket.MessageBinary && len(raw) > 0 && raw[0] == syncproto.FrameSnapshot {
			return
		}
	}
	t.Fatal("never saw a snapshot frame")
}
