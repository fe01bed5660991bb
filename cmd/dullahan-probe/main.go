// Command dullahan-probe is a headless debugging client: it attaches to a
// running dullahand daemon as an observing WebSocket client that never
// sends input (the daemon still makes it master if no other client holds
// the seat), runs the reference row/style cache over every frame it receives, and
// prints a textual render of each pane -- a curl-friendly stand-in for the
// spec's out-of-scope IPC control socket's "status" verb.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/cemoody/dullahan/internal/clientsync"
	"github.com/cemoody/dullahan/internal/syncproto"
)

type envelope struct {
	Type string `json:"type"`
}

type helloMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:7681/", "daemon WebSocket address")
	timeout := flag.Duration("timeout", 3*time.Second, "how long to observe before printing and exiting")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.CloseNow()

	clientID := uuid.NewString()
	hello, _ := json.Marshal(helloMsg{Type: "hello", ClientID: clientID})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		log.Fatalf("write hello: %v", err)
	}

	caches := make(map[int]*clientsync.PaneCache)

	for {
		kind, raw, err := conn.Read(ctx)
		if err != nil {
			break
		}
		switch kind {
		case websocket.MessageText:
			var env envelope
			if json.Unmarshal(raw, &env) == nil && env.Type == "master_changed" {
				fmt.Fprintln(os.Stderr, "observing; not requesting master")
			}
		case websocket.MessageBinary:
			applyFrame(caches, raw)
		}
	}

	for paneID, c := range caches {
		fmt.Printf("=== pane %d (gen %d) ===\n", paneID, c.LastGen())
		render(c)
	}
}

func applyFrame(caches map[int]*clientsync.PaneCache, raw []byte) {
	if len(raw) == 0 {
		return
	}
	switch raw[0] {
	case syncproto.FrameSnapshot:
		s, err := syncproto.DecodeSnapshot(raw)
		if err != nil {
			log.Printf("decode snapshot: %v", err)
			return
		}
		c, ok := caches[s.PaneID]
		if !ok {
			c = clientsync.NewPaneCache(s.PaneID, 10000)
			caches[s.PaneID] = c
		}
		c.ApplySnapshot(s)
	case syncproto.FrameDelta:
		d, err := syncproto.DecodeDelta(raw)
		if err != nil {
			log.Printf("decode delta: %v", err)
			return
		}
		c, ok := caches[d.PaneID]
		if !ok {
			return // can't apply a delta to a pane we never snapshotted
		}
		if err := c.ApplyDelta(d, 3, 10); err != nil {
			log.Printf("pane %d needs resync: %v", d.PaneID, err)
		}
	}
}

func render(c *clientsync.PaneCache) {
	for _, row := range c.Viewport() {
		var sb strings.Builder
		for _, cell := range row {
			r, ok := cell.Rune()
			if !ok || r == 0 {
				sb.WriteByte(' ')
				continue
			}
			sb.WriteRune(r)
		}
		fmt.Println(strings.TrimRight(sb.String(), " "))
	}
}
