// Package httpapi wires the daemon's HTTP surface: one WebSocket endpoint
// per session and a JSON listing of its current window/pane layout.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/cemoody/dullahan/internal/config"
	"github.com/cemoody/dullahan/internal/master"
	"github.com/cemoody/dullahan/internal/session"
	"github.com/cemoody/dullahan/internal/wsclient"
)

// NewMux builds the daemon's top-level router: `/` upgrades to a
// ClientSession, `/api/sessions` reports the current window/pane layout.
func NewMux(cfg *config.Config, sess *session.Session, arbiter *master.Arbiter, hub *wsclient.Hub, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		client := wsclient.New(conn, sess, arbiter, hub, cfg, logger)
		client.Run(r.Context())
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		type windowInfo struct {
			ID           int    `json:"id"`
			Title        string `json:"title"`
			ActivePaneID int    `json:"activePaneId"`
			PaneIDs      []int  `json:"panes"`
		}

		windows := sess.Windows()
		out := make([]windowInfo, 0, len(windows))
		for _, win := range windows {
			out = append(out, windowInfo{
				ID:           win.ID,
				Title:        win.Title,
				ActivePaneID: win.ActivePaneID,
				PaneIDs:      win.PaneIDs,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"windows": out})
	})

	return mux
}
