// Command dullahand is the Dullahan daemon: it owns PTY-attached shells,
// keeps their authoritative terminal state, and streams it to WebSocket
// clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/cemoody/dullahan/internal/config"
	"github.com/cemoody/dullahan/internal/httpapi"
	"github.com/cemoody/dullahan/internal/master"
	"github.com/cemoody/dullahan/internal/notifypipe"
	"github.com/cemoody/dullahan/internal/ptyio"
	"github.com/cemoody/dullahan/internal/session"
	"github.com/cemoody/dullahan/internal/shutdown"
	"github.com/cemoody/dullahan/internal/wsclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.ParseConfig()
	if err != nil {
		logger.Error("config error", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting dullahand",
		"listen_addr", cfg.ListenAddr,
		"shell", cfg.Shell,
		"page_capacity", cfg.PageCapacity,
	)

	pipe, err := notifypipe.New()
	if err != nil {
		logger.Error("notify pipe error", "error", err)
		os.Exit(1)
	}

	registry := ptyio.NewRegistry()
	sess := session.New(cfg, registry)
	hub := wsclient.NewHub()
	arb := master.New(hub.OnMasterChanged)

	if _, _, err := sess.NewWindow("shell"); err != nil {
		logger.Error("initial window failed", "error", err)
		os.Exit(1)
	}

	reader := ptyio.NewReader(registry, logger, cfg.PTYReadBufBytes, cfg.PollTimeout,
		sess.HandleOutput, sess.HandleHangup,
		func() {
			pipe.Signal()
			hub.WakeAll()
		},
	)
	go reader.Run()

	mux := httpapi.NewMux(cfg, sess, arb, hub, logger)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := shutdown.New(logger)
	coord.OnStopReader(reader.Stop)
	coord.OnStopSenders(hub.CloseAll)
	coord.OnCloseServer(func() { server.Close() })
	coord.OnCloseRegistry(func() { sess.CloseAll(cfg.ShutdownGrace) })
	coord.OnClosePipe(pipe.Close)

	go coord.Wait(ctx, cancel)

	logger.Info("listening", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
