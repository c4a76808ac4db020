package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/atultiwari000/video-chat-app-2/internal/logging"
	"github.com/atultiwari000/video-chat-app-2/internal/server"
	"github.com/atultiwari000/video-chat-app-2/internal/signaling"
)

func main() {
	logging.Init(slog.LevelInfo)

	cfg, err := server.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	hub := signaling.NewHub(slog.Default())
	go hub.Run()

	mux := server.NewMux(hub, cfg)

	slog.Info("starting signaling server", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
