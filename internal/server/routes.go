// Package server exposes the signaling hub over HTTP.
package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
	"github.com/atultiwari000/video-chat-app-2/internal/signaling"
)

func newUpgrader(cfg Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.AllowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == cfg.AllowedOrigin
		},
	}
}

// ServeWs returns the websocket endpoint handler. Each accepted
// connection becomes a hub client with a fresh connection id.
func ServeWs(hub *signaling.Hub, cfg Config) http.HandlerFunc {
	upgrader := newUpgrader(cfg)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "err", err)
			return
		}

		client := &signaling.Client{
			ID:   uuid.NewString(),
			Hub:  hub,
			Conn: conn,
			Send: make(chan protocol.Envelope, 256),
		}

		client.Hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("signaling server is healthy"))
}

// NewMux wires the routes.
func NewMux(hub *signaling.Hub, cfg Config) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/ws", ServeWs(hub, cfg))
	return mux
}
