// Package wssink streams telemetry samples to browser plots over WebSocket.
package wssink

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/notnil/canmotion"
)

const writeWait = time.Second

// Hub is an http.Handler that upgrades every request to a WebSocket and a
// Sink that writes each sample to all connected clients as JSON.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub returns a Hub with no clients. Any origin may connect.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.mu.Lock()
	h.clients[ws] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("telemetry client connected", "remote", r.RemoteAddr, "clients", n)

	// Clients never send anything useful; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(ws)
	h.log.Info("telemetry client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) drop(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, ws)
	h.mu.Unlock()
	ws.Close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Push sends s to every client, dropping those that fail to keep up.
func (h *Hub) Push(s canmotion.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.clients {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(s); err != nil {
			h.log.Warn("telemetry client write failed", "remote", ws.RemoteAddr().String(), "error", err)
			delete(h.clients, ws)
			ws.Close()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.clients {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		ws.Close()
		delete(h.clients, ws)
	}
	return nil
}
