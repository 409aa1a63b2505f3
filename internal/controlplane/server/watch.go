package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mo3789530/wasmatrix/internal/logging"
)

// watchHub fans out routing-table and instance-status change notifications
// to connected dashboards. It never changes any authoritative state; the
// stream is purely observational.
type watchHub struct {
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newWatchHub(log *logging.Logger) *watchHub {
	return &watchHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// watchEvent is one notification pushed to every connected watcher.
type watchEvent struct {
	Kind      string `json:"kind"` // "node" | "instance"
	ID        string `json:"id"`
	Status    string `json:"status,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	Available *bool  `json:"available,omitempty"`
}

func (h *watchHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("watch upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	// Watchers are read-only; drain and discard any client frames (pings,
	// accidental writes) until the connection closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *watchHub) broadcast(evt watchEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}
