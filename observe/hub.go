// Package observe exposes what the bridge is doing: a status endpoint,
// a websocket stream of dispatched readings and an optional InfluxDB
// mirror. None of it takes part in delivery.
package observe

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Uranury/ruuvi-lapio/reading"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Hub broadcasts dispatched readings to websocket clients. Slow clients
// lose readings rather than hold up the dispatch loop.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan reading.Normalized
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]chan reading.Normalized),
	}
}

// Observe queues r for every connected client without blocking.
func (h *Hub) Observe(r reading.Normalized) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- r:
		default:
			h.logger.Debug("websocket client lagging, dropping reading", "remote", conn.RemoteAddr().String())
		}
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams readings until the client
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan reading.Normalized, clientBuffer)
	h.mu.Lock()
	h.clients[conn] = ch
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client connected", "clients", total)

	go func() {
		for r := range ch {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(r); err != nil {
				h.logger.Debug("websocket write", "error", err)
				conn.Close()
				return
			}
		}
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(conn)
	h.logger.Info("websocket client disconnected", "clients", h.Clients())
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
