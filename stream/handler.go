package stream

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// upgrader builds the websocket upgrader with origin checking from
// the hub's configured origins.
func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin validates the Origin header against allowed origins.
// Prefix matching lets configured origins omit the port.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Direct websocket clients send no origin header
	if origin == "" {
		return true
	}

	if len(h.allowedOrigins) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost")
	}
	for _, allowed := range h.allowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// ServeWS upgrades an HTTP request and registers the resulting client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Websocket upgrade failed",
			"remote", r.RemoteAddr,
			"error", err)
		return
	}

	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
