// Package ws implements the WebSocket session hub. Connected control-plane
// sessions receive an envelope for every committed invalidation so their own
// derived state never outlives a relevant commit.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
)

// Envelope is the wire frame pushed to sessions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TypeInvalidation is the envelope type for invalidation messages.
const TypeInvalidation = "invalidation"

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages all active session connections and fans invalidations out to
// them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new session hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket session.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("session connected", "remote", r.RemoteAddr)

	// Read loop (to detect disconnects and consume pings). Sessions never
	// send mutations over this channel.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Notify pushes one invalidation envelope to every connected session.
func (h *Hub) Notify(ctx context.Context, msg invalidation.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("invalidation marshal failed", "error", err)
		return
	}
	data, err := json.Marshal(Envelope{Type: TypeInvalidation, Payload: payload})
	if err != nil {
		slog.Error("envelope marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("session write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("session disconnected")
	}
}
