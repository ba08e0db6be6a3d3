package stream

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/warmtransfer/internal/identity"
	"github.com/ashureev/warmtransfer/internal/session"
)

// Handler upgrades /ws/session requests and streams the tab's session events.
type Handler struct {
	hub           *Hub
	registry      *session.Registry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a websocket handler.
func NewHandler(hub *Hub, registry *session.Registry, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		hub:           hub,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	owner := caller.Owner()
	slog.Info("Session stream request", "user_id", owner.UserID, "session_id", owner.TabID, "ip", identity.RemoteIP(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", owner.UserID)
		return
	}

	c := newClient(ws)
	defer c.close("session ended")

	h.hub.Register(owner.UserID, owner.TabID, c)
	defer h.hub.Unregister(owner.UserID, owner.TabID, c)

	ctrl := h.registry.Attach(owner)
	defer h.registry.Detach(owner)

	if snap, err := ctrl.Snapshot(); err == nil {
		h.hub.Publish(owner.UserID, owner.TabID, Message{Type: TypeSnapshot, Snapshot: &snap})
	}

	// The tab only listens; CloseRead discards inbound frames and ends ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	c.writePump(ctx)
	slog.Info("Session stream ended", "user_id", owner.UserID, "session_id", owner.TabID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
