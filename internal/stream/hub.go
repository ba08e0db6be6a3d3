// Package stream pushes call session state to browser tabs over websockets.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

// Message types sent to the tab.
const (
	TypeSnapshot = "snapshot"
	TypeNavigate = "navigate"
	TypeError    = "error"
)

// Message is one push frame.
type Message struct {
	Type     string           `json:"type"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
	Path     string           `json:"path,omitempty"`
	Code     domain.ErrorCode `json:"code,omitempty"`
	Detail   string           `json:"detail,omitempty"`
}

// Hub tracks the push connection of every tab, keyed by user and tab session id.
// A tab has at most one connection; a newer one replaces the older.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]map[string]*client)}
}

// Register makes c the tab's connection, closing any connection it replaces.
func (h *Hub) Register(userID, tabID string, c *client) {
	h.mu.Lock()
	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*client)
	}
	existing := h.active[userID][tabID]
	h.active[userID][tabID] = c
	h.mu.Unlock()

	if existing != nil && existing != c {
		existing.close("session replaced")
	}
	slog.Info("Session stream registered", "user_id", userID, "session_id", tabID)
}

// Unregister removes c if it is still the tab's connection.
func (h *Hub) Unregister(userID, tabID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tabs, ok := h.active[userID]; ok {
		if current, exists := tabs[tabID]; exists && current == c {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(h.active, userID)
			}
			slog.Info("Session stream unregistered", "user_id", userID, "session_id", tabID)
		}
	}
}

func (h *Hub) lookup(userID, tabID string) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tabs, ok := h.active[userID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Publish queues msg for the tab. It reports false when the tab has no connection.
func (h *Hub) Publish(userID, tabID string, msg Message) bool {
	c := h.lookup(userID, tabID)
	if c == nil {
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode stream message", "type", msg.Type, "error", err)
		return false
	}
	return c.enqueue(data)
}

// CloseAll closes every connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*client
	for _, tabs := range h.active {
		for _, c := range tabs {
			all = append(all, c)
		}
	}
	h.active = make(map[string]map[string]*client)
	h.mu.Unlock()

	for _, c := range all {
		c.close("server shutting down")
	}
}

// Sink returns the event sink a tab's controller publishes through.
func (h *Hub) Sink(userID, tabID string) ports.EventSink {
	return &tabSink{hub: h, userID: userID, tabID: tabID}
}

type tabSink struct {
	hub    *Hub
	userID string
	tabID  string
}

func (s *tabSink) SessionChanged(snapshot domain.Snapshot) {
	s.hub.Publish(s.userID, s.tabID, Message{Type: TypeSnapshot, Snapshot: &snapshot})
}

func (s *tabSink) Navigate(path string) {
	if !s.hub.Publish(s.userID, s.tabID, Message{Type: TypeNavigate, Path: path}) {
		slog.Debug("Navigation dropped, tab not connected", "user_id", s.userID, "session_id", s.tabID, "path", path)
	}
}

func (s *tabSink) SessionError(code domain.ErrorCode, detail string) {
	s.hub.Publish(s.userID, s.tabID, Message{Type: TypeError, Code: code, Detail: detail})
}
