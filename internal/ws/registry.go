// Package ws serves the book-spirit dialog over WebSocket.
package ws

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks open dialog connections per user.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds conn for userID.
func (r *Registry) Register(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[userID]; !ok {
		r.active[userID] = make(map[*websocket.Conn]struct{})
	}
	r.active[userID][conn] = struct{}{}
	slog.Debug("Dialog connection registered", "user_id", userID, "open", len(r.active[userID]))
}

// Unregister removes conn for userID.
func (r *Registry) Unregister(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.active[userID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.active, userID)
	}
}

// Count returns the number of open connections for userID.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[userID])
}

// CloseAll closes every open connection, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, conns := range r.active {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(r.active, userID)
	}
}
