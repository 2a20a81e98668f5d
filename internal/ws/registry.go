// Package ws provides the WebSocket control channel: connection tracking
// and the per-connection command loop.
package ws

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks active socket connections. It exclusively owns the set
// of live connections; no connection outlives its socket. There is no
// broadcast: every relay targets exactly one connection.
type Registry struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*websocket.Conn]string)}
}

// Register admits a connection unconditionally: no authentication, no
// connection limit.
func (r *Registry) Register(conn *websocket.Conn, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = connID
	slog.Info("Connection registered", "conn_id", connID, "active", len(r.conns))
}

// Unregister removes a connection. Safe to call for a connection that was
// already removed; double removal must never fail the process.
func (r *Registry) Unregister(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.conns[conn]
	if !ok {
		return
	}
	delete(r.conns, conn)
	slog.Info("Connection unregistered", "conn_id", connID, "active", len(r.conns))
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll forcefully closes every live connection, for shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn, connID := range r.conns {
		if err := conn.Close(websocket.StatusGoingAway, reason); err != nil {
			slog.Debug("Failed to close connection", "conn_id", connID, "error", err)
		}
	}
	r.conns = make(map[*websocket.Conn]string)
}
