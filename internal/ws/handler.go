package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/replgate/replgate/internal/eventlog"
	"github.com/replgate/replgate/internal/relay"
	"github.com/replgate/replgate/internal/session"
	"github.com/replgate/replgate/internal/settings"
)

// inbound is one client command. Unrecognized type tags are ignored, not
// errors, so old servers tolerate new clients.
type inbound struct {
	Type     string          `json:"type"`
	Message  string          `json:"message,omitempty"`
	Settings *settings.Patch `json:"settings,omitempty"`
	Language string          `json:"language,omitempty"`
	Code     string          `json:"code,omitempty"`
}

// Handler upgrades sockets and runs the per-connection command loop.
type Handler struct {
	registry      *Registry
	session       *session.Session
	relay         *relay.Relay
	events        eventlog.Logger
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new socket handler.
func NewHandler(registry *Registry, sess *session.Session, rel *relay.Relay, events eventlog.Logger, allowedOrigin string, isDev bool) *Handler {
	if events == nil {
		events = eventlog.Noop()
	}
	return &Handler{
		registry:      registry,
		session:       sess,
		relay:         rel,
		events:        events,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsSender adapts a websocket connection to the relay's Sender.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(ctx context.Context, f relay.Frame) error {
	return wsjson.Write(ctx, s.conn, f)
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	slog.Info("Socket connection request", "conn_id", connID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept socket", "error", err, "conn_id", connID)
		return
	}
	conn.SetReadLimit(-1)
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close socket", "error", closeErr, "conn_id", connID)
		}
	}()

	h.registry.Register(conn, connID)
	defer h.registry.Unregister(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.commandLoop(ctx, conn, connID)
	slog.Info("Socket session ended", "conn_id", connID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Socket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// commandLoop reads client commands and dispatches them until the socket
// closes. On any dispatch failure it sends one error frame and drops the
// connection; the registry cleanup in ServeHTTP runs exactly once.
func (h *Handler) commandLoop(ctx context.Context, conn *websocket.Conn, connID string) {
	sender := &wsSender{conn: conn}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Socket closed by client", "conn_id", connID)
			} else {
				slog.Warn("Socket read error", "error", err, "conn_id", connID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed frame", "conn_id", connID, "error", err)
			continue
		}

		h.events.Log(eventlog.Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			ConnID:    connID,
			Direction: "inbound",
			Kind:      msg.Type,
			Content:   msg.Message,
		})

		if !h.dispatch(ctx, sender, connID, msg) {
			return
		}
	}
}

// dispatch handles one command. Returns false when the connection should
// be dropped.
func (h *Handler) dispatch(ctx context.Context, sender *wsSender, connID string, msg inbound) bool {
	switch msg.Type {
	case "chat":
		state := h.relay.Chat(ctx, sender, msg.Message, msg.Settings)
		h.logRelay(connID, "chat", state)
		return state != relay.StateDisconnected

	case "execute":
		state := h.relay.Execute(ctx, sender, msg.Language, msg.Code)
		h.logRelay(connID, "execute", state)
		return state != relay.StateDisconnected

	case "update_settings":
		var patch settings.Patch
		if msg.Settings != nil {
			patch = *msg.Settings
		}
		if err := h.session.Apply(ctx, patch); err != nil {
			return h.fail(ctx, sender, connID, err)
		}
		return h.status(ctx, sender, "Settings updated")

	case "new_chat":
		if err := h.session.Clear(ctx); err != nil {
			return h.fail(ctx, sender, connID, err)
		}
		return h.status(ctx, sender, "New chat started")

	case "clear_chat":
		if err := h.session.Clear(ctx); err != nil {
			return h.fail(ctx, sender, connID, err)
		}
		return h.status(ctx, sender, "Chat cleared")

	default:
		// Unknown tags are silently ignored.
		return true
	}
}

func (h *Handler) status(ctx context.Context, sender *wsSender, content string) bool {
	if err := sender.Send(ctx, relay.Frame{Type: "status", Content: content}); err != nil {
		return false
	}
	return true
}

// fail sends one error frame and signals the caller to drop the connection.
func (h *Handler) fail(ctx context.Context, sender *wsSender, connID string, err error) bool {
	slog.Error("Socket command failed", "conn_id", connID, "error", err)
	if sendErr := sender.Send(ctx, relay.Frame{Type: "error", Content: err.Error()}); sendErr != nil {
		slog.Debug("Failed to deliver error frame", "conn_id", connID, "error", sendErr)
	}
	return false
}

func (h *Handler) logRelay(connID, command string, state relay.State) {
	h.events.Log(eventlog.Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ConnID:    connID,
		Direction: "outbound",
		Kind:      command,
		Meta:      map[string]any{"state": state.String()},
	})
	slog.Info("Relay finished", "conn_id", connID, "command", command, "state", state.String())
}
