package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/replgate/replgate/internal/settings"
)

var (
	errUnexpectedReply = errors.New("unexpected engine reply")
	errEngineResponse  = errors.New("engine returned error")
)

// RemoteConfig holds configuration for the remote engine client.
type RemoteConfig struct {
	// Address is the ws:// URL of the engine daemon.
	Address        string
	ConnectTimeout time.Duration
}

// DefaultRemoteConfig returns default remote engine configuration.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Address:        "ws://localhost:9010/engine",
		ConnectTimeout: 5 * time.Second,
	}
}

// Remote is an Engine backed by the engine daemon over a WebSocket speaking
// JSON frames. The engine's state (settings, message history) lives in the
// daemon; the connection is transport only, so a dropped connection is
// redialed lazily on the next operation. Closing the connection mid-chat is
// the cancellation signal: the daemon stops producing and halts execution.
type Remote struct {
	cfg    RemoteConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// request is one command sent to the engine daemon.
type request struct {
	Op       string          `json:"op"`
	Message  string          `json:"message,omitempty"`
	Settings *settings.Patch `json:"settings,omitempty"`
	Messages []Message       `json:"messages,omitempty"`
}

// reply is one frame received from the engine daemon. Chat streams a run of
// chunk-typed replies terminated by "done"; every other op answers with a
// single frame.
type reply struct {
	Type     string           `json:"type"`
	Role     string           `json:"role,omitempty"`
	Content  string           `json:"content,omitempty"`
	Format   string           `json:"format,omitempty"`
	Language string           `json:"language,omitempty"`
	Settings *settings.Values `json:"settings,omitempty"`
	Messages []Message        `json:"messages,omitempty"`
}

// DialRemote connects to the engine daemon and verifies it responds.
// Fails fast on a bad endpoint so startup errors are visible immediately.
func DialRemote(ctx context.Context, cfg RemoteConfig, logger *slog.Logger) (*Remote, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultRemoteConfig().Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultRemoteConfig().ConnectTimeout
	}

	r := &Remote{cfg: cfg, logger: logger}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if _, err := r.ensure(connectCtx); err != nil {
		return nil, fmt.Errorf("engine at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to engine daemon", "address", cfg.Address)
	return r, nil
}

// ensure returns a live connection, dialing if the previous one was dropped.
func (r *Remote) ensure(ctx context.Context) (*websocket.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return r.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, r.cfg.Address, nil)
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}
	// No practical frame size limit: console chunks can be large.
	conn.SetReadLimit(-1)

	if err := wsjson.Write(ctx, conn, request{Op: "ping"}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("engine handshake: %w", err)
	}
	var pong reply
	if err := wsjson.Read(ctx, conn, &pong); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("engine handshake: %w", err)
	}
	if pong.Type != "pong" {
		_ = conn.Close(websocket.StatusProtocolError, "bad handshake reply")
		return nil, fmt.Errorf("%w: handshake got %q", errUnexpectedReply, pong.Type)
	}

	r.conn = conn
	return conn, nil
}

// drop closes the current connection. The daemon treats a closed connection
// as cancellation of any in-flight work.
func (r *Remote) drop(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return
	}
	if err := r.conn.Close(websocket.StatusNormalClosure, reason); err != nil {
		r.logger.Debug("engine connection close", "error", err)
	}
	r.conn = nil
}

// roundTrip sends one request and reads one reply of the expected type.
func (r *Remote) roundTrip(ctx context.Context, req request, want string) (*reply, error) {
	conn, err := r.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		r.drop("write failed")
		return nil, fmt.Errorf("engine %s: %w", req.Op, err)
	}
	var resp reply
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		r.drop("read failed")
		return nil, fmt.Errorf("engine %s: %w", req.Op, err)
	}
	if resp.Type == "error" {
		return nil, fmt.Errorf("%w: %s", errEngineResponse, resp.Content)
	}
	if resp.Type != want {
		r.drop("desynced")
		return nil, fmt.Errorf("%w: %s got %q", errUnexpectedReply, req.Op, resp.Type)
	}
	return &resp, nil
}

// Chat sends a user message and streams the response chunks. Abandoning the
// sequence early (consumer gone or ctx cancelled) drops the connection,
// which cancels the engine-side work; the next operation redials.
func (r *Remote) Chat(ctx context.Context, message string) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		conn, err := r.ensure(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if err := wsjson.Write(ctx, conn, request{Op: "chat", Message: message}); err != nil {
			r.drop("write failed")
			yield(nil, fmt.Errorf("engine chat: %w", err))
			return
		}

		for {
			var resp reply
			if err := wsjson.Read(ctx, conn, &resp); err != nil {
				r.drop("stream failed")
				yield(nil, fmt.Errorf("engine stream: %w", err))
				return
			}

			switch resp.Type {
			case "done":
				return
			case "error":
				yield(nil, fmt.Errorf("%w: %s", errEngineResponse, resp.Content))
				return
			}

			chunk := &Chunk{
				Type:     ChunkType(resp.Type),
				Role:     resp.Role,
				Content:  resp.Content,
				Format:   resp.Format,
				Language: resp.Language,
			}
			if !yield(chunk, nil) {
				r.drop("chat abandoned")
				return
			}
		}
	}
}

// Settings reads the engine's current configuration.
func (r *Remote) Settings(ctx context.Context) (settings.Values, error) {
	resp, err := r.roundTrip(ctx, request{Op: "get_settings"}, "settings")
	if err != nil {
		return settings.Values{}, err
	}
	if resp.Settings == nil {
		return settings.Values{}, fmt.Errorf("%w: settings frame without payload", errUnexpectedReply)
	}
	return *resp.Settings, nil
}

// Apply writes the present fields of the patch onto the engine.
func (r *Remote) Apply(ctx context.Context, patch settings.Patch) error {
	_, err := r.roundTrip(ctx, request{Op: "apply_settings", Settings: &patch}, "ok")
	return err
}

// Messages returns the engine's active message list.
func (r *Remote) Messages(ctx context.Context) ([]Message, error) {
	resp, err := r.roundTrip(ctx, request{Op: "get_messages"}, "messages")
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SetMessages replaces the engine's active message list.
func (r *Remote) SetMessages(ctx context.Context, msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	_, err := r.roundTrip(ctx, request{Op: "set_messages", Messages: msgs}, "ok")
	return err
}

// Reset discards all engine state and reinitializes from defaults.
func (r *Remote) Reset(ctx context.Context) error {
	_, err := r.roundTrip(ctx, request{Op: "reset"}, "ok")
	return err
}

// Close closes the connection to the engine daemon.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close(websocket.StatusNormalClosure, "client shutting down")
	r.conn = nil
	if err != nil {
		return fmt.Errorf("close engine connection: %w", err)
	}
	return nil
}

var _ Engine = (*Remote)(nil)
