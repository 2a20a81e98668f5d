package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/replgate/replgate/internal/settings"
)

// fakeDaemon is an in-test engine daemon speaking the JSON frame protocol.
// State is daemon-side, shared across connections, like the real engine.
type fakeDaemon struct {
	mu     sync.Mutex
	values settings.Values
	msgs   []Message
	script []reply // chunk frames streamed per chat call
	chats  []string
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{values: settings.Defaults()}
}

func (d *fakeDaemon) chatCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.chats...)
}

func (d *fakeDaemon) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

		ctx := r.Context()
		for {
			var req request
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			if err := d.serve(ctx, conn, req); err != nil {
				return
			}
		}
	})
}

func (d *fakeDaemon) serve(ctx context.Context, conn *websocket.Conn, req request) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch req.Op {
	case "ping":
		return wsjson.Write(ctx, conn, reply{Type: "pong"})
	case "get_settings":
		vals := d.values
		return wsjson.Write(ctx, conn, reply{Type: "settings", Settings: &vals})
	case "apply_settings":
		if req.Settings != nil {
			req.Settings.ApplyTo(&d.values)
		}
		return wsjson.Write(ctx, conn, reply{Type: "ok"})
	case "get_messages":
		return wsjson.Write(ctx, conn, reply{Type: "messages", Messages: append([]Message(nil), d.msgs...)})
	case "set_messages":
		d.msgs = append([]Message(nil), req.Messages...)
		return wsjson.Write(ctx, conn, reply{Type: "ok"})
	case "reset":
		d.values = settings.Defaults()
		d.msgs = nil
		return wsjson.Write(ctx, conn, reply{Type: "ok"})
	case "chat":
		d.chats = append(d.chats, req.Message)
		for _, frame := range d.script {
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return err
			}
		}
		return wsjson.Write(ctx, conn, reply{Type: "done"})
	default:
		return wsjson.Write(ctx, conn, reply{Type: "error", Content: "unknown op"})
	}
}

func dialFake(t *testing.T, d *fakeDaemon) *Remote {
	t.Helper()
	srv := httptest.NewServer(d.handler())
	t.Cleanup(srv.Close)

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	r, err := DialRemote(context.Background(), RemoteConfig{Address: addr, ConnectTimeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("DialRemote failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestDialRemoteBadEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, err := DialRemote(context.Background(), RemoteConfig{Address: addr, ConnectTimeout: time.Second}, nil); err == nil {
		t.Fatal("expected dial failure against non-engine endpoint")
	}
}

func TestRemoteSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	daemon := newFakeDaemon()
	daemon.values.Model = "daemon-model"
	r := dialFake(t, daemon)

	vals, err := r.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if vals.Model != "daemon-model" {
		t.Errorf("Model = %q", vals.Model)
	}
}

func TestRemoteApply(t *testing.T) {
	t.Parallel()

	daemon := newFakeDaemon()
	r := dialFake(t, daemon)

	temp := 1.5
	if err := r.Apply(context.Background(), settings.Patch{Temperature: &temp}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	vals, err := r.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if vals.Temperature != 1.5 {
		t.Errorf("Temperature = %v", vals.Temperature)
	}
	if vals.Model != settings.Defaults().Model {
		t.Errorf("Model changed: %q", vals.Model)
	}
}

func TestRemoteChatStreamsUntilDone(t *testing.T) {
	t.Parallel()

	daemon := newFakeDaemon()
	daemon.script = []reply{
		{Type: "message", Role: "assistant", Content: "hi", Format: "text"},
		{Type: "code", Language: "python", Content: "1+1"},
		{Type: "console", Content: "2"},
	}
	r := dialFake(t, daemon)

	var chunks []*Chunk
	for chunk, err := range r.Chat(context.Background(), "hello") {
		if err != nil {
			t.Fatalf("chat error: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks: %+v", len(chunks), chunks)
	}
	if chunks[0].Type != ChunkMessage || chunks[1].Type != ChunkCode || chunks[2].Type != ChunkConsole {
		t.Errorf("chunk types = %v %v %v", chunks[0].Type, chunks[1].Type, chunks[2].Type)
	}
	if calls := daemon.chatCalls(); len(calls) != 1 || calls[0] != "hello" {
		t.Errorf("daemon saw %v", calls)
	}
}

func TestRemoteChatErrorFrame(t *testing.T) {
	t.Parallel()

	daemon := newFakeDaemon()
	daemon.script = []reply{
		{Type: "message", Role: "assistant", Content: "partial"},
		{Type: "error", Content: "execution blew up"},
	}
	r := dialFake(t, daemon)

	var chunks []*Chunk
	var streamErr error
	for chunk, err := range r.Chat(context.Background(), "boom") {
		if err != nil {
			streamErr = err
			break
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks before error", len(chunks))
	}
	if streamErr == nil || !strings.Contains(streamErr.Error(), "execution blew up") {
		t.Fatalf("streamErr = %v", streamErr)
	}
	if !errors.Is(streamErr, errEngineResponse) {
		t.Errorf("streamErr not tagged as engine response: %v", streamErr)
	}
}

func TestRemoteAbandonedChatRedials(t *testing.T) {
	t.Parallel()

	daemon := newFakeDaemon()
	daemon.script = []reply{
		{Type: "message", Role: "assistant", Content: "a"},
		{Type: "message", Role: "assistant", Content: "b"},
	}
	r := dialFake(t, daemon)

	// Abandon after the first chunk; the connection is dropped as the
	// cancellation signal.
	for _, err := range r.Chat(context.Background(), "hello") {
		if err != nil {
			t.Fatalf("chat error: %v", err)
		}
		break
	}

	// The next operation must transparently redial.
	vals, err := r.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings after abandon failed: %v", err)
	}
	if vals.Model != settings.Defaults().Model {
		t.Errorf("Model = %q", vals.Model)
	}
}

func TestRemoteMessagesRoundTrip(t *testing.T) {
	t.Parallel()

	daemon := newFakeDaemon()
	r := dialFake(t, daemon)

	msgs := []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello", Format: "text"}}
	if err := r.SetMessages(context.Background(), msgs); err != nil {
		t.Fatalf("SetMessages failed: %v", err)
	}

	got, err := r.Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(got) != 2 || got[0].Content != "hi" || got[1].Role != "assistant" {
		t.Errorf("messages = %+v", got)
	}
}

func TestRemoteReset(t *testing.T) {
	t.Parallel()

	daemon := newFakeDaemon()
	r := dialFake(t, daemon)

	model := "mutated"
	if err := r.Apply(context.Background(), settings.Patch{Model: &model}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := r.SetMessages(context.Background(), []Message{{Role: "user", Content: "x"}}); err != nil {
		t.Fatalf("SetMessages failed: %v", err)
	}

	if err := r.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	vals, err := r.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if vals.Model != settings.Defaults().Model {
		t.Errorf("Model = %q after reset", vals.Model)
	}
	msgs, err := r.Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived reset: %+v", msgs)
	}
}
