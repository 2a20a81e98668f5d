package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/replgate/replgate/internal/engine"
	"github.com/replgate/replgate/internal/engine/enginetest"
	"github.com/replgate/replgate/internal/relay"
	"github.com/replgate/replgate/internal/session"
)

type testEnv struct {
	fake     *enginetest.Fake
	session  *session.Session
	registry *Registry
	conn     *websocket.Conn
}

func newTestEnv(t *testing.T, fake *enginetest.Fake) *testEnv {
	t.Helper()

	sess, err := session.New(context.Background(), fake)
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	registry := NewRegistry()
	handler := NewHandler(registry, sess, relay.New(sess), nil, "", true)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })

	return &testEnv{fake: fake, session: sess, registry: registry, conn: conn}
}

func (e *testEnv) send(t *testing.T, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, e.conn, v); err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

func (e *testEnv) recv(t *testing.T) relay.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var f relay.Frame
	if err := wsjson.Read(ctx, e.conn, &f); err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	return f
}

func TestChatCommandStreamsFrames(t *testing.T) {
	t.Parallel()

	fake := enginetest.New()
	fake.Script = []enginetest.Step{
		{Chunk: &engine.Chunk{Type: engine.ChunkMessage, Role: "assistant", Content: "hi there", Format: "text"}},
		{Chunk: &engine.Chunk{Type: engine.ChunkCode, Language: "python", Content: "print('hi')"}},
	}
	env := newTestEnv(t, fake)

	env.send(t, map[string]any{"type": "chat", "message": "hello"})

	echo := env.recv(t)
	if echo.Type != "message" || echo.Role != "user" || echo.Content != "hello" {
		t.Fatalf("first frame = %+v, want user echo", echo)
	}
	msg := env.recv(t)
	if msg.Type != "message" || msg.Role != "assistant" || msg.Content != "hi there" {
		t.Errorf("assistant frame = %+v", msg)
	}
	code := env.recv(t)
	if code.Type != "code" || code.Language != "python" {
		t.Errorf("code frame = %+v", code)
	}

	// No trailing frames: a follow-up command answers immediately.
	env.send(t, map[string]any{"type": "new_chat"})
	status := env.recv(t)
	if status.Type != "status" || status.Content != "New chat started" {
		t.Errorf("status frame = %+v", status)
	}
}

func TestChatCommandWithInlineSettings(t *testing.T) {
	t.Parallel()

	fake := enginetest.New()
	fake.Script = []enginetest.Step{
		{Chunk: &engine.Chunk{Type: engine.ChunkMessage, Role: "assistant", Content: "ok"}},
	}
	env := newTestEnv(t, fake)

	env.send(t, map[string]any{
		"type":     "chat",
		"message":  "hello",
		"settings": map[string]any{"model": "inline-model"},
	})
	env.recv(t) // echo
	env.recv(t) // assistant

	if got := env.session.Snapshot().Model; got != "inline-model" {
		t.Errorf("Model = %q, want inline-model", got)
	}
}

func TestExecuteCommandForwardsConsoleOnly(t *testing.T) {
	t.Parallel()

	fake := enginetest.New()
	fake.Script = []enginetest.Step{
		{Chunk: &engine.Chunk{Type: engine.ChunkCode, Language: "python", Content: "1+1"}},
		{Chunk: &engine.Chunk{Type: engine.ChunkConsole, Content: "2"}},
	}
	env := newTestEnv(t, fake)

	env.send(t, map[string]any{"type": "execute", "language": "python", "code": "1+1"})

	status := env.recv(t)
	if status.Type != "status" || !strings.Contains(status.Content, "python") {
		t.Fatalf("status frame = %+v", status)
	}
	out := env.recv(t)
	if out.Type != "message" || out.Role != "assistant" || out.Content != "2" {
		t.Errorf("console frame = %+v", out)
	}

	// Probe: next reply must answer the follow-up command, proving no code
	// frame was emitted for the execute path.
	env.send(t, map[string]any{"type": "clear_chat"})
	next := env.recv(t)
	if next.Type != "status" || next.Content != "Chat cleared" {
		t.Errorf("got %+v, want clear_chat status", next)
	}
}

func TestUpdateSettingsCommand(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, enginetest.New())

	env.send(t, map[string]any{
		"type":     "update_settings",
		"settings": map[string]any{"auto_run": true, "unknown_key": "ignored"},
	})
	status := env.recv(t)
	if status.Type != "status" || status.Content != "Settings updated" {
		t.Fatalf("status frame = %+v", status)
	}
	if !env.session.Snapshot().AutoRun {
		t.Error("auto_run not applied")
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, enginetest.New())

	env.send(t, map[string]any{"type": "definitely_not_a_command"})
	// The next command must still be served, with no error frame in between.
	env.send(t, map[string]any{"type": "new_chat"})
	frame := env.recv(t)
	if frame.Type != "status" || frame.Content != "New chat started" {
		t.Errorf("frame = %+v, want new_chat status", frame)
	}
}

func TestDisconnectCleansUpRegistry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, enginetest.New())

	waitFor(t, func() bool { return env.registry.Len() == 1 })

	if err := env.conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	waitFor(t, func() bool { return env.registry.Len() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
