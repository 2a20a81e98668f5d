// Package relay forwards the engine's response chunks to a single client
// connection as protocol frames.
package relay

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/replgate/replgate/internal/engine"
	"github.com/replgate/replgate/internal/session"
	"github.com/replgate/replgate/internal/settings"
)

// Frame is one outbound unit of socket communication.
type Frame struct {
	Type     string `json:"type"`
	Role     string `json:"role,omitempty"`
	Content  string `json:"content"`
	Format   string `json:"format,omitempty"`
	Language string `json:"language,omitempty"`
}

// Sender delivers frames to one connection.
type Sender interface {
	Send(ctx context.Context, f Frame) error
}

// State is the terminal state of one relay run.
type State int

const (
	// StateIdle means the relay never started streaming.
	StateIdle State = iota
	// StateStreaming is the in-flight state; never returned.
	StateStreaming
	// StateCompleted means the engine's sequence was exhausted and every
	// frame was delivered.
	StateCompleted
	// StateFailed means an error occurred while pulling or applying; one
	// error frame was emitted and the request abandoned. Engine state is
	// not rolled back.
	StateFailed
	// StateDisconnected means the client went away mid-stream; remaining
	// chunks were abandoned and the engine-side work cancelled.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Relay pulls chunks from the shared engine session and pushes frames to a
// sender. One relay handles exactly one connection's request at a time; the
// session lock serializes runs across connections.
type Relay struct {
	session *session.Session
}

// New creates a relay over the given session.
func New(s *session.Session) *Relay {
	return &Relay{session: s}
}

// Chat streams the engine's response to one user message. The user's own
// input is echoed back first, before any engine output, so the client can
// render it without waiting. An optional settings patch is applied before
// streaming starts.
func (r *Relay) Chat(ctx context.Context, sender Sender, message string, patch *settings.Patch) State {
	return r.run(ctx, sender, message, patch, false)
}

// Execute runs ad-hoc code by wrapping it in a fenced block and sending it
// down the chat pipeline. Only console output is forwarded; message and
// code chunks produced along the way are dropped for this entry point.
func (r *Relay) Execute(ctx context.Context, sender Sender, language, code string) State {
	if err := sender.Send(ctx, Frame{Type: "status", Content: fmt.Sprintf("Executing %s code...", language)}); err != nil {
		return StateDisconnected
	}
	message := fmt.Sprintf("```%s\n%s\n```", language, code)
	return r.run(ctx, sender, message, nil, true)
}

func (r *Relay) run(ctx context.Context, sender Sender, message string, patch *settings.Patch, consoleOnly bool) State {
	state := StateStreaming

	err := r.session.Stream(ctx, message, patch, func(seq iter.Seq2[*engine.Chunk, error]) error {
		if !consoleOnly {
			if err := sender.Send(ctx, Frame{Type: "message", Role: "user", Content: message}); err != nil {
				state = StateDisconnected
				return nil
			}
		}

		// One chunk at a time: the next chunk is not pulled until the
		// previous frame was sent.
		for chunk, err := range seq {
			if err != nil {
				if ctx.Err() != nil {
					state = StateDisconnected
					return nil
				}
				state = StateFailed
				r.reportError(ctx, sender, err)
				return nil
			}

			frame, ok := mapChunk(chunk, consoleOnly)
			if !ok {
				continue
			}
			if err := sender.Send(ctx, frame); err != nil {
				// Abandoning the loop here stops the engine's sequence,
				// which cancels the engine-side work.
				state = StateDisconnected
				return nil
			}
		}

		if state == StateStreaming {
			state = StateCompleted
		}
		return nil
	})
	if err != nil {
		// Settings patch failed before streaming started.
		state = StateFailed
		r.reportError(ctx, sender, err)
	}
	return state
}

// reportError emits a single error frame carrying the failure's message
// text. Best-effort: a client that is already gone simply misses it.
func (r *Relay) reportError(ctx context.Context, sender Sender, err error) {
	slog.Error("Relay failed", "error", err)
	if sendErr := sender.Send(ctx, Frame{Type: "error", Content: fmt.Sprintf("Error processing message: %s", err)}); sendErr != nil {
		slog.Debug("Failed to deliver error frame", "error", sendErr)
	}
}

// mapChunk classifies one chunk into at most one outbound frame. Console
// output becomes a plain assistant message on purpose: the client renders
// it like any other assistant text. Unknown chunk tags are dropped.
func mapChunk(c *engine.Chunk, consoleOnly bool) (Frame, bool) {
	switch c.Type {
	case engine.ChunkConsole:
		return Frame{Type: "message", Role: "assistant", Content: c.Content, Format: "text"}, true
	case engine.ChunkMessage:
		if consoleOnly {
			return Frame{}, false
		}
		role := c.Role
		if role == "" {
			role = "assistant"
		}
		format := c.Format
		if format == "" {
			format = "text"
		}
		return Frame{Type: "message", Role: role, Content: c.Content, Format: format}, true
	case engine.ChunkCode:
		if consoleOnly {
			return Frame{}, false
		}
		language := c.Language
		if language == "" {
			language = "python"
		}
		return Frame{Type: "code", Language: language, Content: c.Content}, true
	default:
		return Frame{}, false
	}
}
