// Package engine defines the boundary to the external conversational
// code-execution engine. The engine itself lives in a separate daemon;
// this package only speaks to it.
package engine

import (
	"context"
	"iter"

	"github.com/replgate/replgate/internal/settings"
)

// ChunkType tags one unit of engine output.
type ChunkType string

const (
	// ChunkMessage is assistant or user prose.
	ChunkMessage ChunkType = "message"
	// ChunkCode is code the engine wrote or is about to run.
	ChunkCode ChunkType = "code"
	// ChunkConsole is output captured from code execution.
	ChunkConsole ChunkType = "console"
)

// Chunk is one step of a chat response. Produced lazily by the engine and
// consumed exactly once.
type Chunk struct {
	Type     ChunkType `json:"type"`
	Role     string    `json:"role,omitempty"`
	Content  string    `json:"content,omitempty"`
	Format   string    `json:"format,omitempty"`
	Language string    `json:"language,omitempty"`
}

// Message is one entry of the engine's conversation history. Conversation
// files on disk are JSON arrays of these.
type Message struct {
	Role    string `json:"role"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content,omitempty"`
	Format  string `json:"format,omitempty"`
}

// Engine is the external engine handle. Implementations are not safe for
// concurrent use; callers must serialize access (see session.Session).
type Engine interface {
	// Chat sends a user message and returns the engine's lazy response
	// sequence. The sequence may block arbitrarily long between chunks.
	// Cancelling ctx cancels the engine-side work.
	Chat(ctx context.Context, message string) iter.Seq2[*Chunk, error]

	// Settings reads the engine's current configuration without mutating it.
	Settings(ctx context.Context) (settings.Values, error)

	// Apply writes the present fields of the patch onto the engine.
	Apply(ctx context.Context, patch settings.Patch) error

	// Messages returns the engine's active message list.
	Messages(ctx context.Context) ([]Message, error)

	// SetMessages replaces the engine's active message list.
	SetMessages(ctx context.Context, msgs []Message) error

	// Reset discards all engine state and reinitializes from defaults.
	// Any conversation state held by the previous instance is lost.
	Reset(ctx context.Context) error

	// Close releases the engine handle.
	Close() error
}
