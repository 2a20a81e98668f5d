// Package session owns the process-wide engine handle. The engine has no
// internal locking, so every operation against it is serialized here: one
// command in flight per engine, whether it came from HTTP or a socket.
package session

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/replgate/replgate/internal/engine"
	"github.com/replgate/replgate/internal/settings"
)

// Session wraps the shared engine behind a mutex and keeps the settings
// snapshot of record. Relays hold the lock for the whole stream, so a
// settings update can never interleave with chunk production.
type Session struct {
	mu      sync.Mutex
	eng     engine.Engine
	current settings.Values
}

// New creates a session around the given engine and seeds the snapshot of
// record from the engine's current state.
func New(ctx context.Context, eng engine.Engine) (*Session, error) {
	vals, err := eng.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("read engine defaults: %w", err)
	}
	return &Session{eng: eng, current: vals}, nil
}

// Snapshot returns the settings snapshot of record.
func (s *Session) Snapshot() settings.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Apply writes the present fields of the patch onto the engine, then
// recomputes the snapshot of record from the engine so it reflects the
// true merged state rather than the last partial payload.
func (s *Session) Apply(ctx context.Context, patch settings.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, patch)
}

func (s *Session) applyLocked(ctx context.Context, patch settings.Patch) error {
	if err := s.eng.Apply(ctx, patch); err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	vals, err := s.eng.Settings(ctx)
	if err != nil {
		return fmt.Errorf("reread settings: %w", err)
	}
	s.current = vals
	return nil
}

// Reset discards all engine state, reinitializes from defaults, and
// recomputes the snapshot. Conversation state held by the previous engine
// instance is lost.
func (s *Session) Reset(ctx context.Context) (settings.Values, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.eng.Reset(ctx); err != nil {
		return settings.Values{}, fmt.Errorf("reset engine: %w", err)
	}
	vals, err := s.eng.Settings(ctx)
	if err != nil {
		return settings.Values{}, fmt.Errorf("read engine defaults: %w", err)
	}
	s.current = vals
	slog.Info("Engine reset to defaults")
	return vals, nil
}

// Messages returns the engine's active message list.
func (s *Session) Messages(ctx context.Context) ([]engine.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Messages(ctx)
}

// SetMessages replaces the engine's active message list. Used when loading
// a persisted conversation: viewing history also resumes it.
func (s *Session) SetMessages(ctx context.Context, msgs []engine.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.SetMessages(ctx, msgs)
}

// Clear empties the engine's active message list.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.SetMessages(ctx, nil)
}

// Stream runs fn over the engine's chat sequence for one user message,
// holding the session lock for the entire stream. An optional patch is
// applied first, under the same lock, so inline settings take effect for
// exactly this request onward.
func (s *Session) Stream(ctx context.Context, message string, patch *settings.Patch, fn func(seq iter.Seq2[*engine.Chunk, error]) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch != nil {
		if err := s.applyLocked(ctx, *patch); err != nil {
			return err
		}
	}
	return fn(s.eng.Chat(ctx, message))
}

// Close releases the engine handle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Close()
}
