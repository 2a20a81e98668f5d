// Package enginetest provides an in-memory Engine for tests.
package enginetest

import (
	"context"
	"iter"
	"sync"

	"github.com/replgate/replgate/internal/engine"
	"github.com/replgate/replgate/internal/settings"
)

// Step is one scripted element of a chat response: either a chunk or an
// error that aborts the stream.
type Step struct {
	Chunk *engine.Chunk
	Err   error
}

// Fake is an in-memory Engine with scripted chat responses. Not safe for
// concurrent use, same as the real engine; the session serializes access.
type Fake struct {
	mu sync.Mutex

	Values settings.Values
	Msgs   []engine.Message

	// Script is emitted, one step at a time, on each Chat call.
	Script []Step

	// ChatCalls records the messages passed to Chat.
	ChatCalls []string
	// Consumed counts how many script steps the consumer actually pulled.
	Consumed int

	ApplyErr    error
	SettingsErr error
	ResetErr    error
}

// New returns a Fake seeded with the canonical defaults.
func New() *Fake {
	return &Fake{Values: settings.Defaults()}
}

// Chat records the message and replays the script lazily, honoring ctx.
func (f *Fake) Chat(ctx context.Context, message string) iter.Seq2[*engine.Chunk, error] {
	f.mu.Lock()
	f.ChatCalls = append(f.ChatCalls, message)
	f.Msgs = append(f.Msgs, engine.Message{Role: "user", Type: "message", Content: message})
	script := append([]Step(nil), f.Script...)
	f.mu.Unlock()

	return func(yield func(*engine.Chunk, error) bool) {
		for _, step := range script {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			f.mu.Lock()
			f.Consumed++
			f.mu.Unlock()
			if !yield(step.Chunk, step.Err) {
				return
			}
			if step.Err != nil {
				return
			}
		}
	}
}

func (f *Fake) Settings(ctx context.Context) (settings.Values, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SettingsErr != nil {
		return settings.Values{}, f.SettingsErr
	}
	return f.Values, nil
}

func (f *Fake) Apply(ctx context.Context, patch settings.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ApplyErr != nil {
		return f.ApplyErr
	}
	patch.ApplyTo(&f.Values)
	return nil
}

func (f *Fake) Messages(ctx context.Context) ([]engine.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Message(nil), f.Msgs...), nil
}

func (f *Fake) SetMessages(ctx context.Context, msgs []engine.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Msgs = append([]engine.Message(nil), msgs...)
	return nil
}

func (f *Fake) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResetErr != nil {
		return f.ResetErr
	}
	f.Values = settings.Defaults()
	f.Msgs = nil
	return nil
}

func (f *Fake) Close() error { return nil }

var _ engine.Engine = (*Fake)(nil)
