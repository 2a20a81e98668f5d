// Package eventlog records socket traffic as NDJSON, one file per
// connection. Logging is asynchronous and lossy by design: a full queue
// drops events rather than stalling a relay.
package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Config controls NDJSON event logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one logged socket event.
type Event struct {
	Timestamp string         `json:"ts"`
	ConnID    string         `json:"conn_id"`
	Direction string         `json:"direction"`
	Kind      string         `json:"kind"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Logger accepts events for background writing.
type Logger interface {
	Log(Event)
	Close() error
}

type noopLogger struct{}

func (noopLogger) Log(Event)    {}
func (noopLogger) Close() error { return nil }

// Noop returns a logger that discards everything.
func Noop() Logger { return noopLogger{} }

// fileLogger writes events from a bounded queue to per-connection files.
type fileLogger struct {
	dir   string
	queue chan Event
	wg    sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// New creates a logger per the config. A disabled config yields a noop
// logger so call sites never need to branch.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &fileLogger{
		dir:   cfg.Dir,
		queue: make(chan Event, queueSize),
	}
	l.wg.Add(1)
	go l.run(logger)
	return l, nil
}

// Log enqueues an event. Never blocks; events are dropped when the queue
// is full or the logger is closed.
func (l *fileLogger) Log(ev Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
	}
}

// Close stops the writer after draining queued events.
func (l *fileLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	l.wg.Wait()
	return nil
}

func (l *fileLogger) run(logger *slog.Logger) {
	defer l.wg.Done()
	for ev := range l.queue {
		if err := l.append(ev); err != nil {
			logger.Warn("event log write failed", "conn_id", ev.ConnID, "error", err)
		}
	}
}

func (l *fileLogger) append(ev Event) error {
	name := ev.ConnID
	if name == "" {
		name = "unknown"
	}
	path := filepath.Join(l.dir, name+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("close event log file", "error", closeErr)
		}
	}()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
