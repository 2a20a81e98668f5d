// Package history reads and deletes persisted conversation files. Files
// are JSON arrays of message objects written by the engine; this package
// never creates or mutates them, only lists, loads, and deletes.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/replgate/replgate/internal/engine"
)

// ErrNotFound is returned when a requested conversation file does not exist.
var ErrNotFound = errors.New("conversation not found")

// previewLen is how many leading messages a listing carries per conversation.
const previewLen = 5

// Summary is one listing entry: the filename, its modification time as a
// unix timestamp, and a preview of the first few messages.
type Summary struct {
	Filename string           `json:"filename"`
	Date     int64            `json:"date"`
	Messages []engine.Message `json:"messages"`
}

// Store enumerates conversation files in a single directory.
type Store struct {
	dir string
}

// New creates a store over the given history directory. The directory is
// created if missing so a fresh install lists an empty history instead of
// erroring.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the history directory path.
func (s *Store) Dir() string {
	return s.dir
}

// List returns summaries for every parseable conversation file, newest
// first. A file that fails to parse is skipped, not reported: listing is
// best-effort over a possibly-corrupt directory.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		msgs, err := s.readFile(entry.Name())
		if err != nil {
			slog.Debug("Skipping unparsable conversation file", "filename", entry.Name(), "error", err)
			continue
		}
		if len(msgs) > previewLen {
			msgs = msgs[:previewLen]
		}
		summaries = append(summaries, Summary{
			Filename: entry.Name(),
			Date:     info.ModTime().Unix(),
			Messages: msgs,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Date > summaries[j].Date
	})
	return summaries, nil
}

// Load returns the full message list of one conversation file.
// Returns ErrNotFound if the file does not exist.
func (s *Store) Load(filename string) ([]engine.Message, error) {
	path, err := s.path(filename)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, fmt.Errorf("stat conversation: %w", err)
	}
	return s.readFile(filename)
}

// Delete removes one conversation file. Deleting a file that does not
// exist is not an error.
func (s *Store) Delete(filename string) error {
	path, err := s.path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// DeleteAll removes every conversation file in the directory. Individual
// failures are logged, not reported: the operation is best-effort.
func (s *Store) DeleteAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read history directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			slog.Warn("Failed to delete conversation file", "filename", entry.Name(), "error", err)
		}
	}
	return nil
}

func (s *Store) readFile(filename string) ([]engine.Message, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	var msgs []engine.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse conversation %s: %w", filename, err)
	}
	return msgs, nil
}

// path resolves a client-supplied filename inside the history directory,
// rejecting anything that could escape it.
func (s *Store) path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return filepath.Join(s.dir, filename), nil
}
