package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Backend persists the encoded log.
type Backend interface {
	// Save persists the given data.
	Save(data []byte) error

	// Load retrieves the stored data. A backend with nothing stored
	// returns nil data and no error.
	Load() ([]byte, error)

	// Close releases any resources held by the backend.
	Close() error
}

// JSONFile implements Backend as a single JSON file.
type JSONFile struct {
	Path string
}

// NewJSONFile creates a JSON file backend.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Save writes data to the file, creating its directory if needed.
func (f *JSONFile) Save(data []byte) error {
	if f.Path == "" {
		return nil
	}

	dir := filepath.Dir(f.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	if err := os.WriteFile(f.Path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Load reads the file.
func (f *JSONFile) Load() ([]byte, error) {
	if f.Path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Close is a no-op for files.
func (f *JSONFile) Close() error {
	return nil
}

var _ Backend = (*JSONFile)(nil)

// Store is an append-only conversation log. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	backend Backend
	logger  *slog.Logger
}

// New creates an in-memory store with no persistence.
func New() *Store {
	return &Store{logger: slog.Default().With("component", "history.store")}
}

// NewWithBackend creates a store and loads whatever the backend holds.
func NewWithBackend(backend Backend) (*Store, error) {
	s := New()
	s.backend = backend
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithFile creates a store persisted to a JSON file.
func NewWithFile(path string) (*Store, error) {
	return NewWithBackend(NewJSONFile(path))
}

// Append adds an entry, filling in a missing ID or timestamp, and persists
// the log.
func (s *Store) Append(e Entry) (Entry, error) {
	fresh := NewEntry(e.Speaker, e.Role, e.Text)
	if e.ID == uuid.Nil {
		e.ID = fresh.ID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = fresh.Timestamp
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	return e, s.Save()
}

// Add appends a new entry built from its parts.
func (s *Store) Add(speaker string, role Role, text string) (Entry, error) {
	return s.Append(NewEntry(speaker, role, text))
}

// Recent returns up to n of the newest entries, oldest first.
func (s *Store) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := len(s.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out
}

// All returns a copy of the whole log.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset clears the log and persists the empty state.
func (s *Store) Reset() error {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return s.Save()
}

// Save persists the log to the backend.
func (s *Store) Save() error {
	if s.backend == nil {
		return nil
	}

	s.mu.RLock()
	entries := s.entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	return s.backend.Save(data)
}

// Load replaces the log with the backend's contents. Records that cannot
// be translated are skipped and logged.
func (s *Store) Load() error {
	if s.backend == nil {
		return nil
	}

	data, err := s.backend.Load()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("history: decode: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for i, rec := range records {
		e, err := FromLegacy(rec)
		if err != nil {
			s.logger.Warn("skipping history record", "index", i, "error", err)
			continue
		}
		entries = append(entries, e)
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
