package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Backend persists the history document as a whole.
type Backend interface {
	// Read returns an empty document when nothing has been persisted yet.
	Read(ctx context.Context) (*Document, error)
	Write(ctx context.Context, doc *Document) error
	Close() error
}

// Store keeps the history in memory and persists it wholesale through a
// Backend. Concurrent saves are last-writer-wins.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

func NewStore(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// Load replaces the in-memory history with the persisted one. An unreadable
// document is logged and treated as empty.
func (s *Store) Load(ctx context.Context) {
	doc, err := s.backend.Read(ctx)
	if err != nil {
		s.logger.Warn("Failed to load listing history, starting empty", "error", err)
		doc = NewDocument()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = doc.Entries
	if s.entries == nil {
		s.entries = make(map[string]*Entry)
	}

	s.logger.Debug("Listing history loaded", "entries", len(s.entries))
}

// Save overwrites the persisted document with the in-memory history.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &Document{
		Version:   DocumentVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   s.entries,
	}
	if err := s.backend.Write(ctx, doc); err != nil {
		return fmt.Errorf("failed to save listing history: %w", err)
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entry returns a copy of the entry for a listing key within a search.
func (s *Store) Entry(searchKey, key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryID(searchKey, key)]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) update(fn func(entries map[string]*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.entries)
}
