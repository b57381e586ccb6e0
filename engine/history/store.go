// Package history keeps the append-only log of completed diagnoses. The log
// lives under a single key in the local store so a whole session survives
// restarts; entries are never mutated after they are appended.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lukeponga-dev/rotorwise/engine/domain"
	"github.com/lukeponga-dev/rotorwise/pkg/store"
)

const historyKey = "history"

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("history: entry not found")

// Store is an in-memory log backed by a key-value store. Persistence is
// best-effort: a failed write is logged but never rolls back the in-memory
// state, so a completed diagnosis is never lost mid-session.
type Store struct {
	mu      sync.RWMutex
	kv      store.KV
	entries []domain.HistoryEntry
	logger  *slog.Logger
}

// Load reads the persisted log. A missing key yields an empty log; a corrupt
// payload is discarded with a warning rather than blocking startup.
func Load(kv store.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{kv: kv, logger: logger}

	raw, err := kv.Get(historyKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("could not read history, starting empty", "error", err)
		}
		return s
	}
	if err := json.Unmarshal(raw, &s.entries); err != nil {
		logger.Warn("discarding corrupt history", "error", err)
		s.entries = nil
	}
	return s
}

// Append adds an entry to the end of the log and persists it. Storage order
// is chronological; newest-first is a presentation concern.
func (s *Store) Append(entry domain.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	s.persistLocked()
}

// Clear removes every entry. Clearing an empty log is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return
	}
	s.entries = nil
	if err := s.kv.Delete(historyKey); err != nil {
		s.logger.Warn("could not clear persisted history", "error", err)
	}
}

// Entries returns a copy of the log in insertion order.
func (s *Store) Entries() []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.HistoryEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Len reports the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) persistLocked() {
	raw, err := json.Marshal(s.entries)
	if err != nil {
		s.logger.Warn("could not encode history", "error", err)
		return
	}
	if err := s.kv.Put(historyKey, raw); err != nil {
		s.logger.Warn("could not persist history", "error", err)
	}
}
