// Package transcript keeps recent transcriptions received during sessions.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Event announces a newly stored transcription.
type Event struct {
	SessionID string
	Text      string
	Source    string
}

// Entry is a stored transcription.
type Entry struct {
	Timestamp time.Time
	SessionID string
	Text      string
	Source    string
}

// Store interface for transcript operations.
type Store interface {
	Add(sessionID, text, source string) Entry
	Latest() (Entry, bool)
	GetRecent(d time.Duration) string
	Events() <-chan Event
	Emit(event Event)
}

// MemoryStore keeps the last maxSize entries in memory. Nothing is persisted.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	maxSize  int
	eventsCh chan Event
	now      func() time.Time
}

// NewStore creates a new transcript store.
func NewStore(maxEntries, eventBuffer int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 30
	}
	return &MemoryStore{
		entries:  make([]Entry, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Event, eventBuffer),
		now:      time.Now,
	}
}

// Add stores a transcription and returns the stored entry.
func (s *MemoryStore) Add(sessionID, text, source string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{Timestamp: s.now(), SessionID: sessionID, Text: text, Source: source}
	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	return e
}

// Latest returns the most recent entry.
func (s *MemoryStore) Latest() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// GetRecent joins the text of entries newer than d, oldest first.
func (s *MemoryStore) GetRecent(d time.Duration) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-d)
	var parts []string
	for _, e := range s.entries {
		if !e.Timestamp.Before(cutoff) {
			parts = append(parts, e.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Events returns the channel for transcript events.
func (s *MemoryStore) Events() <-chan Event {
	return s.eventsCh
}

// Emit sends a transcript event (non-blocking).
func (s *MemoryStore) Emit(event Event) {
	select {
	case s.eventsCh <- event:
	default:
	}
}

// Entries returns a copy of all entries.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Entry, len(s.entries))
	copy(result, s.entries)
	return result
}
