// Package mesh implements duplicate suppression, hop-budget handling,
// selective flooding and peer liveness for the message mesh.
package mesh

import (
	"sort"
	"sync"
	"time"
)

const (
	// MaxSeenMessages bounds the dedup window by count
	MaxSeenMessages = 1000

	// MaxSeenAge bounds the dedup window by time
	MaxSeenAge = 300 * time.Second
)

// SeenMessage records the first sighting of a message id
type SeenMessage struct {
	MessageID uint32
	FirstSeen time.Time
	Source    string
}

// SeenTable remembers recently seen message ids
type SeenTable struct {
	entries map[uint32]SeenMessage
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

// NewSeenTable creates a table bounded by maxSize entries and maxAge
func NewSeenTable(maxSize int, maxAge time.Duration) *SeenTable {
	if maxSize <= 0 {
		maxSize = MaxSeenMessages
	}
	if maxAge <= 0 {
		maxAge = MaxSeenAge
	}
	return &SeenTable{
		entries: make(map[uint32]SeenMessage),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Seen reports whether id is in the table
func (s *SeenTable) Seen(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// MarkSeen records id and reports whether it was new.
// The check and the insert happen under one lock.
func (s *SeenTable) MarkSeen(id uint32, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return false
	}
	s.entries[id] = SeenMessage{MessageID: id, FirstSeen: s.now(), Source: source}
	return true
}

// Cleanup evicts entries older than the max age, then trims the oldest
// entries until the table fits. It returns the number evicted.
func (s *SeenTable) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := s.now().Add(-s.maxAge)
	for id, entry := range s.entries {
		if entry.FirstSeen.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}

	excess := len(s.entries) - s.maxSize
	if excess <= 0 {
		return removed
	}

	oldest := make([]SeenMessage, 0, len(s.entries))
	for _, entry := range s.entries {
		oldest = append(oldest, entry)
	}
	sort.Slice(oldest, func(i, j int) bool {
		return oldest[i].FirstSeen.Before(oldest[j].FirstSeen)
	})
	for _, entry := range oldest[:excess] {
		delete(s.entries, entry.MessageID)
	}

	return removed + excess
}

// Len returns the number of remembered ids
func (s *SeenTable) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
