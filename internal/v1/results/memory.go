package results

import (
	"context"
	"sync"
)

// MemorySink stores records in process memory. It backs single-instance
// deployments where Redis is disabled; records collapse on Key and live only
// as long as the process.
type MemorySink struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]Record)}
}

// Record implements Sink. A repeated Key overwrites in place.
func (s *MemorySink) Record(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key()] = rec
	return nil
}

// Get returns the record stored under key, if any.
func (s *MemorySink) Get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Len reports how many distinct records are stored.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
