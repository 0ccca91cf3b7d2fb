// Package history keeps a bounded, FIFO-evicting in-memory record of
// finished test reports. Reports are appended fully built, so readers
// never observe a partially written entry.
package history

import (
	"sync"

	"github.com/ballista-dev/ballista/runner"
)

// DefaultCapacity bounds the store when the caller does not.
const DefaultCapacity = 100

// Store is safe for concurrent writers (multiple runs finishing at
// once) and concurrent readers.
type Store struct {
	mu       sync.RWMutex
	capacity int
	reports  []runner.Report
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// Add appends a terminal report, evicting the oldest entry when full.
func (s *Store) Add(r runner.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == s.capacity {
		copy(s.reports, s.reports[1:])
		s.reports = s.reports[:len(s.reports)-1]
	}
	s.reports = append(s.reports, r)
}

// Get returns the report for a test id, if retained.
func (s *Store) Get(testID string) (runner.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.reports) - 1; i >= 0; i-- {
		if s.reports[i].TestID == testID {
			return s.reports[i], true
		}
	}
	return runner.Report{}, false
}

// List returns the retained reports, oldest first.
func (s *Store) List() []runner.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]runner.Report, len(s.reports))
	copy(out, s.reports)
	return out
}

// Len returns the number of retained reports.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}
