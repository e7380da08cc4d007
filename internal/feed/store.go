// Package feed keeps the current parking event list fresh: it fetches the
// configured calendars, parses them, and publishes the merged result.
package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"parkcal/internal/model"
)

// Snapshot is the published state after the most recent refresh. Its
// slices and maps are never modified after publication.
type Snapshot struct {
	Events []model.ParkingEvent
	// Bodies holds the raw calendar text per feed ID.
	Bodies map[string][]byte
	// UpdatedAt is when Events was last replaced. Zero before the first
	// successful refresh.
	UpdatedAt time.Time
	// LastError is the error of the most recent refresh, nil on success.
	LastError error
}

// Store holds the shared event list. Readers take a Snapshot; writers
// replace it wholesale, and an older refresh never overwrites a newer one.
type Store struct {
	mu      sync.RWMutex
	snap    Snapshot
	applied uint64

	seq atomic.Uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{snap: Snapshot{Events: []model.ParkingEvent{}, Bodies: map[string][]byte{}}}
}

// Begin reserves a sequence number for a refresh about to start.
func (s *Store) Begin() uint64 {
	return s.seq.Add(1)
}

// Commit publishes events for the refresh numbered seq. It returns false and
// changes nothing when a later refresh has already been published.
func (s *Store) Commit(seq uint64, events []model.ParkingEvent, bodies map[string][]byte, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.applied {
		return false
	}
	s.applied = seq
	s.snap = Snapshot{Events: events, Bodies: bodies, UpdatedAt: at}
	return true
}

// Fail records err for the refresh numbered seq, keeping the previous
// events. Like Commit it is ignored when superseded.
func (s *Store) Fail(seq uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.applied {
		return false
	}
	s.applied = seq
	s.snap.LastError = err
	return true
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
