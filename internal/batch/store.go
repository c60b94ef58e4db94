// Package batch holds the process-wide state of in-flight upload batches.
//
// Every batch entry has its own lock. All reads and read-modify-writes on a
// batch go through that lock, so workers handling different files of the
// same batch never lose updates, while different batches never contend.
package batch

import (
	"fmt"
	"sync"

	"github.com/cwygoda/batchpress/internal/domain"
)

// Outcome is the result of finishing one job of a batch.
type Outcome int

const (
	// Pending means other jobs of the batch are still running.
	Pending Outcome = iota
	// Complete means this was the last job and every file is terminal.
	// Exactly one caller per batch observes it.
	Complete
	// Unresolved means this was the last job but some file never reached a
	// terminal state because its job failed fatally.
	Unresolved
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	case Unresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type entry struct {
	mu      sync.Mutex
	state   *State
	removed bool
}

// Store is a concurrency-safe map of batch states keyed by batch ID.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Create registers a new batch. It must be called before any job of the
// batch is enqueued.
func (s *Store) Create(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[state.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrBatchExists, state.ID)
	}
	s.entries[state.ID] = &entry{state: state}
	return nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, id)
	}
	return e, nil
}

// Update runs fn with exclusive access to the batch state. Any error from fn
// is returned unchanged.
func (s *Store) Update(id string, fn func(*State) error) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", domain.ErrBatchNotFound, id)
	}
	return fn(e.state)
}

// FinishJob records that one job of the batch finished, successfully or not.
// The remaining-job counter and the completeness check share one critical
// section, so only the caller that finishes the last job sees a non-Pending
// outcome.
func (s *Store) FinishJob(id string) (Outcome, error) {
	outcome := Pending
	err := s.Update(id, func(st *State) error {
		if st.remaining <= 0 {
			return fmt.Errorf("batch %s: no jobs outstanding", id)
		}
		st.remaining--
		if st.remaining > 0 {
			return nil
		}
		if st.Done() {
			outcome = Complete
		} else {
			outcome = Unresolved
		}
		return nil
	})
	return outcome, err
}

// Snapshot returns a copy of the batch state.
func (s *Store) Snapshot(id string) (Snapshot, error) {
	var snap Snapshot
	err := s.Update(id, func(st *State) error {
		snap = st.snapshot()
		return nil
	})
	return snap, err
}

// Delete removes a batch. It reports false if the batch was already gone.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return true
}

// Len returns the number of batches in flight.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
