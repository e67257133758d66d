package execution

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by tests.
type MemoryStore struct {
	mu         sync.Mutex
	executions map[string]*Execution
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: make(map[string]*Execution), now: time.Now}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[e.ID]; exists {
		return fmt.Errorf("execution %s already exists", e.ID)
	}
	copied := *e
	s.executions[e.ID] = &copied
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

// Transition implements Store. The store mutex makes the compare-and-advance
// indivisible.
func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status, errMsg string) (*Execution, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("illegal transition %s→%s: %w", from, to, ErrConflict)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != from {
		return nil, ErrConflict
	}

	now := s.now()
	e.Status = to
	if to == StatusRunning {
		e.StartedAt = &now
	}
	if to.Terminal() {
		e.FinishedAt = &now
	}
	if errMsg != "" {
		e.Error = errMsg
	}
	copied := *e
	return &copied, nil
}

// CountByStatus implements Store.
func (s *MemoryStore) CountByStatus(_ context.Context) (map[Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int64)
	for _, e := range s.executions {
		counts[e.Status]++
	}
	return counts, nil
}
