package state

import (
	"context"
	"encoding/json"
	"sync"
)

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu     sync.Mutex
	docs   map[string][]byte
	locked map[string]bool
	saves  int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs:   make(map[string][]byte),
		locked: make(map[string]bool),
	}
}

// Load implements Store.
func (s *MemStore) Load(_ context.Context, stack string) (*DeploymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.docs[stack]
	if !ok {
		return nil, ErrNotFound
	}
	var st DeploymentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.SchemaVersion != SchemaVersion {
		return nil, ErrSchemaVersion
	}
	return &st, nil
}

// Save implements Store. The document round-trips through JSON so tests see
// exactly what a file backend would reload.
func (s *MemStore) Save(_ context.Context, st *DeploymentState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[st.Stack] = data
	s.saves++
	return nil
}

// Lock implements Store.
func (s *MemStore) Lock(_ context.Context, stack string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked[stack] {
		return nil, ErrLocked
	}
	s.locked[stack] = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.locked, stack)
	}, nil
}

// Saves reports how many Save calls have happened. Tests use it to check
// that state is persisted after every step.
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
