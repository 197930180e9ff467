package recommend

import (
	"context"
	"sync"
)

// Store persists agent recommendation state per scope. Load returns
// (nil, nil) when the scope has no saved state yet.
type Store interface {
	Load(ctx context.Context, scope Scope) (*AgentState, error)
	Save(ctx context.Context, scope Scope, state *AgentState) error
}

// MemoryStore is an in-process Store for tests and single-shot runs
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*AgentState
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*AgentState)}
}

// Load implements Store
func (s *MemoryStore) Load(ctx context.Context, scope Scope) (*AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[scope.Key()]
	if !ok {
		return nil, nil
	}
	return state.clone(), nil
}

// Save implements Store
func (s *MemoryStore) Save(ctx context.Context, scope Scope, state *AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[scope.Key()] = state.clone()
	return nil
}
