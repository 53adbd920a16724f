package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
)

// Store persists thread snapshots. Load returns an error wrapping
// errors.ErrNotFound when the thread has no snapshot yet.
type Store interface {
	Save(ctx context.Context, state *State) error
	Load(ctx context.Context, threadID string) (*State, error)
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context) ([]string, error)
}

// MemoryStore is a Store for single-process deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*State),
	}
}

// Save stores a copy of the snapshot.
func (s *MemoryStore) Save(_ context.Context, state *State) error {
	if state == nil || state.ThreadID == "" {
		return fmt.Errorf("state must have a thread id: %w", errorspkg.ErrInvalidInput)
	}

	snapshot := state.Clone()
	snapshot.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ThreadID] = snapshot
	return nil
}

// Load returns a copy of the latest snapshot.
func (s *MemoryStore) Load(_ context.Context, threadID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, errorspkg.ErrNotFound)
	}
	return state.Clone(), nil
}

// Delete removes a snapshot.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[threadID]; !ok {
		return fmt.Errorf("thread %s: %w", threadID, errorspkg.ErrNotFound)
	}
	delete(s.states, threadID)
	return nil
}

// List returns all thread ids in lexical order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
