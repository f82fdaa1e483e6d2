// Package lockout tracks consecutive biometric failures per owner and enforces a fixed cooldown.
package lockout

import (
	"context"
	"sync"
	"time"
)

// State is the failure bookkeeping for one owner. The zero value means no failures and no lockout.
type State struct {
	FailureCount int        `json:"failure_count"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
}

// IsZero reports whether s carries no failures and no lockout.
func (s State) IsZero() bool {
	return s.FailureCount == 0 && s.LockedUntil == nil
}

// Store persists State by owner id. Get returns the zero State for an unknown owner.
type Store interface {
	Get(ctx context.Context, ownerID string) (State, error)
	Save(ctx context.Context, ownerID string, s State) error
	Delete(ctx context.Context, ownerID string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]State
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]State)}
}

// Get returns the state for ownerID.
func (s *MemoryStore) Get(ctx context.Context, ownerID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.m[ownerID]), nil
}

// Save replaces the state for ownerID.
func (s *MemoryStore) Save(ctx context.Context, ownerID string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[ownerID] = copyState(st)
	return nil
}

// Delete removes the state for ownerID.
func (s *MemoryStore) Delete(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, ownerID)
	return nil
}

func copyState(s State) State {
	if s.LockedUntil != nil {
		t := *s.LockedUntil
		s.LockedUntil = &t
	}
	return s
}
