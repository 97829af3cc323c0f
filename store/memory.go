package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the pair in process memory. It is the default store
// and the one tests use to observe write sequencing.
type MemoryStore struct {
	mu     sync.RWMutex
	creds  Credentials
	writes int
	clears int
}

func NewMemoryStore(initial Credentials) *MemoryStore {
	return &MemoryStore{creds: initial}
}

func (m *MemoryStore) Get(_ context.Context) (Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds, nil
}

func (m *MemoryStore) Set(_ context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	m.writes++
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	m.clears++
	return nil
}

// Writes returns how many times Set has been called.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Clears returns how many times Clear has been called.
func (m *MemoryStore) Clears() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clears
}
