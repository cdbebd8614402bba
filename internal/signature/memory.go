package signature

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Agreement
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]Agreement{}}
}

func (m *MemoryStore) Create(_ context.Context, a *Agreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Provider == a.Provider && existing.DocumentID == a.DocumentID {
			return ErrConflict
		}
	}
	m.byID[a.ID] = *a
	return nil
}

func (m *MemoryStore) Find(_ context.Context, id string) (*Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) FindByDocument(_ context.Context, provider Provider, documentID string) (*Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Provider == provider && a.DocumentID == documentID {
			a := a
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(_ context.Context, a *Agreement, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.byID[a.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != from {
		return ErrConflict
	}
	m.byID[a.ID] = *a
	return nil
}
