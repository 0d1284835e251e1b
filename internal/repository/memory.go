package repository

import "context"

// MemoryStore keeps every collection in process memory.
type MemoryStore struct {
	stateStore
}

type memoryBackend struct {
	st *state
}

func (b *memoryBackend) load(context.Context) (*state, error) {
	return b.st.clone(), nil
}

func (b *memoryBackend) save(_ context.Context, st *state, _ collection) error {
	b.st = st
	return nil
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stateStore{backend: &memoryBackend{st: newState()}}}
}

// Ping always succeeds
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }
