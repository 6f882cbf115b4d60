package registry

import (
	"context"
	"sync"
)

// Directory records which server instance holds an identifier. The local
// Registry consults it so identifiers stay unique across instances sharing
// the same backend.
type Directory interface {
	// Claim takes id for this instance. It reports false if id is already held.
	Claim(ctx context.Context, id uint64) (bool, error)
	// Release drops the claim if this instance still holds it.
	Release(ctx context.Context, id uint64) error
	// Owner returns the instance holding id, or "" if nobody does.
	Owner(ctx context.Context, id uint64) (string, error)
	// Refresh extends the claims this instance holds on ids.
	Refresh(ctx context.Context, ids []uint64) error
	// Instance identifies this server.
	Instance() string
}

// MemoryDirectory is a process-local Directory.
type MemoryDirectory struct {
	mu      sync.Mutex
	claimed map[uint64]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{claimed: make(map[uint64]struct{})}
}

var _ Directory = (*MemoryDirectory)(nil)

func (m *MemoryDirectory) Claim(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claimed[id]; ok {
		return false, nil
	}
	m.claimed[id] = struct{}{}
	return true, nil
}

func (m *MemoryDirectory) Release(_ context.Context, id uint64) error {
	m.mu.Lock()
	delete(m.claimed, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryDirectory) Owner(_ context.Context, id uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claimed[id]; ok {
		return m.Instance(), nil
	}
	return "", nil
}

func (m *MemoryDirectory) Refresh(context.Context, []uint64) error { return nil }

func (m *MemoryDirectory) Instance() string { return "local" }
