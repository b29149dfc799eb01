package credential

import (
	"context"
	"sync"
	"time"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/identity"
)

// MemStore is an in-memory Store, used by package tests in place of a live
// Postgres connection — the same role objectstore.MemIndex plays for the
// object store.
type MemStore struct {
	mu         sync.Mutex
	revoked    map[canon.Hash]bool
	trustLevel map[identity.PersonID]TrustLevel
}

func NewMemStore() *MemStore {
	return &MemStore{
		revoked:    make(map[canon.Hash]bool),
		trustLevel: make(map[identity.PersonID]TrustLevel),
	}
}

func (m *MemStore) RecordRevocation(_ context.Context, vcHash canon.Hash, _ identity.PersonID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[vcHash] = true
	return nil
}

func (m *MemStore) IsRevoked(_ context.Context, vcHash canon.Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[vcHash], nil
}

func (m *MemStore) SetTrust(_ context.Context, subject identity.PersonID, level TrustLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trustLevel[subject] = level
	return nil
}

func (m *MemStore) TrustLevelOf(_ context.Context, subject identity.PersonID) (TrustLevel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.trustLevel[subject]
	return level, ok, nil
}
