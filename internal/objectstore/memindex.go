package objectstore

import (
	"context"
	"sync"

	"github.com/lalith-99/coreoled/internal/canon"
)

// MemIndex is an in-memory Index, used by package tests across the module
// in place of a live Postgres connection — the same role the teacher's
// repository interfaces play when a handler test passes a mock instead of
// *postgres.ChannelStore.
type MemIndex struct {
	mu       sync.Mutex
	latest   map[canon.Hash]canon.Hash
	chain    map[canon.Hash][]canon.Hash // newest first
	reverse  map[string][]canon.Hash
}

func NewMemIndex() *MemIndex {
	return &MemIndex{
		latest:  make(map[canon.Hash]canon.Hash),
		chain:   make(map[canon.Hash][]canon.Hash),
		reverse: make(map[string][]canon.Hash),
	}
}

func (m *MemIndex) RecordVersion(_ context.Context, idHash, contentHash canon.Hash, _ *canon.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[idHash] = contentHash
	existing := m.chain[idHash]
	for _, h := range existing {
		if h == contentHash {
			return nil
		}
	}
	m.chain[idHash] = append([]canon.Hash{contentHash}, existing...)
	return nil
}

func (m *MemIndex) LatestContentHash(_ context.Context, idHash canon.Hash) (canon.Hash, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.latest[idHash]
	return h, ok, nil
}

func (m *MemIndex) IterateVersions(_ context.Context, idHash canon.Hash) ([]canon.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]canon.Hash, len(m.chain[idHash]))
	copy(out, m.chain[idHash])
	return out, nil
}

func reverseKey(referencedHash canon.Hash, referencingType string) string {
	return referencedHash.Hex() + "|" + referencingType
}

func (m *MemIndex) AddReverseRef(_ context.Context, referencedHash canon.Hash, referencingType string, referencingHash canon.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reverseKey(referencedHash, referencingType)
	for _, h := range m.reverse[key] {
		if h == referencingHash {
			return nil
		}
	}
	m.reverse[key] = append(m.reverse[key], referencingHash)
	return nil
}

func (m *MemIndex) ReverseLookup(_ context.Context, referencedHash canon.Hash, referencingType string) ([]canon.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reverseKey(referencedHash, referencingType)
	out := make([]canon.Hash, len(m.reverse[key]))
	copy(out, m.reverse[key])
	return out, nil
}
