// Package objectstore implements the content-addressed Object Store
// (spec.md §4.1): one file per content hash under a configurable base
// directory, with the id-index and reverse-map delegated to
// internal/reverseindex (Postgres). Writes to a given id hash are
// serialized by a per-id-hash mutex, matching the per-id locking the
// concurrency model requires (spec.md §5) — distinct ids proceed in
// parallel, exactly like the teacher's shared, goroutine-safe pgxpool.Pool.
package objectstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/coreerr"
)

// VersionedResult is returned by StoreVersioned.
type VersionedResult struct {
	IDHash      canon.Hash
	ContentHash canon.Hash
	PrevHash    *canon.Hash
}

// Index is the id-index + reverse-map dependency the store needs.
// *reverseindex.Index satisfies this; tests substitute an in-memory fake,
// the same way the teacher's handlers take a repository.XxxRepository
// interface instead of a concrete *postgres.XxxStore.
type Index interface {
	RecordVersion(ctx context.Context, idHash, contentHash canon.Hash, prevHash *canon.Hash) error
	LatestContentHash(ctx context.Context, idHash canon.Hash) (canon.Hash, bool, error)
	IterateVersions(ctx context.Context, idHash canon.Hash) ([]canon.Hash, error)
	AddReverseRef(ctx context.Context, referencedHash canon.Hash, referencingType string, referencingHash canon.Hash) error
	ReverseLookup(ctx context.Context, referencedHash canon.Hash, referencingType string) ([]canon.Hash, error)
}

type Store struct {
	baseDir string
	index   Index
	logger  *zap.Logger
	locks   sync.Map // id-hash hex -> *sync.Mutex
}

// New creates a Store rooted at baseDir, ensuring the objects/ directory
// exists (the reverse/ namespace lives in Postgres via reverseindex, not
// on disk — see SPEC_FULL.md §4.1).
func New(baseDir string, index Index, logger *zap.Logger) (*Store, error) {
	objectsDir := filepath.Join(baseDir, "objects")
	if err := os.MkdirAll(objectsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &Store{baseDir: baseDir, index: index, logger: logger}, nil
}

func (s *Store) lockFor(key string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) pathFor(hash canon.Hash) string {
	return filepath.Join(s.baseDir, "objects", hash.Hex())
}

// writeFile writes data for hash if it isn't already on disk. Re-writing
// a hash that already exists is a no-op success (spec.md §4.1 failure
// modes) because content addressing guarantees byte-identical content.
func (s *Store) writeFile(hash canon.Hash, data []byte) error {
	path := s.pathFor(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename object into place: %w", err)
	}
	return nil
}

// StoreVersioned computes the object's id hash and content hash, writes
// the content (no-op if already present), and records the new version in
// the id-index so GetByIDHash and IterateVersions see it.
func (s *Store) StoreVersioned(ctx context.Context, r canon.Recipe) (VersionedResult, error) {
	idHash, err := canon.IDHash(r)
	if err != nil {
		return VersionedResult{}, coreerr.New("objectstore.StoreVersioned", coreerr.KindConflict, err)
	}
	contentHash, err := canon.ContentHash(r)
	if err != nil {
		return VersionedResult{}, coreerr.New("objectstore.StoreVersioned", coreerr.KindConflict, err)
	}

	mu := s.lockFor(idHash.Hex())
	mu.Lock()
	defer mu.Unlock()

	data, err := canon.Serialize(r)
	if err != nil {
		return VersionedResult{}, coreerr.New("objectstore.StoreVersioned", coreerr.KindConflict, err)
	}
	if err := s.writeFile(contentHash, data); err != nil {
		return VersionedResult{}, coreerr.New("objectstore.StoreVersioned", coreerr.KindConflict, err)
	}

	prevHash, hasPrev, err := s.index.LatestContentHash(ctx, idHash)
	if err != nil {
		return VersionedResult{}, coreerr.New("objectstore.StoreVersioned", coreerr.KindConflict, err)
	}
	var prevPtr *canon.Hash
	if hasPrev {
		prevPtr = &prevHash
	}

	if err := s.index.RecordVersion(ctx, idHash, contentHash, prevPtr); err != nil {
		return VersionedResult{}, coreerr.New("objectstore.StoreVersioned", coreerr.KindConflict, err)
	}

	return VersionedResult{IDHash: idHash, ContentHash: contentHash, PrevHash: prevPtr}, nil
}

// StoreUnversioned writes an unversioned object's bytes, keyed by its
// content hash alone.
func (s *Store) StoreUnversioned(r canon.Recipe) (canon.Hash, error) {
	contentHash, err := canon.ContentHash(r)
	if err != nil {
		return canon.Hash{}, coreerr.New("objectstore.StoreUnversioned", coreerr.KindConflict, err)
	}
	mu := s.lockFor(contentHash.Hex())
	mu.Lock()
	defer mu.Unlock()

	data, err := canon.Serialize(r)
	if err != nil {
		return canon.Hash{}, coreerr.New("objectstore.StoreUnversioned", coreerr.KindConflict, err)
	}
	if err := s.writeFile(contentHash, data); err != nil {
		return canon.Hash{}, coreerr.New("objectstore.StoreUnversioned", coreerr.KindConflict, err)
	}
	return contentHash, nil
}

// StoreRawContent stores pre-serialized bytes under their own sha256 hash,
// verifying the caller's claimed hash matches — used on the CHUM import
// path where the engine already knows the hash it requested (spec.md §4.7
// "verify the hash matches the serialization before storing").
func (s *Store) StoreRawContent(claimed canon.Hash, data []byte) error {
	actual := sha256.Sum256(data)
	if actual != claimed {
		return coreerr.WithHash("objectstore.StoreRawContent", coreerr.KindCorruptObject, claimed.Hex(), fmt.Errorf("hash mismatch"))
	}
	mu := s.lockFor(claimed.Hex())
	mu.Lock()
	defer mu.Unlock()
	return s.writeFile(claimed, data)
}

// GetByContentHash reads an object's raw canonical bytes, verifying
// on-disk content still hashes to the requested value.
func (s *Store) GetByContentHash(hash canon.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerr.WithHash("objectstore.GetByContentHash", coreerr.KindNotFound, hash.Hex(), err)
		}
		return nil, coreerr.WithHash("objectstore.GetByContentHash", coreerr.KindCorruptObject, hash.Hex(), err)
	}
	if sha256.Sum256(data) != hash {
		return nil, coreerr.WithHash("objectstore.GetByContentHash", coreerr.KindCorruptObject, hash.Hex(), fmt.Errorf("stored content does not hash to filename"))
	}
	return data, nil
}

// Exists reports whether content for hash is already stored — used to
// filter CHUM ANNOUNCE hashes down to what's actually missing.
func (s *Store) Exists(hash canon.Hash) bool {
	_, err := os.Stat(s.pathFor(hash))
	return err == nil
}

// GetByIDHash returns the latest version's bytes and its content hash.
func (s *Store) GetByIDHash(ctx context.Context, idHash canon.Hash) ([]byte, canon.Hash, error) {
	latest, ok, err := s.index.LatestContentHash(ctx, idHash)
	if err != nil {
		return nil, canon.Hash{}, coreerr.New("objectstore.GetByIDHash", coreerr.KindConflict, err)
	}
	if !ok {
		return nil, canon.Hash{}, coreerr.WithHash("objectstore.GetByIDHash", coreerr.KindNotFound, idHash.Hex(), fmt.Errorf("no version recorded"))
	}
	data, err := s.GetByContentHash(latest)
	return data, latest, err
}

// IterateVersions returns every stored version's raw bytes, newest first.
func (s *Store) IterateVersions(ctx context.Context, idHash canon.Hash) ([][]byte, error) {
	hashes, err := s.index.IterateVersions(ctx, idHash)
	if err != nil {
		return nil, coreerr.New("objectstore.IterateVersions", coreerr.KindConflict, err)
	}
	out := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		data, err := s.GetByContentHash(h)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// RecordReverseRef notes that referencingHash (of referencingType)
// references referencedHash, for later ReverseLookup. Callers invoke this
// explicitly after storing an object with declared reference fields (e.g.
// a ChannelEntry referencing its data hash) — which
// fields are references is type-specific domain knowledge the generic
// store does not infer.
func (s *Store) RecordReverseRef(ctx context.Context, referencedHash canon.Hash, referencingType string, referencingHash canon.Hash) error {
	return s.index.AddReverseRef(ctx, referencedHash, referencingType, referencingHash)
}

// ReverseLookup returns hashes of referencingType that reference
// referencedHash.
func (s *Store) ReverseLookup(ctx context.Context, referencedHash canon.Hash, referencingType string) ([]canon.Hash, error) {
	return s.index.ReverseLookup(ctx, referencedHash, referencingType)
}
