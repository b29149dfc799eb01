package objectstore_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/coreerr"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

type thing struct {
	ID        string
	Value     string
	CreatedAt time.Time
}

func (t thing) CanonType() string { return "Thing" }
func (t thing) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "ID", Identity: true, Value: t.ID},
		{Name: "Value", Value: t.Value},
		{Name: "CreatedAt", Value: t.CreatedAt},
	}
}

func newStore(t *testing.T) *objectstore.Store {
	t.Helper()
	s, err := objectstore.New(t.TempDir(), objectstore.NewMemIndex(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStoreVersionedAndGetLatest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v1 := thing{ID: "x", Value: "first", CreatedAt: time.Unix(1, 0)}
	res1, err := s.StoreVersioned(ctx, v1)
	if err != nil {
		t.Fatalf("StoreVersioned v1: %v", err)
	}
	if res1.PrevHash != nil {
		t.Fatalf("expected no prev hash on first version")
	}

	v2 := thing{ID: "x", Value: "second", CreatedAt: time.Unix(2, 0)}
	res2, err := s.StoreVersioned(ctx, v2)
	if err != nil {
		t.Fatalf("StoreVersioned v2: %v", err)
	}
	if res2.PrevHash == nil || *res2.PrevHash != res1.ContentHash {
		t.Fatalf("expected prev hash to chain to v1's content hash")
	}
	if res1.IDHash != res2.IDHash {
		t.Fatalf("expected stable id hash across versions")
	}

	data, latest, err := s.GetByIDHash(ctx, res1.IDHash)
	if err != nil {
		t.Fatalf("GetByIDHash: %v", err)
	}
	if latest != res2.ContentHash {
		t.Fatalf("expected latest to be v2's content hash")
	}
	decoded := mustDecodeThing(t, data)
	if decoded.Value != "second" {
		t.Fatalf("expected latest value 'second', got %q", decoded.Value)
	}

	versions, err := s.IterateVersions(ctx, res1.IDHash)
	if err != nil {
		t.Fatalf("IterateVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if mustDecodeThing(t, versions[0]).Value != "second" {
		t.Fatalf("expected newest-first order")
	}
}

func TestStoreUnversionedIdempotent(t *testing.T) {
	s := newStore(t)
	v := thing{ID: "x", Value: "same", CreatedAt: time.Unix(1, 0)}

	h1, err := s.StoreUnversioned(v)
	if err != nil {
		t.Fatalf("StoreUnversioned: %v", err)
	}
	h2, err := s.StoreUnversioned(v)
	if err != nil {
		t.Fatalf("StoreUnversioned second time: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected idempotent hash, got %s vs %s", h1, h2)
	}
}

func TestGetByContentHashNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetByContentHash(canon.Hash{0xAB})
	if !coreerr.Is(err, coreerr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestStoreRawContentDetectsMismatch(t *testing.T) {
	s := newStore(t)
	claimed := canon.Hash{0x01, 0x02}
	err := s.StoreRawContent(claimed, []byte("not matching"))
	if !coreerr.Is(err, coreerr.KindCorruptObject) {
		t.Fatalf("expected CorruptObject, got %v", err)
	}
}

func mustDecodeThing(t *testing.T, b []byte) thing {
	t.Helper()
	r := canon.NewReader(b)
	id, err := r.String()
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	val, err := r.String()
	if err != nil {
		t.Fatalf("decode value: %v", err)
	}
	ts, err := r.Time()
	if err != nil {
		t.Fatalf("decode time: %v", err)
	}
	return thing{ID: id, Value: val, CreatedAt: ts}
}
