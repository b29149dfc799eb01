package access_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/access"
	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

// fakeGroups is a fixed in-memory GroupResolver, standing in for the Group
// Manager the same way objectstore.NewMemIndex stands in for Postgres.
type fakeGroups struct {
	groups map[identity.GroupID]identity.Group
}

func (f fakeGroups) ResolveGroup(_ context.Context, name identity.GroupID) (identity.Group, bool, error) {
	g, ok := f.groups[name]
	return g, ok, nil
}

// Engine tests run with a nil *redis.Client (cache disabled) since there is
// no live Redis in a package test — the same reason the teacher's handler
// tests substitute a fake repository rather than dial real Postgres.
func newEngine(t *testing.T, groups access.GroupResolver) (*access.Engine, *objectstore.Store) {
	t.Helper()
	store, err := objectstore.New(t.TempDir(), objectstore.NewMemIndex(), zap.NewNop())
	if err != nil {
		t.Fatalf("objectstore.New: %v", err)
	}
	return access.New(store, groups, nil, zap.NewNop()), store
}

func TestCanReadDirectGrant(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, fakeGroups{})

	target := canon.Hash{0x01}
	if _, err := e.Grant(ctx, target, []identity.PersonID{"alice@example.com"}, nil, access.ModeAdd); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	ok, err := e.CanRead(ctx, "alice@example.com", target)
	if err != nil {
		t.Fatalf("CanRead: %v", err)
	}
	if !ok {
		t.Fatalf("expected alice to have access")
	}

	ok, err = e.CanRead(ctx, "bob@example.com", target)
	if err != nil {
		t.Fatalf("CanRead: %v", err)
	}
	if ok {
		t.Fatalf("expected bob to lack access")
	}
}

func TestCanReadViaGroup(t *testing.T) {
	ctx := context.Background()
	groups := fakeGroups{groups: map[identity.GroupID]identity.Group{
		"team": {Name: "team", Members: []identity.PersonID{"carol@example.com"}},
	}}
	e, _ := newEngine(t, groups)

	target := canon.Hash{0x02}
	if _, err := e.Grant(ctx, target, nil, []identity.GroupID{"team"}, access.ModeAdd); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	ok, err := e.CanRead(ctx, "carol@example.com", target)
	if err != nil {
		t.Fatalf("CanRead: %v", err)
	}
	if !ok {
		t.Fatalf("expected carol to have access via group membership")
	}
}

func TestCanReadSetModeReplaces(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, fakeGroups{})

	target := canon.Hash{0x03}
	if _, err := e.Grant(ctx, target, []identity.PersonID{"alice@example.com"}, nil, access.ModeAdd); err != nil {
		t.Fatalf("Grant 1: %v", err)
	}
	if _, err := e.Grant(ctx, target, []identity.PersonID{"bob@example.com"}, nil, access.ModeSet); err != nil {
		t.Fatalf("Grant 2: %v", err)
	}

	ok, err := e.CanRead(ctx, "alice@example.com", target)
	if err != nil {
		t.Fatalf("CanRead alice: %v", err)
	}
	if ok {
		t.Fatalf("expected SET grant to have replaced alice's access")
	}

	ok, err = e.CanRead(ctx, "bob@example.com", target)
	if err != nil {
		t.Fatalf("CanRead bob: %v", err)
	}
	if !ok {
		t.Fatalf("expected SET grant to cover bob")
	}
}

func TestCanReadViaChannelEntryClosure(t *testing.T) {
	ctx := context.Background()
	e, store := newEngine(t, fakeGroups{})

	messageHash := canon.Hash{0x10}
	entryHash := canon.Hash{0x11}
	channelIDHash := canon.Hash{0x12}

	if err := e.RecordChannelEntryRef(ctx, messageHash, entryHash, channelIDHash); err != nil {
		t.Fatalf("RecordChannelEntryRef: %v", err)
	}
	if _, err := e.Grant(ctx, channelIDHash, []identity.PersonID{"dave@example.com"}, nil, access.ModeAdd); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	ok, err := e.CanRead(ctx, "dave@example.com", messageHash)
	if err != nil {
		t.Fatalf("CanRead: %v", err)
	}
	if !ok {
		t.Fatalf("expected channel-level grant to cover message via transitive closure")
	}
	_ = store
}

func TestCanReadViaSomeoneProfileClosure(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, fakeGroups{})

	profileHash := canon.Hash{0x20}
	someoneIDHash := canon.Hash{0x21}

	if err := e.RecordSomeoneProfileRef(ctx, profileHash, someoneIDHash); err != nil {
		t.Fatalf("RecordSomeoneProfileRef: %v", err)
	}
	if _, err := e.Grant(ctx, someoneIDHash, []identity.PersonID{"erin@example.com"}, nil, access.ModeAdd); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	ok, err := e.CanRead(ctx, "erin@example.com", profileHash)
	if err != nil {
		t.Fatalf("CanRead: %v", err)
	}
	if !ok {
		t.Fatalf("expected someone-level grant to cover profile via transitive closure")
	}
}
