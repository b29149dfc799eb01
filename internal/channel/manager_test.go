package channel_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/access"
	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/channel"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

type fakeGroups struct{}

func (fakeGroups) ResolveGroup(context.Context, identity.GroupID) (identity.Group, bool, error) {
	return identity.Group{}, false, nil
}

func newManager(t *testing.T) *channel.Manager {
	t.Helper()
	store, err := objectstore.New(t.TempDir(), objectstore.NewMemIndex(), zap.NewNop())
	if err != nil {
		t.Fatalf("objectstore.New: %v", err)
	}
	accessEngine := access.New(store, fakeGroups{}, nil, zap.NewNop())
	return channel.New(store, accessEngine, nil, zap.NewNop())
}

func TestCreateChannelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alice := identity.PersonID("alice@example.com")

	h1, err := m.CreateChannel(ctx, "general", alice)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	h2, err := m.CreateChannel(ctx, "general", alice)
	if err != nil {
		t.Fatalf("CreateChannel (again): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected idempotent id hash, got %v and %v", h1, h2)
	}
}

func TestAppendRequiresExistingChannel(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	if _, err := m.Append(ctx, "general", "alice@example.com", "hi", nil); err == nil {
		t.Fatalf("expected Append to fail on a channel that was never created")
	}
}

func TestAppendBuildsChainInOrder(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alice := identity.PersonID("alice@example.com")

	if _, err := m.CreateChannel(ctx, "general", alice); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := m.Append(ctx, "general", alice, "first", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := m.Append(ctx, "general", alice, "second", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := m.Iterate(ctx, "general", []identity.PersonID{alice})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "first" || entries[1].Text != "second" {
		t.Fatalf("unexpected order: %q, %q", entries[0].Text, entries[1].Text)
	}
	if entries[0].Sender != alice || entries[1].Sender != alice {
		t.Fatalf("expected sender %s on both entries, got %s and %s", alice, entries[0].Sender, entries[1].Sender)
	}
}

func TestIterateMergesMultipleOwners(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alice := identity.PersonID("alice@example.com")
	bob := identity.PersonID("bob@example.com")

	for _, p := range []identity.PersonID{alice, bob} {
		if _, err := m.CreateChannel(ctx, "group-topic", p); err != nil {
			t.Fatalf("CreateChannel(%s): %v", p, err)
		}
	}
	if _, err := m.Append(ctx, "group-topic", alice, "from alice", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := m.Append(ctx, "group-topic", bob, "from bob", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := m.Iterate(ctx, "group-topic", []identity.PersonID{alice, bob})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 merged entries, got %d", len(entries))
	}
}

func TestOnUpdatedFiresAfterAppend(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alice := identity.PersonID("alice@example.com")
	if _, err := m.CreateChannel(ctx, "general", alice); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	fired := 0
	m.OnUpdated("general", func(channelID string) {
		if channelID != "general" {
			t.Errorf("unexpected channelID %q", channelID)
		}
		fired++
	})

	if _, err := m.Append(ctx, "general", alice, "hi", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected OnUpdated to fire once, got %d", fired)
	}
}

func TestAppendCarriesAttachments(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alice := identity.PersonID("alice@example.com")
	if _, err := m.CreateChannel(ctx, "general", alice); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	photo := canon.Hash{0x01, 0x02, 0x03}
	if _, err := m.Append(ctx, "general", alice, "look at this", []canon.Hash{photo}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := m.Iterate(ctx, "general", []identity.PersonID{alice})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if len(entries[0].Attachments) != 1 || entries[0].Attachments[0] != photo {
		t.Fatalf("expected attachment %v, got %v", photo, entries[0].Attachments)
	}
}
