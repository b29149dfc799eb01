package topic_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/access"
	"github.com/lalith-99/coreoled/internal/channel"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/objectstore"
	"github.com/lalith-99/coreoled/internal/topic"
)

func newTestManager(t *testing.T, self identity.PersonID) *topic.Manager {
	t.Helper()
	store, err := objectstore.New(t.TempDir(), objectstore.NewMemIndex(), zap.NewNop())
	if err != nil {
		t.Fatalf("objectstore.New: %v", err)
	}
	tm := topic.New(store, nil, self, zap.NewNop())
	accessEngine := access.New(store, tm, nil, zap.NewNop())
	channels := channel.New(store, accessEngine, nil, zap.NewNop())

	// channels was constructed after tm, so rebuild tm with it wired in —
	// tm.channels is unexported and set only at construction, mirroring
	// the Manager/Engine mutual dependency BindAccess otherwise resolves.
	tm2 := topic.New(store, channels, self, zap.NewNop())
	tm2.BindAccess(accessEngine)
	return tm2
}

func TestCreateGroupTopicGrantsParticipants(t *testing.T) {
	ctx := context.Background()
	alice := identity.PersonID("alice@example.com")
	bob := identity.PersonID("bob@example.com")
	m := newTestManager(t, alice)

	tp, err := m.CreateGroupTopic(ctx, "project-x", []identity.PersonID{alice, bob})
	if err != nil {
		t.Fatalf("CreateGroupTopic: %v", err)
	}
	if tp.TopicID != "project-x" {
		t.Fatalf("unexpected topic id %q", tp.TopicID)
	}
	if tp.GroupName != identity.GroupID("project-x") {
		t.Fatalf("unexpected group name %q", tp.GroupName)
	}

	group, found, err := m.ResolveGroup(ctx, tp.GroupName)
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if !found {
		t.Fatalf("expected group to be resolvable after creation")
	}
	if !group.HasMember(alice) || !group.HasMember(bob) {
		t.Fatalf("expected group to contain both participants, got %+v", group.Members)
	}
}

func TestCreateOneToOneTopicIsSymmetric(t *testing.T) {
	ctx := context.Background()
	alice := identity.PersonID("alice@example.com")
	bob := identity.PersonID("bob@example.com")
	m := newTestManager(t, alice)

	tp1, err := m.CreateOneToOneTopic(ctx, alice, bob)
	if err != nil {
		t.Fatalf("CreateOneToOneTopic(alice, bob): %v", err)
	}
	tp2, err := m.CreateOneToOneTopic(ctx, bob, alice)
	if err != nil {
		t.Fatalf("CreateOneToOneTopic(bob, alice): %v", err)
	}
	if tp1.TopicID != tp2.TopicID {
		t.Fatalf("expected symmetric topic id, got %q and %q", tp1.TopicID, tp2.TopicID)
	}
	if tp1.GroupName != "" {
		t.Fatalf("expected no group for a 1:1 topic, got %q", tp1.GroupName)
	}
}

func TestAddParticipantsRejectsOneToOneTopic(t *testing.T) {
	ctx := context.Background()
	alice := identity.PersonID("alice@example.com")
	bob := identity.PersonID("bob@example.com")
	carol := identity.PersonID("carol@example.com")
	m := newTestManager(t, alice)

	tp, err := m.CreateOneToOneTopic(ctx, alice, bob)
	if err != nil {
		t.Fatalf("CreateOneToOneTopic: %v", err)
	}
	if err := m.AddParticipants(ctx, tp.TopicID, []identity.PersonID{carol}); err == nil {
		t.Fatalf("expected AddParticipants to fail on a 1:1 topic")
	}
}

func TestAddParticipantsExtendsGroup(t *testing.T) {
	ctx := context.Background()
	alice := identity.PersonID("alice@example.com")
	bob := identity.PersonID("bob@example.com")
	carol := identity.PersonID("carol@example.com")
	m := newTestManager(t, alice)

	tp, err := m.CreateGroupTopic(ctx, "project-x", []identity.PersonID{alice, bob})
	if err != nil {
		t.Fatalf("CreateGroupTopic: %v", err)
	}
	if err := m.AddParticipants(ctx, tp.TopicID, []identity.PersonID{carol}); err != nil {
		t.Fatalf("AddParticipants: %v", err)
	}

	group, found, err := m.ResolveGroup(ctx, tp.GroupName)
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if !found {
		t.Fatalf("expected group to still resolve")
	}
	if !group.HasMember(carol) {
		t.Fatalf("expected carol to have been added, got %+v", group.Members)
	}
}

func TestGetGroupForTopicFindsBackingGroup(t *testing.T) {
	ctx := context.Background()
	alice := identity.PersonID("alice@example.com")
	bob := identity.PersonID("bob@example.com")
	m := newTestManager(t, alice)

	tp, err := m.CreateGroupTopic(ctx, "project-x", []identity.PersonID{alice, bob})
	if err != nil {
		t.Fatalf("CreateGroupTopic: %v", err)
	}

	got, err := m.GetGroupForTopic(ctx, tp.TopicID)
	if err != nil {
		t.Fatalf("GetGroupForTopic: %v", err)
	}
	if got != tp.GroupName {
		t.Fatalf("expected group name %q, got %q", tp.GroupName, got)
	}
}

func TestGetGroupForTopicErrorsOnOneToOneTopic(t *testing.T) {
	ctx := context.Background()
	alice := identity.PersonID("alice@example.com")
	bob := identity.PersonID("bob@example.com")
	m := newTestManager(t, alice)

	tp, err := m.CreateOneToOneTopic(ctx, alice, bob)
	if err != nil {
		t.Fatalf("CreateOneToOneTopic: %v", err)
	}
	if _, err := m.GetGroupForTopic(ctx, tp.TopicID); err == nil {
		t.Fatalf("expected GetGroupForTopic to fail for a 1:1 topic with no group")
	}
}
