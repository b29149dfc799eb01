// Package topic implements the Topic & Group Manager (spec.md §4.9):
// group and one-to-one topic creation, participant management, and the
// Pairing flow that lets a new contact join via a signed invitation.
package topic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/access"
	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/channel"
	"github.com/lalith-99/coreoled/internal/coreerr"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

// grantType is the CanonType access.Grant objects are stored under —
// duplicated here (rather than imported) because internal/access keeps
// it unexported; ReverseLookup matches on this string.
const grantType = "AccessGrant"

// Topic describes a created conversation: its id, the ChannelInfo this
// device owns within it, and the Group backing it (empty for 1:1 topics,
// which grant by person rather than by group).
type Topic struct {
	TopicID       string
	OwnChannelHash canon.Hash
	GroupName     identity.GroupID
}

// Manager implements createGroupTopic/createOneToOneTopic/addParticipants/
// getGroupForTopic. Its access field is bound after construction
// (BindAccess) because the Access Engine's GroupResolver dependency is
// this Manager itself — the two are mutually dependent at the type level
// but not at construction time.
type Manager struct {
	store    *objectstore.Store
	channels *channel.Manager
	self     identity.PersonID
	logger   *zap.Logger

	access *access.Engine
}

func New(store *objectstore.Store, channels *channel.Manager, self identity.PersonID, logger *zap.Logger) *Manager {
	return &Manager{store: store, channels: channels, self: self, logger: logger}
}

// BindAccess wires the Access Engine in after both it and Manager have
// been constructed (Manager implements access.GroupResolver, so the
// Access Engine depends on this Manager, not the reverse).
func (m *Manager) BindAccess(e *access.Engine) {
	m.access = e
}

// ResolveGroup implements access.GroupResolver by loading a Group's
// latest version from the object store.
func (m *Manager) ResolveGroup(ctx context.Context, name identity.GroupID) (identity.Group, bool, error) {
	idHash, err := canon.IDHash(identity.Group{Name: name})
	if err != nil {
		return identity.Group{}, false, err
	}
	data, _, err := m.store.GetByIDHash(ctx, idHash)
	if err != nil {
		if kind, ok := coreerr.KindOf(err); ok && kind == coreerr.KindNotFound {
			return identity.Group{}, false, nil
		}
		return identity.Group{}, false, err
	}
	g, err := identity.DecodeGroup(data)
	if err != nil {
		return identity.Group{}, false, err
	}
	return g, true, nil
}

// CreateGroupTopic creates a Group containing participants, a ChannelInfo
// owned by self with id topicID, and an IdAccess grant on that
// ChannelInfo targeting the Group (spec.md §4.9).
func (m *Manager) CreateGroupTopic(ctx context.Context, topicID string, participants []identity.PersonID) (Topic, error) {
	groupName := identity.GroupID(topicID)
	group := identity.Group{Name: groupName, Members: participants}
	if _, err := m.store.StoreVersioned(ctx, group); err != nil {
		return Topic{}, err
	}

	channelHash, err := m.channels.CreateChannel(ctx, topicID, m.self)
	if err != nil {
		return Topic{}, err
	}

	if _, err := m.access.Grant(ctx, channelHash, nil, []identity.GroupID{groupName}, access.ModeAdd); err != nil {
		return Topic{}, err
	}

	return Topic{TopicID: topicID, OwnChannelHash: channelHash, GroupName: groupName}, nil
}

// nullOwner represents the "owner = null" ChannelInfo a 1:1 topic uses:
// neither participant individually owns it, so both write to (and both
// are granted on) the same ChannelInfo id.
const nullOwner = identity.PersonID("")

// OneToOneTopicID deterministically orders two participants so both sides
// compute the same topic id independently.
func OneToOneTopicID(a, b identity.PersonID) string {
	pair := []string{string(a), string(b)}
	sort.Strings(pair)
	return strings.Join(pair, "<->")
}

// SplitOneToOneTopicID reverses OneToOneTopicID, returning the two
// participants when topicID has the "<->" shape a 1:1 topic always uses.
func SplitOneToOneTopicID(topicID string) (a, b identity.PersonID, ok bool) {
	parts := strings.SplitN(topicID, "<->", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return identity.PersonID(parts[0]), identity.PersonID(parts[1]), true
}

// CreateOneToOneTopic creates exactly one ChannelInfo with owner = null
// and grants read/write to [a, b] by person, never by group. Idempotent
// on (a, b) via ChannelManager.CreateChannel's own idempotence.
func (m *Manager) CreateOneToOneTopic(ctx context.Context, a, b identity.PersonID) (Topic, error) {
	topicID := OneToOneTopicID(a, b)
	channelHash, err := m.channels.CreateChannel(ctx, topicID, nullOwner)
	if err != nil {
		return Topic{}, err
	}
	if _, err := m.access.Grant(ctx, channelHash, []identity.PersonID{a, b}, nil, access.ModeAdd); err != nil {
		return Topic{}, err
	}
	return Topic{TopicID: topicID, OwnChannelHash: channelHash}, nil
}

// AddParticipants loads the latest Group version, appends new members,
// stores a new version under the same id hash, and re-issues the grant
// on this device's own ChannelInfo so a cache entry computed before the
// membership change is superseded promptly. Cannot be used on 1:1 topics
// (which have no backing Group).
func (m *Manager) AddParticipants(ctx context.Context, topicID string, newPersons []identity.PersonID) error {
	groupName := identity.GroupID(topicID)
	group, found, err := m.ResolveGroup(ctx, groupName)
	if err != nil {
		return err
	}
	if !found {
		return coreerr.New("topic.AddParticipants", coreerr.KindNotFound, fmt.Errorf("topic %s has no group (1:1 topics cannot take participants)", topicID))
	}

	for _, p := range newPersons {
		group = group.WithMember(p)
	}
	if _, err := m.store.StoreVersioned(ctx, group); err != nil {
		return err
	}

	channelHash, err := channel.IDHash(topicID, m.self)
	if err != nil {
		return err
	}
	_, err = m.access.Grant(ctx, channelHash, nil, []identity.GroupID{groupName}, access.ModeAdd)
	return err
}

// GetGroupForTopic reverse-looks-up the IdAccess grant on this device's
// own ChannelInfo for topicID and returns the Group it names.
func (m *Manager) GetGroupForTopic(ctx context.Context, topicID string) (identity.GroupID, error) {
	channelHash, err := channel.IDHash(topicID, m.self)
	if err != nil {
		return "", err
	}
	grantHashes, err := m.store.ReverseLookup(ctx, channelHash, grantType)
	if err != nil {
		return "", err
	}
	for _, gh := range grantHashes {
		data, err := m.store.GetByContentHash(gh)
		if err != nil {
			continue
		}
		grant, err := access.DecodeGrant(data)
		if err != nil {
			continue
		}
		if len(grant.Groups) > 0 {
			return grant.Groups[0], nil
		}
	}
	return "", coreerr.WithHash("topic.GetGroupForTopic", coreerr.KindNotFound, channelHash.Hex(), fmt.Errorf("no group-referencing grant found for topic %s", topicID))
}
