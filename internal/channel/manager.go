package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/access"
	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/coreerr"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

// Notifier offers a freshly written hash to the CHUM sync engine.
// *chum.Engine satisfies this; it is optional (nil-safe) so Manager can
// run standalone in tests.
type Notifier interface {
	NotifyWrite(ctx context.Context, hash canon.Hash)
}

// Manager implements spec.md §4.8's createChannel/append/iterate/onUpdated.
type Manager struct {
	store  *objectstore.Store
	access *access.Engine
	chum   Notifier
	logger *zap.Logger

	mu        sync.Mutex
	callbacks map[string][]func(channelID string)
}

func New(store *objectstore.Store, accessEngine *access.Engine, chumEngine Notifier, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		access:    accessEngine,
		chum:      chumEngine,
		logger:    logger,
		callbacks: make(map[string][]func(string)),
	}
}

func (m *Manager) notify(ctx context.Context, hash canon.Hash) {
	if m.chum != nil {
		m.chum.NotifyWrite(ctx, hash)
	}
}

// CreateChannel writes an initial ChannelInfo with an empty head.
// Idempotent on (channelID, owner): a channel that already exists is a
// no-op success.
func (m *Manager) CreateChannel(ctx context.Context, channelID string, owner identity.PersonID) (canon.Hash, error) {
	idHash, err := IDHash(channelID, owner)
	if err != nil {
		return canon.Hash{}, coreerr.New("channel.CreateChannel", coreerr.KindConflict, err)
	}
	if _, _, err := m.store.GetByIDHash(ctx, idHash); err == nil {
		return idHash, nil
	}

	result, err := m.store.StoreVersioned(ctx, Info{ChannelID: channelID, Owner: owner})
	if err != nil {
		return canon.Hash{}, err
	}
	m.notify(ctx, result.ContentHash)
	return result.IDHash, nil
}

// Append writes a ChatMessage, a CreationTime pointing to it, a
// ChannelEntry whose Prev is the previous head, and a new ChannelInfo
// version pointing to the new entry — in that order, so a cancellation
// before the final ChannelInfo write leaves the append invisible rather
// than partial (spec.md §5 "staging").
func (m *Manager) Append(ctx context.Context, channelID string, owner identity.PersonID, text string, attachments []canon.Hash) (canon.Hash, error) {
	idHash, err := IDHash(channelID, owner)
	if err != nil {
		return canon.Hash{}, coreerr.New("channel.Append", coreerr.KindConflict, err)
	}

	existing, _, err := m.store.GetByIDHash(ctx, idHash)
	if err != nil {
		return canon.Hash{}, coreerr.WithHash("channel.Append", coreerr.KindNotFound, idHash.Hex(), fmt.Errorf("channel %s/%s not created: %w", channelID, owner, err))
	}
	info, err := DecodeInfo(existing)
	if err != nil {
		return canon.Hash{}, coreerr.New("channel.Append", coreerr.KindCorruptObject, err)
	}

	dataHash, err := m.store.StoreUnversioned(ChatMessage{Text: text, Sender: owner, Attachments: attachments})
	if err != nil {
		return canon.Hash{}, err
	}
	m.notify(ctx, dataHash)

	creationHash, err := m.store.StoreUnversioned(CreationTime{DataHash: dataHash, Timestamp: time.Now()})
	if err != nil {
		return canon.Hash{}, err
	}
	m.notify(ctx, creationHash)

	entryHash, err := m.store.StoreUnversioned(Entry{
		ChannelID:        channelID,
		Owner:            owner,
		CreationTimeHash: creationHash,
		Prev:             info.HeadEntryHash,
	})
	if err != nil {
		return canon.Hash{}, err
	}
	m.notify(ctx, entryHash)

	if err := m.access.RecordChannelEntryRef(ctx, dataHash, entryHash, idHash); err != nil {
		return canon.Hash{}, err
	}

	result, err := m.store.StoreVersioned(ctx, Info{ChannelID: channelID, Owner: owner, HeadEntryHash: &entryHash})
	if err != nil {
		return canon.Hash{}, err
	}
	m.notify(ctx, result.ContentHash)

	m.fireUpdated(channelID)
	return entryHash, nil
}

// IterEntry is one resolved entry from Iterate's merged stream.
type IterEntry struct {
	Owner       identity.PersonID
	EntryHash   canon.Hash
	Timestamp   time.Time
	Text        string
	Sender      identity.PersonID
	Attachments []canon.Hash
}

// Iterate merges the entry chains of every owner in owners that has a
// ChannelInfo for channelID, ordered by CreationTime timestamp with ties
// broken by (owner, entryHash) for determinism across peers (spec.md
// §4.8). Callers supply owners — typically the Group membership from the
// Topic & Group Manager, or the null owner for a 1:1 topic — since the content-addressed
// store has no index of "every owner that has ever written to this
// channel id" to enumerate on its own.
func (m *Manager) Iterate(ctx context.Context, channelID string, owners []identity.PersonID) ([]IterEntry, error) {
	var all []IterEntry
	for _, owner := range owners {
		chain, err := m.loadChain(ctx, channelID, owner)
		if err != nil {
			return nil, err
		}
		all = append(all, chain...)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		if all[i].Owner != all[j].Owner {
			return all[i].Owner < all[j].Owner
		}
		return all[i].EntryHash.Hex() < all[j].EntryHash.Hex()
	})
	return all, nil
}

func (m *Manager) loadChain(ctx context.Context, channelID string, owner identity.PersonID) ([]IterEntry, error) {
	idHash, err := IDHash(channelID, owner)
	if err != nil {
		return nil, err
	}
	data, _, err := m.store.GetByIDHash(ctx, idHash)
	if err != nil {
		if kind, ok := coreerr.KindOf(err); ok && kind == coreerr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	info, err := DecodeInfo(data)
	if err != nil {
		return nil, err
	}

	var out []IterEntry
	cur := info.HeadEntryHash
	for cur != nil {
		entryBytes, err := m.store.GetByContentHash(*cur)
		if err != nil {
			return nil, err
		}
		entry, err := DecodeEntry(entryBytes)
		if err != nil {
			return nil, err
		}
		ctBytes, err := m.store.GetByContentHash(entry.CreationTimeHash)
		if err != nil {
			return nil, err
		}
		ct, err := DecodeCreationTime(ctBytes)
		if err != nil {
			return nil, err
		}
		dataBytes, err := m.store.GetByContentHash(ct.DataHash)
		if err != nil {
			return nil, err
		}
		msg, err := DecodeChatMessage(dataBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, IterEntry{
			Owner:       owner,
			EntryHash:   *cur,
			Timestamp:   ct.Timestamp,
			Text:        msg.Text,
			Sender:      msg.Sender,
			Attachments: msg.Attachments,
		})
		cur = entry.Prev
	}
	return out, nil
}

// OnUpdated registers cb to fire whenever channelID's ChannelInfo
// receives a new version. Local appends fire it directly; other versions
// fire it only when NotifyExternalUpdate is called, and the CHUM import
// path in this module does not call it.
func (m *Manager) OnUpdated(channelID string, cb func(channelID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[channelID] = append(m.callbacks[channelID], cb)
}

// NotifyExternalUpdate fires channelID's registered callbacks for a
// ChannelInfo version that arrived via CHUM rather than a local Append.
func (m *Manager) NotifyExternalUpdate(channelID string) {
	m.fireUpdated(channelID)
}

func (m *Manager) fireUpdated(channelID string) {
	m.mu.Lock()
	var cbs []func(string)
	cbs = append(cbs, m.callbacks[channelID]...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(channelID)
	}
}
