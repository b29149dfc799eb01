// Package access implements the Access Engine of spec.md §4.2: access
// grants as content-addressed objects, transitive evaluation of canRead
// across ChannelInfo and Someone references, and a Redis-backed lookup
// cache invalidated on every grant write — mirroring the teacher's
// repository-plus-cache layering, with go-redis/v9 standing in for the
// teacher's ephemeral lookup needs.
package access

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/coreerr"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

// Mode selects how a Grant's Persons/Groups combine with earlier grants
// targeting the same hash.
type Mode string

const (
	ModeAdd Mode = "ADD"
	ModeSet Mode = "SET"
)

// referencingType tags under objectstore's reverse-map.
const (
	refAccessGrant  = "AccessGrant"
	refChannelEntry = "ChannelEntry"
	refChannelInfo  = "ChannelInfoID"
	refSomeone      = "SomeoneID"
)

// Grant is an unversioned object: every call to Engine.Grant creates a new
// one rather than mutating an existing grant in place, so grants replicate
// over CHUM like any other object (spec.md §4.2).
type Grant struct {
	Target    canon.Hash
	Persons   []identity.PersonID
	Groups    []identity.GroupID
	Mode      Mode
	CreatedAt time.Time
}

func (g Grant) CanonType() string { return "AccessGrant" }
func (g Grant) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "Target", Value: g.Target},
		{Name: "Persons", Value: personIDsToStrings(g.Persons)},
		{Name: "Groups", Value: groupIDsToStrings(g.Groups)},
		{Name: "Mode", Value: string(g.Mode)},
		{Name: "CreatedAt", Value: g.CreatedAt},
	}
}

func personIDsToStrings(ids []identity.PersonID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func groupIDsToStrings(ids []identity.GroupID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func DecodeGrant(b []byte) (Grant, error) {
	r := canon.NewReader(b)
	target, err := r.Hash()
	if err != nil {
		return Grant{}, err
	}
	persons, err := r.StringSlice()
	if err != nil {
		return Grant{}, err
	}
	groups, err := r.StringSlice()
	if err != nil {
		return Grant{}, err
	}
	mode, err := r.String()
	if err != nil {
		return Grant{}, err
	}
	ts, err := r.Time()
	if err != nil {
		return Grant{}, err
	}
	ps := make([]identity.PersonID, len(persons))
	for i, p := range persons {
		ps[i] = identity.PersonID(p)
	}
	gs := make([]identity.GroupID, len(groups))
	for i, g := range groups {
		gs[i] = identity.GroupID(g)
	}
	return Grant{Target: target, Persons: ps, Groups: gs, Mode: Mode(mode), CreatedAt: ts}, nil
}

// GroupResolver looks up a Group's current membership by name. The topic
// manager's Group Manager satisfies this; tests substitute a fixed map.
type GroupResolver interface {
	ResolveGroup(ctx context.Context, name identity.GroupID) (identity.Group, bool, error)
}

// Engine evaluates and records access grants.
type Engine struct {
	store  *objectstore.Store
	groups GroupResolver
	cache  *redis.Client
	logger *zap.Logger
}

func New(store *objectstore.Store, groups GroupResolver, cache *redis.Client, logger *zap.Logger) *Engine {
	return &Engine{store: store, groups: groups, cache: cache, logger: logger}
}

// Grant records a new grant object and records the reverse reference used
// by foldGrants, then invalidates the lookup cache — any write of type
// Access invalidates it (spec.md §4.2).
func (e *Engine) Grant(ctx context.Context, target canon.Hash, persons []identity.PersonID, groups []identity.GroupID, mode Mode) (canon.Hash, error) {
	g := Grant{Target: target, Persons: persons, Groups: groups, Mode: mode, CreatedAt: time.Now()}
	hash, err := e.store.StoreUnversioned(g)
	if err != nil {
		return canon.Hash{}, err
	}
	if err := e.store.RecordReverseRef(ctx, target, refAccessGrant, hash); err != nil {
		return canon.Hash{}, err
	}
	e.InvalidateCache(ctx)
	return hash, nil
}

// RecordChannelEntryRef tells the engine that entryHash belongs to the
// ChannelInfo identified by channelIDHash, so a grant on the channel's id
// hash also covers dataHash, the data of that entry. The entry hash itself
// is not among the hashes such a grant covers. The Channel Manager
// calls this after each append (spec.md §4.4).
func (e *Engine) RecordChannelEntryRef(ctx context.Context, dataHash, entryHash, channelIDHash canon.Hash) error {
	if err := e.store.RecordReverseRef(ctx, dataHash, refChannelEntry, entryHash); err != nil {
		return err
	}
	return e.store.RecordReverseRef(ctx, entryHash, refChannelInfo, channelIDHash)
}

// RecordSomeoneProfileRef tells the engine that profileHash belongs to the
// Someone identified by someoneIDHash, so a grant on the Someone's id hash
// also covers that profile. The identity layer calls this when a Profile
// is attached to a Someone.
func (e *Engine) RecordSomeoneProfileRef(ctx context.Context, profileHash, someoneIDHash canon.Hash) error {
	return e.store.RecordReverseRef(ctx, profileHash, refSomeone, someoneIDHash)
}

// InvalidateCache discards every cached lookup. Called on Access writes and
// must also be called by the Group Manager after any membership change.
func (e *Engine) InvalidateCache(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Incr(ctx, "access:gen").Err(); err != nil && e.logger != nil {
		e.logger.Warn("access: cache generation bump failed", zap.Error(err))
	}
}

func (e *Engine) cacheKey(ctx context.Context, person identity.PersonID, hash canon.Hash) string {
	gen, err := e.cache.Get(ctx, "access:gen").Result()
	if err != nil {
		gen = "0"
	}
	return fmt.Sprintf("access:%s:%s:%s", gen, person, hash.Hex())
}

// CanRead implements spec.md §4.2: H itself, plus the transitive closure
// through any ChannelInfo referencing H via a ChannelEntry and any Someone
// referencing H via a Profile, and returns true if at least one covering
// target has a grant naming person (directly or via group membership).
func (e *Engine) CanRead(ctx context.Context, person identity.PersonID, hash canon.Hash) (bool, error) {
	if e.cache != nil {
		key := e.cacheKey(ctx, person, hash)
		if v, err := e.cache.Get(ctx, key).Result(); err == nil {
			return v == "1", nil
		}
	}

	targets, err := e.collectTargets(ctx, hash)
	if err != nil {
		return false, err
	}

	result := false
	for _, t := range targets {
		grants, err := e.foldGrants(ctx, t)
		if err != nil {
			return false, err
		}
		ok, err := e.evaluate(ctx, person, grants)
		if err != nil {
			return false, err
		}
		if ok {
			result = true
			break
		}
	}

	if e.cache != nil {
		key := e.cacheKey(ctx, person, hash)
		e.cache.Set(ctx, key, boolString(result), 5*time.Minute)
	}
	return result, nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (e *Engine) collectTargets(ctx context.Context, hash canon.Hash) ([]canon.Hash, error) {
	targets := []canon.Hash{hash}

	entryHashes, err := e.store.ReverseLookup(ctx, hash, refChannelEntry)
	if err != nil {
		return nil, err
	}
	for _, entryHash := range entryHashes {
		channelIDHashes, err := e.store.ReverseLookup(ctx, entryHash, refChannelInfo)
		if err != nil {
			return nil, err
		}
		targets = append(targets, channelIDHashes...)
	}

	someoneIDHashes, err := e.store.ReverseLookup(ctx, hash, refSomeone)
	if err != nil {
		return nil, err
	}
	targets = append(targets, someoneIDHashes...)

	return targets, nil
}

// foldGrants loads every Grant object that has ever targeted t and folds
// them in creation order (ties broken by hash for determinism), applying
// ADD as a union and SET as a full replacement.
func (e *Engine) foldGrants(ctx context.Context, t canon.Hash) ([]Grant, error) {
	hashes, err := e.store.ReverseLookup(ctx, t, refAccessGrant)
	if err != nil {
		return nil, err
	}
	type hashedGrant struct {
		Grant
		hash canon.Hash
	}
	grants := make([]hashedGrant, 0, len(hashes))
	for _, h := range hashes {
		data, err := e.store.GetByContentHash(h)
		if err != nil {
			if coreerr.Is(err, coreerr.KindNotFound) {
				continue
			}
			return nil, err
		}
		g, err := DecodeGrant(data)
		if err != nil {
			return nil, err
		}
		grants = append(grants, hashedGrant{Grant: g, hash: h})
	}
	sort.SliceStable(grants, func(i, j int) bool {
		if !grants[i].CreatedAt.Equal(grants[j].CreatedAt) {
			return grants[i].CreatedAt.Before(grants[j].CreatedAt)
		}
		return grants[i].hash.Hex() < grants[j].hash.Hex()
	})
	out := make([]Grant, len(grants))
	for i, g := range grants {
		out[i] = g.Grant
	}
	return out, nil
}

func (e *Engine) evaluate(ctx context.Context, person identity.PersonID, grants []Grant) (bool, error) {
	persons := map[identity.PersonID]bool{}
	groups := map[identity.GroupID]bool{}
	for _, g := range grants {
		switch g.Mode {
		case ModeSet:
			persons = map[identity.PersonID]bool{}
			groups = map[identity.GroupID]bool{}
			for _, p := range g.Persons {
				persons[p] = true
			}
			for _, gr := range g.Groups {
				groups[gr] = true
			}
		default: // ModeAdd, and any unrecognized mode treated as additive
			for _, p := range g.Persons {
				persons[p] = true
			}
			for _, gr := range g.Groups {
				groups[gr] = true
			}
		}
	}

	if persons[person] {
		return true, nil
	}
	if e.groups == nil {
		return false, nil
	}
	for name := range groups {
		grp, ok, err := e.groups.ResolveGroup(ctx, name)
		if err != nil {
			return false, err
		}
		if ok && grp.HasMember(person) {
			return true, nil
		}
	}
	return false, nil
}
