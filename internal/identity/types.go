// Package identity implements the Person/Instance/Keys data model and the
// signing primitives of spec.md §4.3. Key material never leaves local
// memory: it is held in memguard locked buffers and is never a field on
// any object that gets content-hashed or synced over CHUM.
package identity

import (
	"time"

	"github.com/lalith-99/coreoled/internal/canon"
)

// PersonID identifies a Person by their email — the single identity field
// of the versioned Person object (spec.md §3). Using the email directly as
// the everyday identifier (rather than forcing every caller through a hash
// lookup) keeps channel ownership, grants, and messages readable while the
// Person object itself is still properly content-addressed.
type PersonID string

// InstanceID identifies a running process belonging to a Person.
type InstanceID string

// GroupID identifies a Group by its name — the single identity field of
// the versioned Group object.
type GroupID string

// ProfileID disambiguates multiple profiles a Person may have.
type ProfileID string

// SomeoneID identifies a contact-book entry.
type SomeoneID string

func NewInstanceID(owner PersonID, name string) InstanceID {
	return InstanceID(string(owner) + "/" + name)
}

// Person is the global identity, one per human or AI persona. Versioned;
// identity is the email alone, so re-storing a Person with a new display
// context never changes who they are.
type Person struct {
	Email     PersonID
	CreatedAt time.Time
	PrevHash  *canon.Hash
}

func (p Person) CanonType() string { return "Person" }
func (p Person) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "Email", Identity: true, Value: string(p.Email)},
		{Name: "CreatedAt", Value: p.CreatedAt},
		{Name: "PrevHash", Value: p.PrevHash},
	}
}

func DecodePerson(b []byte) (Person, error) {
	r := canon.NewReader(b)
	email, err := r.String()
	if err != nil {
		return Person{}, err
	}
	ts, err := r.Time()
	if err != nil {
		return Person{}, err
	}
	prev, err := r.OptionalHash()
	if err != nil {
		return Person{}, err
	}
	return Person{Email: PersonID(email), CreatedAt: ts, PrevHash: prev}, nil
}

// Instance is a running process belonging to a Person. Identity is
// {owner, name}.
type Instance struct {
	Owner     PersonID
	Name      string
	CreatedAt time.Time
	PrevHash  *canon.Hash
}

func (i Instance) CanonType() string { return "Instance" }
func (i Instance) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "Owner", Identity: true, Value: string(i.Owner)},
		{Name: "Name", Identity: true, Value: i.Name},
		{Name: "CreatedAt", Value: i.CreatedAt},
		{Name: "PrevHash", Value: i.PrevHash},
	}
}

func DecodeInstance(b []byte) (Instance, error) {
	r := canon.NewReader(b)
	owner, err := r.String()
	if err != nil {
		return Instance{}, err
	}
	name, err := r.String()
	if err != nil {
		return Instance{}, err
	}
	ts, err := r.Time()
	if err != nil {
		return Instance{}, err
	}
	prev, err := r.OptionalHash()
	if err != nil {
		return Instance{}, err
	}
	return Instance{Owner: PersonID(owner), Name: name, CreatedAt: ts, PrevHash: prev}, nil
}

// Keys holds only PUBLIC key material. Unversioned — a new key pair is a
// new object, never a new version of an old one. Private key bytes live
// exclusively in the in-memory keychain (keychain.go), never here: "Key
// storage is local-only and never exported via CHUM" (spec.md §4.3).
type Keys struct {
	SignPublicKey    []byte
	EncryptPublicKey []byte
	CreatedAt        time.Time
}

func (k Keys) CanonType() string { return "Keys" }
func (k Keys) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "SignPublicKey", Value: k.SignPublicKey},
		{Name: "EncryptPublicKey", Value: k.EncryptPublicKey},
		{Name: "CreatedAt", Value: k.CreatedAt},
	}
}

func DecodeKeys(b []byte) (Keys, error) {
	r := canon.NewReader(b)
	sign, err := r.HexBytes()
	if err != nil {
		return Keys{}, err
	}
	enc, err := r.HexBytes()
	if err != nil {
		return Keys{}, err
	}
	ts, err := r.Time()
	if err != nil {
		return Keys{}, err
	}
	return Keys{SignPublicKey: sign, EncryptPublicKey: enc, CreatedAt: ts}, nil
}

// Profile is descriptive data about a Person, authored by another Person
// (or themselves). Identity is {personId, owner, profileId}.
type Profile struct {
	PersonID    PersonID
	Owner       PersonID
	ProfileID   ProfileID
	DisplayName string
	Endpoints   []string
	IsMain      bool
	PrevHash    *canon.Hash
}

func (p Profile) CanonType() string { return "Profile" }
func (p Profile) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "PersonID", Identity: true, Value: string(p.PersonID)},
		{Name: "Owner", Identity: true, Value: string(p.Owner)},
		{Name: "ProfileID", Identity: true, Value: string(p.ProfileID)},
		{Name: "DisplayName", Value: p.DisplayName},
		{Name: "Endpoints", Value: p.Endpoints},
		{Name: "IsMain", Value: p.IsMain},
		{Name: "PrevHash", Value: p.PrevHash},
	}
}

func DecodeProfile(b []byte) (Profile, error) {
	r := canon.NewReader(b)
	person, err := r.String()
	if err != nil {
		return Profile{}, err
	}
	owner, err := r.String()
	if err != nil {
		return Profile{}, err
	}
	pid, err := r.String()
	if err != nil {
		return Profile{}, err
	}
	name, err := r.String()
	if err != nil {
		return Profile{}, err
	}
	endpoints, err := r.StringSlice()
	if err != nil {
		return Profile{}, err
	}
	isMain, err := r.Bool()
	if err != nil {
		return Profile{}, err
	}
	prev, err := r.OptionalHash()
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		PersonID: PersonID(person), Owner: PersonID(owner), ProfileID: ProfileID(pid),
		DisplayName: name, Endpoints: endpoints, IsMain: isMain, PrevHash: prev,
	}, nil
}

// Someone aggregates identities (a main Person plus alternates) and their
// profiles into one contact-book entry.
type Someone struct {
	SomeoneID SomeoneID
	MainID    PersonID
	Alternate []PersonID
	Profiles  []canon.Hash
	PrevHash  *canon.Hash
}

func (s Someone) CanonType() string { return "Someone" }
func (s Someone) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "SomeoneID", Identity: true, Value: string(s.SomeoneID)},
		{Name: "MainID", Value: string(s.MainID)},
		{Name: "Alternate", Value: personIDsToStrings(s.Alternate)},
		{Name: "Profiles", Value: s.Profiles},
		{Name: "PrevHash", Value: s.PrevHash},
	}
}

func personIDsToStrings(ids []PersonID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func DecodeSomeone(b []byte) (Someone, error) {
	r := canon.NewReader(b)
	id, err := r.String()
	if err != nil {
		return Someone{}, err
	}
	main, err := r.String()
	if err != nil {
		return Someone{}, err
	}
	alt, err := r.StringSlice()
	if err != nil {
		return Someone{}, err
	}
	profiles, err := r.HashSlice()
	if err != nil {
		return Someone{}, err
	}
	prev, err := r.OptionalHash()
	if err != nil {
		return Someone{}, err
	}
	alternates := make([]PersonID, len(alt))
	for i, a := range alt {
		alternates[i] = PersonID(a)
	}
	return Someone{SomeoneID: SomeoneID(id), MainID: PersonID(main), Alternate: alternates, Profiles: profiles, PrevHash: prev}, nil
}

// Leute is the singleton contact book: me, other contacts, and groups.
type Leute struct {
	AppID    string
	Me       SomeoneID
	Other    []SomeoneID
	Groups   []GroupID
	PrevHash *canon.Hash
}

func (l Leute) CanonType() string { return "Leute" }
func (l Leute) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "AppID", Identity: true, Value: l.AppID},
		{Name: "Me", Value: string(l.Me)},
		{Name: "Other", Value: someoneIDsToStrings(l.Other)},
		{Name: "Groups", Value: groupIDsToStrings(l.Groups)},
		{Name: "PrevHash", Value: l.PrevHash},
	}
}

func someoneIDsToStrings(ids []SomeoneID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func groupIDsToStrings(ids []GroupID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func DecodeLeute(b []byte) (Leute, error) {
	r := canon.NewReader(b)
	appID, err := r.String()
	if err != nil {
		return Leute{}, err
	}
	me, err := r.String()
	if err != nil {
		return Leute{}, err
	}
	other, err := r.StringSlice()
	if err != nil {
		return Leute{}, err
	}
	groups, err := r.StringSlice()
	if err != nil {
		return Leute{}, err
	}
	prev, err := r.OptionalHash()
	if err != nil {
		return Leute{}, err
	}
	others := make([]SomeoneID, len(other))
	for i, o := range other {
		others[i] = SomeoneID(o)
	}
	gs := make([]GroupID, len(groups))
	for i, g := range groups {
		gs[i] = GroupID(g)
	}
	return Leute{AppID: appID, Me: SomeoneID(me), Other: others, Groups: gs, PrevHash: prev}, nil
}

// Group is an ordered list of Person members, addressed by name. Per
// spec.md §9, a Group is never synced — only grants referencing its id
// hash are. Members live in a non-identity field so the id hash (over Name
// alone) stays stable while membership changes across versions.
//
// Group values are treated as immutable: AddMember-style operations build
// a new Group with a new backing slice rather than mutating Members in
// place (the "frozen-array pitfall" in spec.md §9 this sidesteps).
type Group struct {
	Name     GroupID
	Members  []PersonID
	PrevHash *canon.Hash
}

func (g Group) CanonType() string { return "Group" }
func (g Group) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "Name", Identity: true, Value: string(g.Name)},
		{Name: "Members", Value: personIDsToStrings(g.Members)},
		{Name: "PrevHash", Value: g.PrevHash},
	}
}

// WithMember returns a new Group containing member appended, leaving g and
// its Members slice untouched.
func (g Group) WithMember(p PersonID) Group {
	next := make([]PersonID, 0, len(g.Members)+1)
	next = append(next, g.Members...)
	for _, m := range g.Members {
		if m == p {
			return g
		}
	}
	next = append(next, p)
	return Group{Name: g.Name, Members: next}
}

func (g Group) HasMember(p PersonID) bool {
	for _, m := range g.Members {
		if m == p {
			return true
		}
	}
	return false
}

func DecodeGroup(b []byte) (Group, error) {
	r := canon.NewReader(b)
	name, err := r.String()
	if err != nil {
		return Group{}, err
	}
	members, err := r.StringSlice()
	if err != nil {
		return Group{}, err
	}
	prev, err := r.OptionalHash()
	if err != nil {
		return Group{}, err
	}
	m := make([]PersonID, len(members))
	for i, v := range members {
		m[i] = PersonID(v)
	}
	return Group{Name: GroupID(name), Members: m, PrevHash: prev}, nil
}
