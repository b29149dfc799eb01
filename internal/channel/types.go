// Package channel implements the Channel Manager (spec.md §4.8): a
// per-owner append log of content-addressed entries, merged across every
// owner readable on a channel id into a single deterministic stream.
package channel

import (
	"time"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/identity"
)

// ChatMessage is the payload of one appended message, stored unversioned —
// distinct text/sender/attachments always produce a distinct hash. Matches
// spec.md §3's `{text, sender: PersonId, attachments?}`.
type ChatMessage struct {
	Text        string
	Sender      identity.PersonID
	Attachments []canon.Hash
}

func (c ChatMessage) CanonType() string { return "ChatMessage" }
func (c ChatMessage) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "Text", Value: c.Text},
		{Name: "Sender", Value: string(c.Sender)},
		{Name: "Attachments", Value: c.Attachments},
	}
}

func DecodeChatMessage(b []byte) (ChatMessage, error) {
	r := canon.NewReader(b)
	text, err := r.String()
	if err != nil {
		return ChatMessage{}, err
	}
	sender, err := r.String()
	if err != nil {
		return ChatMessage{}, err
	}
	attachments, err := r.HashSlice()
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{Text: text, Sender: identity.PersonID(sender), Attachments: attachments}, nil
}

// CreationTime stamps a ChatMessage with the time it was appended, kept
// as its own unversioned object so the timestamp is itself
// content-addressed and syncable independently of the entry that cites it.
type CreationTime struct {
	DataHash  canon.Hash
	Timestamp time.Time
}

func (c CreationTime) CanonType() string { return "CreationTime" }
func (c CreationTime) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "DataHash", Value: c.DataHash},
		{Name: "Timestamp", Value: c.Timestamp},
	}
}

func DecodeCreationTime(b []byte) (CreationTime, error) {
	r := canon.NewReader(b)
	h, err := r.Hash()
	if err != nil {
		return CreationTime{}, err
	}
	ts, err := r.Time()
	if err != nil {
		return CreationTime{}, err
	}
	return CreationTime{DataHash: h, Timestamp: ts}, nil
}

// Entry links one append into its owner's chain: Prev is the entry hash
// that was this channel's head at append time (nil for the first entry).
// Unversioned — once appended an entry never changes.
type Entry struct {
	ChannelID        string
	Owner            identity.PersonID
	CreationTimeHash canon.Hash
	Prev             *canon.Hash
}

func (e Entry) CanonType() string { return "ChannelEntry" }
func (e Entry) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "ChannelID", Value: e.ChannelID},
		{Name: "Owner", Value: string(e.Owner)},
		{Name: "CreationTimeHash", Value: e.CreationTimeHash},
		{Name: "Prev", Value: e.Prev},
	}
}

func DecodeEntry(b []byte) (Entry, error) {
	r := canon.NewReader(b)
	channelID, err := r.String()
	if err != nil {
		return Entry{}, err
	}
	owner, err := r.String()
	if err != nil {
		return Entry{}, err
	}
	ctHash, err := r.Hash()
	if err != nil {
		return Entry{}, err
	}
	prev, err := r.OptionalHash()
	if err != nil {
		return Entry{}, err
	}
	return Entry{ChannelID: channelID, Owner: identity.PersonID(owner), CreationTimeHash: ctHash, Prev: prev}, nil
}

// Info is the versioned per-owner channel head: its identity is
// {ChannelID, Owner}, so createChannel is naturally idempotent on that
// pair and each owner's writes live on their own version chain
// (spec.md §4.8 "per-participant write channel").
type Info struct {
	ChannelID     string
	Owner         identity.PersonID
	HeadEntryHash *canon.Hash
	PrevHash      *canon.Hash
}

func (i Info) CanonType() string { return "ChannelInfo" }
func (i Info) CanonRecipe() []canon.Field {
	return []canon.Field{
		{Name: "ChannelID", Identity: true, Value: i.ChannelID},
		{Name: "Owner", Identity: true, Value: string(i.Owner)},
		{Name: "HeadEntryHash", Value: i.HeadEntryHash},
		{Name: "PrevHash", Value: i.PrevHash},
	}
}

func DecodeInfo(b []byte) (Info, error) {
	r := canon.NewReader(b)
	channelID, err := r.String()
	if err != nil {
		return Info{}, err
	}
	owner, err := r.String()
	if err != nil {
		return Info{}, err
	}
	head, err := r.OptionalHash()
	if err != nil {
		return Info{}, err
	}
	prev, err := r.OptionalHash()
	if err != nil {
		return Info{}, err
	}
	return Info{ChannelID: channelID, Owner: identity.PersonID(owner), HeadEntryHash: head, PrevHash: prev}, nil
}

// IDHash computes a ChannelInfo's id hash for (channelID, owner) without
// needing a HeadEntryHash/PrevHash value, since neither participates in
// identity.
func IDHash(channelID string, owner identity.PersonID) (canon.Hash, error) {
	return canon.IDHash(Info{ChannelID: channelID, Owner: owner})
}
