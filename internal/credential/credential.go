// Package credential implements the Credential Manager of spec.md §4.4:
// issuing, verifying, and revoking Verifiable Credentials, plus the
// Discovered/Accepted/Blocked trust ladder that gates CHUM sync privileges.
// Trust state lives behind the Store interface, backed by Postgres in
// production (store_postgres.go), following the same *Store-over-pgxpool
// shape as internal/repository/postgres/user.go.
package credential

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/coreerr"
	"github.com/lalith-99/coreoled/internal/identity"
)

// TrustLevel is the ladder a Person's credentials climb from first contact
// to full sync privileges (spec.md §4.4).
type TrustLevel string

const (
	TrustDiscovered TrustLevel = "discovered"
	TrustAccepted   TrustLevel = "accepted"
	TrustBlocked    TrustLevel = "blocked"
)

// VerifiableCredential is unversioned: a new VC is always a new object, and
// issuer/subject/capabilities/expiry are immutable once signed.
type VerifiableCredential struct {
	Issuer       identity.PersonID
	Subject      identity.PersonID
	InstanceID   identity.InstanceID
	PublicKey    []byte
	Capabilities []string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Signature    []byte
}

func (v VerifiableCredential) CanonType() string { return "VerifiableCredential" }

// signedFields is everything the signature covers — the Signature field
// itself is excluded, matching the teacher's claims-minus-signature JWT
// shape in internal/auth/jwt.go.
func (v VerifiableCredential) signedFields() []canon.Field {
	return []canon.Field{
		{Name: "Issuer", Value: string(v.Issuer)},
		{Name: "Subject", Value: string(v.Subject)},
		{Name: "InstanceID", Value: string(v.InstanceID)},
		{Name: "PublicKey", Value: v.PublicKey},
		{Name: "Capabilities", Value: v.Capabilities},
		{Name: "IssuedAt", Value: v.IssuedAt},
		{Name: "ExpiresAt", Value: v.ExpiresAt},
	}
}

func (v VerifiableCredential) CanonRecipe() []canon.Field {
	return append(v.signedFields(), canon.Field{Name: "Signature", Value: v.Signature})
}

func DecodeVC(b []byte) (VerifiableCredential, error) {
	r := canon.NewReader(b)
	issuer, err := r.String()
	if err != nil {
		return VerifiableCredential{}, err
	}
	subject, err := r.String()
	if err != nil {
		return VerifiableCredential{}, err
	}
	instance, err := r.String()
	if err != nil {
		return VerifiableCredential{}, err
	}
	pub, err := r.HexBytes()
	if err != nil {
		return VerifiableCredential{}, err
	}
	caps, err := r.StringSlice()
	if err != nil {
		return VerifiableCredential{}, err
	}
	issuedAt, err := r.Time()
	if err != nil {
		return VerifiableCredential{}, err
	}
	expiresAt, err := r.Time()
	if err != nil {
		return VerifiableCredential{}, err
	}
	sig, err := r.HexBytes()
	if err != nil {
		return VerifiableCredential{}, err
	}
	return VerifiableCredential{
		Issuer: identity.PersonID(issuer), Subject: identity.PersonID(subject),
		InstanceID: identity.InstanceID(instance), PublicKey: pub, Capabilities: caps,
		IssuedAt: issuedAt, ExpiresAt: expiresAt, Signature: sig,
	}, nil
}

// ContentHash is the VC's content hash — what a Revocation references.
func (v VerifiableCredential) ContentHash() (canon.Hash, error) {
	return canon.ContentHash(v)
}

// Revocation is a signed object referencing a VC's content hash. Presence
// of a valid Revocation revokes the credential outright (spec.md §4.4).
type Revocation struct {
	VCHash    canon.Hash
	Revoker   identity.PersonID
	CreatedAt time.Time
	Signature []byte
}

func (r Revocation) CanonType() string { return "Revocation" }
func (r Revocation) signedFields() []canon.Field {
	return []canon.Field{
		{Name: "VCHash", Value: r.VCHash},
		{Name: "Revoker", Value: string(r.Revoker)},
		{Name: "CreatedAt", Value: r.CreatedAt},
	}
}
func (r Revocation) CanonRecipe() []canon.Field {
	return append(r.signedFields(), canon.Field{Name: "Signature", Value: r.Signature})
}

func DecodeRevocation(b []byte) (Revocation, error) {
	r2 := canon.NewReader(b)
	vcHash, err := r2.Hash()
	if err != nil {
		return Revocation{}, err
	}
	revoker, err := r2.String()
	if err != nil {
		return Revocation{}, err
	}
	createdAt, err := r2.Time()
	if err != nil {
		return Revocation{}, err
	}
	sig, err := r2.HexBytes()
	if err != nil {
		return Revocation{}, err
	}
	return Revocation{VCHash: vcHash, Revoker: identity.PersonID(revoker), CreatedAt: createdAt, Signature: sig}, nil
}

// Signer mints signatures for a Person's sign key — satisfied by
// *identity.Keychain.
type Signer interface {
	Sign(person identity.PersonID, data []byte) ([]byte, error)
}

// signedView adapts a bare field list to canon.Recipe so the
// signature-covered subset of a VC or Revocation can be serialized without
// also serializing the Signature field itself.
type signedView struct {
	canonType string
	fields    []canon.Field
}

func (s signedView) CanonType() string          { return s.canonType }
func (s signedView) CanonRecipe() []canon.Field { return s.fields }

// Store is the revocation + trust persistence dependency the Manager
// needs. *PostgresStore satisfies this; tests substitute an in-memory
// fake, the same way objectstore.Index lets Store tests skip a live
// Postgres connection.
type Store interface {
	RecordRevocation(ctx context.Context, vcHash canon.Hash, revoker identity.PersonID, createdAt time.Time) error
	IsRevoked(ctx context.Context, vcHash canon.Hash) (bool, error)
	SetTrust(ctx context.Context, subject identity.PersonID, level TrustLevel) error
	TrustLevelOf(ctx context.Context, subject identity.PersonID) (TrustLevel, bool, error)
}

// Manager issues, verifies, and revokes VCs, and tracks per-subject trust.
type Manager struct {
	store  Store
	signer Signer
	logger *zap.Logger
}

func New(store Store, signer Signer, logger *zap.Logger) *Manager {
	return &Manager{store: store, signer: signer, logger: logger}
}

// Issue populates a VC and signs it with the issuer's key.
func (m *Manager) Issue(issuer, subject identity.PersonID, instance identity.InstanceID, publicKey []byte, capabilities []string, ttl time.Duration) (VerifiableCredential, error) {
	now := time.Now()
	vc := VerifiableCredential{
		Issuer: issuer, Subject: subject, InstanceID: instance, PublicKey: publicKey,
		Capabilities: capabilities, IssuedAt: now, ExpiresAt: now.Add(ttl),
	}
	signed, err := canon.Serialize(signedView{vc.CanonType(), vc.signedFields()})
	if err != nil {
		return VerifiableCredential{}, coreerr.New("credential.Issue", coreerr.KindInvalidCredential, err)
	}
	sig, err := m.signer.Sign(issuer, signed)
	if err != nil {
		return VerifiableCredential{}, coreerr.New("credential.Issue", coreerr.KindInvalidCredential, err)
	}
	vc.Signature = sig
	return vc, nil
}

// Verify checks the VC's signature against its embedded public key,
// confirms it has not expired, and checks revocation. It does not check
// issuer trust — callers combine Verify with TrustLevel for that (spec.md
// §4.4 "checks signature ... expiresAt, and optionally checks revocation").
func (m *Manager) Verify(ctx context.Context, vc VerifiableCredential) error {
	signed, err := canon.Serialize(signedView{vc.CanonType(), vc.signedFields()})
	if err != nil {
		return coreerr.New("credential.Verify", coreerr.KindInvalidCredential, err)
	}
	if len(vc.PublicKey) != ed25519.PublicKeySize || !ed25519.Verify(vc.PublicKey, signed, vc.Signature) {
		return coreerr.New("credential.Verify", coreerr.KindInvalidCredential, fmt.Errorf("signature mismatch"))
	}
	if time.Now().After(vc.ExpiresAt) {
		return coreerr.New("credential.Verify", coreerr.KindInvalidCredential, fmt.Errorf("credential expired at %s", vc.ExpiresAt))
	}
	vcHash, err := vc.ContentHash()
	if err != nil {
		return coreerr.New("credential.Verify", coreerr.KindInvalidCredential, err)
	}
	revoked, err := m.store.IsRevoked(ctx, vcHash)
	if err != nil {
		return coreerr.New("credential.Verify", coreerr.KindConflict, err)
	}
	if revoked {
		return coreerr.WithHash("credential.Verify", coreerr.KindInvalidCredential, vcHash.Hex(), fmt.Errorf("credential revoked"))
	}
	return nil
}

// Revoke signs and records a Revocation for vcHash. Its mere presence
// revokes the credential for every future Verify call.
func (m *Manager) Revoke(ctx context.Context, revoker identity.PersonID, vcHash canon.Hash) (Revocation, error) {
	rev := Revocation{VCHash: vcHash, Revoker: revoker, CreatedAt: time.Now()}
	signed, err := canon.Serialize(signedView{rev.CanonType(), rev.signedFields()})
	if err != nil {
		return Revocation{}, coreerr.New("credential.Revoke", coreerr.KindInvalidCredential, err)
	}
	sig, err := m.signer.Sign(revoker, signed)
	if err != nil {
		return Revocation{}, coreerr.New("credential.Revoke", coreerr.KindInvalidCredential, err)
	}
	rev.Signature = sig

	if err := m.store.RecordRevocation(ctx, vcHash, revoker, rev.CreatedAt); err != nil {
		return Revocation{}, coreerr.New("credential.Revoke", coreerr.KindConflict, err)
	}
	return rev, nil
}

// SetTrust records subject's trust level — Discovered on first valid VC,
// Accepted once the local user issues an Acceptance VC, Blocked on explicit
// user action. Sync privileges over CHUM are gated on Accepted.
func (m *Manager) SetTrust(ctx context.Context, subject identity.PersonID, level TrustLevel) error {
	if err := m.store.SetTrust(ctx, subject, level); err != nil {
		return coreerr.New("credential.SetTrust", coreerr.KindConflict, err)
	}
	return nil
}

// TrustLevelOf returns subject's trust level, defaulting to Discovered if
// no state has been recorded (a VC was verified but never explicitly
// accepted or blocked).
func (m *Manager) TrustLevelOf(ctx context.Context, subject identity.PersonID) (TrustLevel, error) {
	level, found, err := m.store.TrustLevelOf(ctx, subject)
	if err != nil {
		return "", coreerr.New("credential.TrustLevelOf", coreerr.KindConflict, err)
	}
	if !found {
		return TrustDiscovered, nil
	}
	return level, nil
}

// CanSync reports whether subject currently has sync privileges — gated on
// Accepted trust, never on Discovered or Blocked (spec.md §4.4).
func (m *Manager) CanSync(ctx context.Context, subject identity.PersonID) (bool, error) {
	level, err := m.TrustLevelOf(ctx, subject)
	if err != nil {
		return false, err
	}
	return level == TrustAccepted, nil
}
