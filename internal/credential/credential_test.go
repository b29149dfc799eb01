package credential_test

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/credential"
	"github.com/lalith-99/coreoled/internal/identity"
)

// fakeSigner signs with a single fixed ed25519 key, standing in for
// *identity.Keychain so these tests don't need memguard-backed storage.
type fakeSigner struct {
	priv ed25519.PrivateKey
}

func newFakeSigner(t *testing.T) (fakeSigner, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return fakeSigner{priv: priv}, pub
}

func (f fakeSigner) Sign(_ identity.PersonID, data []byte) ([]byte, error) {
	return ed25519.Sign(f.priv, data), nil
}

func newManager(t *testing.T) (*credential.Manager, fakeSigner, ed25519.PublicKey) {
	t.Helper()
	signer, pub := newFakeSigner(t)
	mgr := credential.New(credential.NewMemStore(), signer, zap.NewNop())
	return mgr, signer, pub
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, _, pub := newManager(t)

	vc, err := mgr.Issue("alice@example.com", "bob@example.com", identity.NewInstanceID("bob@example.com", "phone"), pub, []string{"sync"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := mgr.Verify(ctx, vc); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	ctx := context.Background()
	mgr, _, pub := newManager(t)

	vc, err := mgr.Issue("alice@example.com", "bob@example.com", identity.NewInstanceID("bob@example.com", "phone"), pub, nil, -time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := mgr.Verify(ctx, vc); err == nil {
		t.Fatalf("expected Verify to reject an expired credential")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	ctx := context.Background()
	mgr, _, pub := newManager(t)

	vc, err := mgr.Issue("alice@example.com", "bob@example.com", identity.NewInstanceID("bob@example.com", "phone"), pub, nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	vc.Capabilities = []string{"admin"}
	if err := mgr.Verify(ctx, vc); err == nil {
		t.Fatalf("expected Verify to reject a credential with tampered fields")
	}
}

func TestRevokeMakesVerifyFail(t *testing.T) {
	ctx := context.Background()
	mgr, _, pub := newManager(t)

	vc, err := mgr.Issue("alice@example.com", "bob@example.com", identity.NewInstanceID("bob@example.com", "phone"), pub, nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := mgr.Verify(ctx, vc); err != nil {
		t.Fatalf("Verify before revoke: %v", err)
	}

	vcHash, err := vc.ContentHash()
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if _, err := mgr.Revoke(ctx, "alice@example.com", vcHash); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if err := mgr.Verify(ctx, vc); err == nil {
		t.Fatalf("expected Verify to reject a revoked credential")
	}
}

func TestTrustLevelDefaultsToDiscovered(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newManager(t)

	level, err := mgr.TrustLevelOf(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("TrustLevelOf: %v", err)
	}
	if level != credential.TrustDiscovered {
		t.Fatalf("expected default trust level Discovered, got %v", level)
	}

	canSync, err := mgr.CanSync(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("CanSync: %v", err)
	}
	if canSync {
		t.Fatalf("expected Discovered trust to lack sync privileges")
	}
}

func TestAcceptedTrustGrantsSync(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newManager(t)

	if err := mgr.SetTrust(ctx, "bob@example.com", credential.TrustAccepted); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}
	canSync, err := mgr.CanSync(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("CanSync: %v", err)
	}
	if !canSync {
		t.Fatalf("expected Accepted trust to grant sync privileges")
	}
}

func TestBlockedTrustDeniesSync(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newManager(t)

	if err := mgr.SetTrust(ctx, "bob@example.com", credential.TrustBlocked); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}
	canSync, err := mgr.CanSync(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("CanSync: %v", err)
	}
	if canSync {
		t.Fatalf("expected Blocked trust to deny sync privileges")
	}
}
