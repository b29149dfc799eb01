package quicvc_test

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/credential"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/transport/quicvc"
)

type fakeSigner struct{ priv ed25519.PrivateKey }

func (f fakeSigner) Sign(_ identity.PersonID, data []byte) ([]byte, error) {
	return ed25519.Sign(f.priv, data), nil
}

// fakeVerifier wraps a *credential.Manager with a fixed trust decision so
// tests can force Accepted or Blocked without a real acceptance flow.
type fakeVerifier struct {
	mgr   *credential.Manager
	trust credential.TrustLevel
}

func (v fakeVerifier) Verify(ctx context.Context, vc credential.VerifiableCredential) error {
	return v.mgr.Verify(ctx, vc)
}

func (v fakeVerifier) TrustLevelOf(context.Context, identity.PersonID) (credential.TrustLevel, error) {
	return v.trust, nil
}

func issueVC(t *testing.T, mgr *credential.Manager, issuer, subject identity.PersonID, pub ed25519.PublicKey) credential.VerifiableCredential {
	t.Helper()
	vc, err := mgr.Issue(issuer, subject, identity.NewInstanceID(subject, "test"), pub, []string{"sync"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return vc
}

func TestHandshakeEstablishesConnection(t *testing.T) {
	ctx := context.Background()
	clientTransport, serverTransport := quicvc.NewPipe()

	clientSigner := fakeSigner{}
	_, clientPriv, _ := ed25519.GenerateKey(nil)
	clientSigner.priv = clientPriv
	serverSigner := fakeSigner{}
	_, serverPriv, _ := ed25519.GenerateKey(nil)
	serverSigner.priv = serverPriv

	clientMgr := credential.New(credential.NewMemStore(), clientSigner, zap.NewNop())
	serverMgr := credential.New(credential.NewMemStore(), serverSigner, zap.NewNop())

	clientVC := issueVC(t, clientMgr, "alice@example.com", "alice@example.com", clientSigner.priv.Public().(ed25519.PublicKey))
	serverVC := issueVC(t, serverMgr, "bob@example.com", "bob@example.com", serverSigner.priv.Public().(ed25519.PublicKey))

	clientVerifier := fakeVerifier{mgr: clientMgr, trust: credential.TrustAccepted}
	serverVerifier := fakeVerifier{mgr: serverMgr, trust: credential.TrustAccepted}

	var wg sync.WaitGroup
	wg.Add(2)
	var clientConn, serverConn *quicvc.Conn
	var clientErr, serverErr error

	go func() {
		defer wg.Done()
		serverConn, serverErr = quicvc.Accept(ctx, serverTransport, serverVC, serverVerifier, zap.NewNop())
	}()
	go func() {
		defer wg.Done()
		clientConn, clientErr = quicvc.Dial(ctx, clientTransport, clientVC, clientVerifier, zap.NewNop())
	}()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("Dial: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("Accept: %v", serverErr)
	}
	if clientConn.State() != quicvc.StateEstablished {
		t.Fatalf("expected client Established, got %v", clientConn.State())
	}
	if serverConn.State() != quicvc.StateEstablished {
		t.Fatalf("expected server Established, got %v", serverConn.State())
	}
	if serverConn.RemoteVC().Issuer != "alice@example.com" {
		t.Fatalf("server did not capture client's credential")
	}
}

func TestHandshakeRejectsBlockedIssuer(t *testing.T) {
	ctx := context.Background()
	clientTransport, serverTransport := quicvc.NewPipe()

	_, clientPriv, _ := ed25519.GenerateKey(nil)
	_, serverPriv, _ := ed25519.GenerateKey(nil)
	clientSigner := fakeSigner{priv: clientPriv}
	serverSigner := fakeSigner{priv: serverPriv}

	clientMgr := credential.New(credential.NewMemStore(), clientSigner, zap.NewNop())
	serverMgr := credential.New(credential.NewMemStore(), serverSigner, zap.NewNop())

	clientVC := issueVC(t, clientMgr, "alice@example.com", "alice@example.com", clientPriv.Public().(ed25519.PublicKey))
	serverVC := issueVC(t, serverMgr, "bob@example.com", "bob@example.com", serverPriv.Public().(ed25519.PublicKey))

	// The server blocks alice: Accept must fail even though the signature
	// and expiry are both valid.
	serverVerifier := fakeVerifier{mgr: serverMgr, trust: credential.TrustBlocked}
	clientVerifier := fakeVerifier{mgr: clientMgr, trust: credential.TrustAccepted}

	var wg sync.WaitGroup
	wg.Add(2)
	var serverErr error
	go func() {
		defer wg.Done()
		_, serverErr = quicvc.Accept(ctx, serverTransport, serverVC, serverVerifier, zap.NewNop())
	}()
	go func() {
		defer wg.Done()
		_, _ = quicvc.Dial(ctx, clientTransport, clientVC, clientVerifier, zap.NewNop())
	}()
	wg.Wait()

	if serverErr == nil {
		t.Fatalf("expected Accept to reject a blocked issuer")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	ctx := context.Background()
	clientTransport, serverTransport := quicvc.NewPipe()

	_, clientPriv, _ := ed25519.GenerateKey(nil)
	_, serverPriv, _ := ed25519.GenerateKey(nil)
	clientSigner := fakeSigner{priv: clientPriv}
	serverSigner := fakeSigner{priv: serverPriv}
	clientMgr := credential.New(credential.NewMemStore(), clientSigner, zap.NewNop())
	serverMgr := credential.New(credential.NewMemStore(), serverSigner, zap.NewNop())
	clientVC := issueVC(t, clientMgr, "alice@example.com", "alice@example.com", clientPriv.Public().(ed25519.PublicKey))
	serverVC := issueVC(t, serverMgr, "bob@example.com", "bob@example.com", serverPriv.Public().(ed25519.PublicKey))
	clientVerifier := fakeVerifier{mgr: clientMgr, trust: credential.TrustAccepted}
	serverVerifier := fakeVerifier{mgr: serverMgr, trust: credential.TrustAccepted}

	var wg sync.WaitGroup
	wg.Add(2)
	var clientConn, serverConn *quicvc.Conn
	go func() {
		defer wg.Done()
		serverConn, _ = quicvc.Accept(ctx, serverTransport, serverVC, serverVerifier, zap.NewNop())
	}()
	go func() {
		defer wg.Done()
		clientConn, _ = quicvc.Dial(ctx, clientTransport, clientVC, clientVerifier, zap.NewNop())
	}()
	wg.Wait()
	if clientConn == nil || serverConn == nil {
		t.Fatalf("handshake did not complete")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	received := make(chan []byte, 1)
	go serverConn.Run(runCtx, func(b []byte) { received <- b })
	go clientConn.Run(runCtx, func([]byte) {})

	if err := clientConn.SendStream([]byte("hello")); err != nil {
		t.Fatalf("SendStream: %v", err)
	}

	select {
	case b := <-received:
		if string(b) != "hello" {
			t.Fatalf("expected 'hello', got %q", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream frame")
	}
}

// TestStreamSurvivesPacketNumberWraparound sends more than 256 STREAM
// frames over one connection — one more than the wire's 1-byte truncated
// packet number can represent on its own — and checks every single one is
// still delivered. A connection that used the truncated byte directly as
// the AEAD/replay packet number would repeat nonces every 256 packets and
// have its replay window start rejecting everything once the reconstructed
// sequence wrapped.
func TestStreamSurvivesPacketNumberWraparound(t *testing.T) {
	ctx := context.Background()
	clientTransport, serverTransport := quicvc.NewPipe()

	_, clientPriv, _ := ed25519.GenerateKey(nil)
	_, serverPriv, _ := ed25519.GenerateKey(nil)
	clientSigner := fakeSigner{priv: clientPriv}
	serverSigner := fakeSigner{priv: serverPriv}
	clientMgr := credential.New(credential.NewMemStore(), clientSigner, zap.NewNop())
	serverMgr := credential.New(credential.NewMemStore(), serverSigner, zap.NewNop())
	clientVC := issueVC(t, clientMgr, "alice@example.com", "alice@example.com", clientPriv.Public().(ed25519.PublicKey))
	serverVC := issueVC(t, serverMgr, "bob@example.com", "bob@example.com", serverPriv.Public().(ed25519.PublicKey))
	clientVerifier := fakeVerifier{mgr: clientMgr, trust: credential.TrustAccepted}
	serverVerifier := fakeVerifier{mgr: serverMgr, trust: credential.TrustAccepted}

	var wg sync.WaitGroup
	wg.Add(2)
	var clientConn, serverConn *quicvc.Conn
	go func() {
		defer wg.Done()
		serverConn, _ = quicvc.Accept(ctx, serverTransport, serverVC, serverVerifier, zap.NewNop())
	}()
	go func() {
		defer wg.Done()
		clientConn, _ = quicvc.Dial(ctx, clientTransport, clientVC, clientVerifier, zap.NewNop())
	}()
	wg.Wait()
	if clientConn == nil || serverConn == nil {
		t.Fatalf("handshake did not complete")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	const count = 300
	received := make(chan []byte, count)
	go serverConn.Run(runCtx, func(b []byte) { received <- b })
	go clientConn.Run(runCtx, func([]byte) {})

	for i := 0; i < count; i++ {
		if err := clientConn.SendStream([]byte{byte(i), byte(i >> 8)}); err != nil {
			t.Fatalf("SendStream #%d: %v", i, err)
		}
	}

	for i := 0; i < count; i++ {
		select {
		case b := <-received:
			want := []byte{byte(i), byte(i >> 8)}
			if string(b) != string(want) {
				t.Fatalf("frame %d: expected %v, got %v", i, want, b)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d of %d", i, count)
		}
	}
}
