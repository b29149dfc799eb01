package chum_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/access"
	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/chum"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

// pipeConn is an in-memory chum.Conn pair, used so tests don't need a
// real transport to exercise the protocol loop.
type pipeConn struct {
	out chan []byte
	in  chan []byte
}

func newPipeConns() (*pipeConn, *pipeConn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	return &pipeConn{out: ab, in: ba}, &pipeConn{out: ba, in: ab}
}

func (p *pipeConn) SendStream(b []byte) error {
	cp := append([]byte(nil), b...)
	p.out <- cp
	return nil
}

func (p *pipeConn) Run(ctx context.Context, onStream func([]byte)) error {
	for {
		select {
		case b := <-p.in:
			onStream(b)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type blob struct{ data []byte }

func (b blob) CanonType() string { return "TestBlob" }
func (b blob) CanonRecipe() []canon.Field {
	return []canon.Field{{Name: "data", Value: b.data}}
}

type fakeGroupResolver struct{}

func (fakeGroupResolver) ResolveGroup(context.Context, identity.GroupID) (identity.Group, bool, error) {
	return identity.Group{}, false, nil
}

func newTestEngine(t *testing.T) (*access.Engine, *objectstore.Store) {
	t.Helper()
	store, err := objectstore.New(t.TempDir(), objectstore.NewMemIndex(), zap.NewNop())
	if err != nil {
		t.Fatalf("objectstore.New: %v", err)
	}
	eng := access.New(store, fakeGroupResolver{}, nil, zap.NewNop())
	return eng, store
}

func recvWithin(t *testing.T, ch chan []byte, d time.Duration) ([]byte, bool) {
	t.Helper()
	select {
	case b := <-ch:
		return b, true
	case <-time.After(d):
		return nil, false
	}
}

func TestExportAnnouncesOnlyToAuthorizedPeer(t *testing.T) {
	ctx := context.Background()
	accessEngine, store := newTestEngine(t)

	alice := identity.PersonID("alice@example.com")
	bob := identity.PersonID("bob@example.com")

	objHash, err := store.StoreUnversioned(blob{data: []byte("secret message")})
	if err != nil {
		t.Fatalf("StoreUnversioned: %v", err)
	}
	if _, err := accessEngine.Grant(ctx, objHash, []identity.PersonID{alice}, nil, access.ModeAdd); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	engine := chum.New(store, accessEngine, zap.NewNop())

	serverSideToAlice, wireToAlice := newPipeConns()
	serverSideToBob, wireToBob := newPipeConns()
	engine.AddSession(alice, serverSideToAlice)
	engine.AddSession(bob, serverSideToBob)

	engine.NotifyWrite(ctx, objHash)

	msg, ok := recvWithin(t, wireToAlice.in, time.Second)
	if !ok {
		t.Fatalf("expected an ANNOUNCE to alice")
	}
	typ, payload, err := chum.DecodeMessage(msg)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if typ != chum.MsgAnnounce {
		t.Fatalf("expected MsgAnnounce, got %v", typ)
	}
	hashes, err := chum.DecodeHashes(payload)
	if err != nil {
		t.Fatalf("DecodeHashes: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != objHash {
		t.Fatalf("expected announce of %v, got %v", objHash, hashes)
	}

	if _, ok := recvWithin(t, wireToBob.in, 200*time.Millisecond); ok {
		t.Fatalf("expected no announce to an unauthorized peer")
	}
}

// driveImporter answers ANNOUNCE with REQUEST for every hash offered,
// simulating the import side of the protocol without a full Session.
func driveImporter(t *testing.T, wire *pipeConn, store *objectstore.Store, receivedObjects chan []byte) {
	t.Helper()
	go func() {
		for msg := range wire.in {
			typ, payload, err := chum.DecodeMessage(msg)
			if err != nil {
				continue
			}
			switch typ {
			case chum.MsgAnnounce:
				hashes, err := chum.DecodeHashes(payload)
				if err != nil {
					continue
				}
				wire.SendStream(chum.EncodeMessage(chum.MsgRequest, chum.EncodeHashes(hashes)))
			case chum.MsgObject:
				_, data, err := chum.DecodeObject(payload)
				if err == nil {
					receivedObjects <- data
				}
			}
		}
	}()
}

func TestRequestRoundTripServesAnnouncedObject(t *testing.T) {
	ctx := context.Background()
	accessEngine, store := newTestEngine(t)
	alice := identity.PersonID("alice@example.com")

	objHash, err := store.StoreUnversioned(blob{data: []byte("payload for alice")})
	if err != nil {
		t.Fatalf("StoreUnversioned: %v", err)
	}
	if _, err := accessEngine.Grant(ctx, objHash, []identity.PersonID{alice}, nil, access.ModeAdd); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	engine := chum.New(store, accessEngine, zap.NewNop())
	serverSide, wire := newPipeConns()
	session := engine.AddSession(alice, serverSide)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go session.Run(runCtx)

	received := make(chan []byte, 1)
	driveImporter(t, wire, store, received)

	engine.NotifyWrite(ctx, objHash)

	select {
	case data := <-received:
		if string(data) != string(mustBlobBytes(t, store, objHash)) {
			t.Fatalf("received data does not match stored object")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for requested object")
	}
}

func mustBlobBytes(t *testing.T, store *objectstore.Store, hash canon.Hash) []byte {
	t.Helper()
	data, err := store.GetByContentHash(hash)
	if err != nil {
		t.Fatalf("GetByContentHash: %v", err)
	}
	return data
}
