package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/box"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/coreerr"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

// secretKeys holds one Person's private key material in locked, frozen
// memory — never a plain []byte, never stored on disk, never serialized.
type secretKeys struct {
	signPriv *memguard.LockedBuffer // 64-byte ed25519 private key
	boxPriv  *memguard.LockedBuffer // 32-byte X25519 private key
	signPub  ed25519.PublicKey
	boxPub   *[32]byte
	keysHash canon.Hash // content hash of the stored public Keys object
}

// Keychain implements §4.3: ensurePerson, createDefaultKeys, sign, verify.
// Loss of this process's memory loses every credential the Person has
// issued — by design, there is no export path.
type Keychain struct {
	store  *objectstore.Store
	logger *zap.Logger

	mu      sync.Mutex
	secrets map[PersonID]*secretKeys
}

func NewKeychain(store *objectstore.Store, logger *zap.Logger) *Keychain {
	return &Keychain{store: store, logger: logger, secrets: make(map[PersonID]*secretKeys)}
}

// EnsurePerson idempotently creates the Person object (if not already
// stored) and its default keys (if this process hasn't created them yet),
// and returns the Person's id hash.
func (k *Keychain) EnsurePerson(ctx context.Context, email PersonID) (canon.Hash, error) {
	person := Person{Email: email, CreatedAt: time.Now()}
	idHash, err := canon.IDHash(person)
	if err != nil {
		return canon.Hash{}, coreerr.New("identity.EnsurePerson", coreerr.KindConflict, err)
	}

	if _, _, err := k.store.GetByIDHash(ctx, idHash); err != nil {
		if !coreerr.Is(err, coreerr.KindNotFound) {
			return canon.Hash{}, err
		}
		if _, err := k.store.StoreVersioned(ctx, person); err != nil {
			return canon.Hash{}, err
		}
	}

	k.mu.Lock()
	_, hasKeys := k.secrets[email]
	k.mu.Unlock()
	if !hasKeys {
		if _, err := k.CreateDefaultKeys(ctx, email); err != nil {
			return canon.Hash{}, err
		}
	}
	return idHash, nil
}

// CreateDefaultKeys generates a sign + encrypt key pair for person and
// stores the public-key Keys object. Idempotent within this process: a
// second call returns the existing public key object without
// regenerating.
func (k *Keychain) CreateDefaultKeys(ctx context.Context, person PersonID) (canon.Hash, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if sk, ok := k.secrets[person]; ok {
		return sk.keysHash, nil
	}

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return canon.Hash{}, coreerr.New("identity.CreateDefaultKeys", coreerr.KindConflict, fmt.Errorf("generate sign key: %w", err))
	}
	boxPub, boxPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return canon.Hash{}, coreerr.New("identity.CreateDefaultKeys", coreerr.KindConflict, fmt.Errorf("generate encrypt key: %w", err))
	}

	signBuf := memguard.NewBufferFromBytes(append([]byte(nil), signPriv...))
	signBuf.Freeze()
	boxBuf := memguard.NewBufferFromBytes(append([]byte(nil), boxPriv[:]...))
	boxBuf.Freeze()

	k.secrets[person] = &secretKeys{
		signPriv: signBuf,
		boxPriv:  boxBuf,
		signPub:  signPub,
		boxPub:   boxPub,
	}

	keys := Keys{SignPublicKey: signPub, EncryptPublicKey: boxPub[:], CreatedAt: time.Now()}
	hash, err := k.store.StoreUnversioned(keys)
	if err != nil {
		return canon.Hash{}, err
	}
	k.secrets[person].keysHash = hash

	personIDHash, err := canon.IDHash(Person{Email: person})
	if err == nil {
		if err := k.store.RecordReverseRef(ctx, personIDHash, "DefaultKeys", hash); err != nil {
			k.logger.Warn("failed to record default keys reverse ref", zap.String("person", string(person)), zap.Error(err))
		}
	}

	return hash, nil
}

// Sign signs data with person's default sign key.
func (k *Keychain) Sign(person PersonID, data []byte) ([]byte, error) {
	k.mu.Lock()
	sk, ok := k.secrets[person]
	k.mu.Unlock()
	if !ok {
		return nil, coreerr.New("identity.Sign", coreerr.KindNotFound, fmt.Errorf("no keys loaded for %s", person))
	}
	priv := ed25519.PrivateKey(sk.signPriv.Bytes())
	return ed25519.Sign(priv, data), nil
}

// Verify checks a signature against a raw Ed25519 public key — the
// counterpart collaborators (credential.Manager, topic invitation tokens)
// use against a peer's published Keys.SignPublicKey.
func Verify(data, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, signature)
}

// PublicKeys returns the sign/encrypt public keys this process holds for
// person, if any.
func (k *Keychain) PublicKeys(person PersonID) (signPub, boxPub []byte, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	sk, ok := k.secrets[person]
	if !ok {
		return nil, nil, false
	}
	return sk.signPub, sk.boxPub[:], true
}

// Close destroys every locked key buffer this process holds. After Close,
// this process can no longer sign for any Person it held keys for;
// credentials already issued still verify, since verification uses the
// public key carried in each credential.
func (k *Keychain) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sk := range k.secrets {
		sk.signPriv.Destroy()
		sk.boxPriv.Destroy()
	}
	k.secrets = make(map[PersonID]*secretKeys)
}
