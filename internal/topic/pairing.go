package topic

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/identity"
)

// InvitationClaims is the payload of a pairing invitation token (spec.md
// §4.9): issuer identity, the endpoint a new peer should dial, and a
// random nonce that Pairing tracks to enforce single use.
//
// It embeds jwt.RegisteredClaims the same way internal/auth.Claims does,
// but is signed with EdDSA rather than HS256: the issuer is the only
// party that should ever produce one of these, so an asymmetric keypair
// replaces a shared secret.
type InvitationClaims struct {
	Issuer           identity.PersonID `json:"issuer"`
	InstanceEndpoint string            `json:"instanceEndpoint"`
	Nonce            string            `json:"nonce"`
	jwt.RegisteredClaims
}

// Pairing issues and consumes one-time invitation tokens. Token
// consumption (the peer dialing InstanceEndpoint, exchanging VCs over the
// resulting transport, and receiving the issuer's Profile via CHUM) is
// orchestrated by the caller — Pairing itself only guards the nonce.
type Pairing struct {
	signKey   ed25519.PrivateKey
	verifyKey ed25519.PublicKey
	logger    *zap.Logger

	mu   sync.Mutex
	used map[string]time.Time // nonce -> expiresAt, kept only until expiry
}

func NewPairing(signKey ed25519.PrivateKey, verifyKey ed25519.PublicKey, logger *zap.Logger) *Pairing {
	return &Pairing{
		signKey:   signKey,
		verifyKey: verifyKey,
		logger:    logger,
		used:      make(map[string]time.Time),
	}
}

// CreateInvitation signs a one-time token for issuer, valid for ttl, that
// a peer dials instanceEndpoint to consume.
func (p *Pairing) CreateInvitation(issuer identity.PersonID, instanceEndpoint string, ttl time.Duration) (string, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("generate invitation nonce: %w", err)
	}
	now := time.Now()
	claims := InvitationClaims{
		Issuer:           issuer,
		InstanceEndpoint: instanceEndpoint,
		Nonce:            base64.RawURLEncoding.EncodeToString(nonceBytes),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    string(issuer),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(p.signKey)
	if err != nil {
		return "", fmt.Errorf("sign invitation: %w", err)
	}
	return signed, nil
}

// ConsumeInvitation verifies tokenString and claims its nonce. A second
// call with the same token — whether replayed by an attacker or retried
// by the same peer — fails with "invitation already used".
func (p *Pairing) ConsumeInvitation(tokenString string) (InvitationClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &InvitationClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return p.verifyKey, nil
		},
	)
	if err != nil {
		return InvitationClaims{}, fmt.Errorf("parse invitation: %w", err)
	}
	claims, ok := token.Claims.(*InvitationClaims)
	if !ok || !token.Valid {
		return InvitationClaims{}, fmt.Errorf("invalid invitation claims")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpiredLocked(time.Now())
	if _, seen := p.used[claims.Nonce]; seen {
		return InvitationClaims{}, fmt.Errorf("invitation already used")
	}
	expiresAt := time.Now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	p.used[claims.Nonce] = expiresAt

	return *claims, nil
}

// evictExpiredLocked drops used-nonce entries whose token has already
// expired — a replay of an expired token fails signature verification's
// own expiry check regardless, so tracking it forever buys nothing.
func (p *Pairing) evictExpiredLocked(now time.Time) {
	for nonce, expiresAt := range p.used {
		if now.After(expiresAt) {
			delete(p.used, nonce)
		}
	}
}
