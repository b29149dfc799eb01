package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lalith-99/coreoled/internal/identity"
)

// Claims is the payload inside a local control API session token. There
// is exactly one Person per running instance — this token only proves
// "the caller holds the instance's own session secret", not multi-party
// identity, so it carries PersonID for logging/display and nothing else.
type Claims struct {
	PersonID identity.PersonID `json:"person_id"`
	jwt.RegisteredClaims
}

// GenerateToken signs a session token for the local control API.
//
// Why HS256? The only party that ever verifies this token is the same
// process that issued it (or another trusted local process sharing
// secret) — there's no second issuer to protect against, so a shared
// HMAC key is simplest.
func GenerateToken(person identity.PersonID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		PersonID: person,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "coreoled",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a session token and extracts its claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
