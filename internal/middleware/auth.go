package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lalith-99/coreoled/internal/auth"
	"github.com/lalith-99/coreoled/internal/identity"
)

// ContextKeyPersonID is where AuthMiddleware stores the caller's identity
// for handlers to read back with GetPersonID.
const ContextKeyPersonID = "person_id"

// AuthMiddleware validates the control API's session token. There is
// exactly one Person behind this instance, so the only thing this proves
// is "the caller holds the session secret" — but handlers still read the
// PersonID back out rather than assuming a package-level constant, so the
// auth boundary stays in one place.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format, expected: Bearer <token>"})
			return
		}

		claims, err := auth.ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ContextKeyPersonID, claims.PersonID)
		c.Next()
	}
}

func GetPersonID(c *gin.Context) identity.PersonID {
	val, exists := c.Get(ContextKeyPersonID)
	if !exists {
		return ""
	}
	id, ok := val.(identity.PersonID)
	if !ok {
		return ""
	}
	return id
}
