package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/auth"
	"github.com/lalith-99/coreoled/internal/identity"
)

// SessionHandler issues control API session tokens. There is no
// signup/login flow here — identity is established once, out of band,
// when the instance's keychain is created (spec.md §4.3) — this handler
// only trades a locally-known secret for a bearer token a front-end can
// attach to every later request.
type SessionHandler struct {
	self   identity.PersonID
	secret string
	ttl    time.Duration
	logger *zap.Logger
}

func NewSessionHandler(self identity.PersonID, secret string, ttl time.Duration, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{self: self, secret: secret, ttl: ttl, logger: logger}
}

type createSessionRequest struct {
	Secret string `json:"secret" binding:"required"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

// Create handles POST /v1/session
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Secret != h.secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	token, err := auth.GenerateToken(h.self, h.secret, h.ttl)
	if err != nil {
		h.logger.Error("failed to generate session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Token: token})
}
