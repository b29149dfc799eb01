package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/identity"
)

// IdentityHandler answers "who am I" with the Person id this instance
// was started as. It exposes no contact listing.
type IdentityHandler struct {
	self   identity.PersonID
	logger *zap.Logger
}

func NewIdentityHandler(self identity.PersonID, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{self: self, logger: logger}
}

// Me handles GET /v1/me
func (h *IdentityHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"person_id": h.self})
}
