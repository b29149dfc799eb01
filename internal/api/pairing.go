package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/middleware"
	"github.com/lalith-99/coreoled/internal/topic"
)

// PairingHandler exposes invitation issue/consume over HTTP so a local
// front-end can generate a QR code or link, and a peer's front-end can
// submit a scanned token to begin the exchange (spec.md §4.9).
type PairingHandler struct {
	pairing *topic.Pairing
	logger  *zap.Logger
}

func NewPairingHandler(pairing *topic.Pairing, logger *zap.Logger) *PairingHandler {
	return &PairingHandler{pairing: pairing, logger: logger}
}

type createInvitationRequest struct {
	InstanceEndpoint string `json:"instance_endpoint" binding:"required"`
	TTLSeconds       int    `json:"ttl_seconds"`
}

type invitationResponse struct {
	Token string `json:"token"`
}

// CreateInvitation handles POST /v1/pairing/invitations
func (h *PairingHandler) CreateInvitation(c *gin.Context) {
	var req createInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ttl := time.Hour
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	self := middleware.GetPersonID(c)
	token, err := h.pairing.CreateInvitation(self, req.InstanceEndpoint, ttl)
	if err != nil {
		h.logger.Error("failed to create invitation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create invitation"})
		return
	}
	c.JSON(http.StatusCreated, invitationResponse{Token: token})
}

type consumeInvitationRequest struct {
	Token string `json:"token" binding:"required"`
}

type consumeInvitationResponse struct {
	Issuer           string `json:"issuer"`
	InstanceEndpoint string `json:"instance_endpoint"`
}

// ConsumeInvitation handles POST /v1/pairing/consume. It only claims the
// token and returns the issuer and InstanceEndpoint; it does not dial the
// endpoint, exchange VCs, or import the issuer's Profile, and nothing
// else in this module starts those steps on its behalf.
func (h *PairingHandler) ConsumeInvitation(c *gin.Context) {
	var req consumeInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := h.pairing.ConsumeInvitation(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, consumeInvitationResponse{
		Issuer:           string(claims.Issuer),
		InstanceEndpoint: claims.InstanceEndpoint,
	})
}
