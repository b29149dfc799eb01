package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/channel"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/middleware"
	"github.com/lalith-99/coreoled/internal/topic"
)

// TopicHandler exposes topic creation, membership, and message
// send/iterate over HTTP, backed directly by the Topic & Group Manager
// and Channel Manager — there is no intermediate persistence layer to
// inject an interface for, since both already abstract the object store.
type TopicHandler struct {
	topics   *topic.Manager
	channels *channel.Manager
	logger   *zap.Logger
}

func NewTopicHandler(topics *topic.Manager, channels *channel.Manager, logger *zap.Logger) *TopicHandler {
	return &TopicHandler{topics: topics, channels: channels, logger: logger}
}

type createTopicRequest struct {
	// Kind is "group" or "direct". Group requires TopicID and at least
	// one participant beyond the caller; direct requires exactly one
	// other participant and ignores TopicID (it is derived).
	Kind         string   `json:"kind" binding:"required,oneof=group direct"`
	TopicID      string   `json:"topic_id"`
	Participants []string `json:"participants" binding:"required,min=1"`
}

type topicResponse struct {
	TopicID string `json:"topic_id"`
	Group   string `json:"group,omitempty"`
}

// Create handles POST /v1/topics
func (h *TopicHandler) Create(c *gin.Context) {
	var req createTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	self := middleware.GetPersonID(c)

	if req.Kind == "direct" {
		if len(req.Participants) != 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direct topics take exactly one other participant"})
			return
		}
		tp, err := h.topics.CreateOneToOneTopic(c.Request.Context(), self, identity.PersonID(req.Participants[0]))
		if err != nil {
			h.logger.Error("failed to create direct topic", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create topic"})
			return
		}
		c.JSON(http.StatusCreated, topicResponse{TopicID: tp.TopicID})
		return
	}

	if req.TopicID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group topics require topic_id"})
		return
	}
	participants := make([]identity.PersonID, 0, len(req.Participants)+1)
	participants = append(participants, self)
	for _, p := range req.Participants {
		participants = append(participants, identity.PersonID(p))
	}
	tp, err := h.topics.CreateGroupTopic(c.Request.Context(), req.TopicID, participants)
	if err != nil {
		h.logger.Error("failed to create group topic", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create topic"})
		return
	}
	c.JSON(http.StatusCreated, topicResponse{TopicID: tp.TopicID, Group: string(tp.GroupName)})
}

type addParticipantsRequest struct {
	Participants []string `json:"participants" binding:"required,min=1"`
}

// AddParticipants handles POST /v1/topics/:id/participants
func (h *TopicHandler) AddParticipants(c *gin.Context) {
	var req addParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	persons := make([]identity.PersonID, len(req.Participants))
	for i, p := range req.Participants {
		persons[i] = identity.PersonID(p)
	}
	if err := h.topics.AddParticipants(c.Request.Context(), c.Param("id"), persons); err != nil {
		h.logger.Error("failed to add participants", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type appendMessageRequest struct {
	Text        string   `json:"text" binding:"required"`
	Attachments []string `json:"attachments"`
}

// AppendMessage handles POST /v1/topics/:id/messages
func (h *TopicHandler) AppendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	self := middleware.GetPersonID(c)

	attachments := make([]canon.Hash, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		h, err := canon.ParseHash(a)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid attachment hash %q: %v", a, err)})
			return
		}
		attachments = append(attachments, h)
	}

	entryHash, err := h.channels.Append(c.Request.Context(), c.Param("id"), self, req.Text, attachments)
	if err != nil {
		h.logger.Error("failed to append message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry_hash": entryHash.Hex()})
}

type messageResponse struct {
	Owner       string   `json:"owner"`
	Timestamp   string   `json:"timestamp"`
	Sender      string   `json:"sender"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
}

// Messages handles GET /v1/topics/:id/messages. It resolves the topic's
// owner set itself — via its backing Group for a group topic, or the
// shared null-owner channel for a 1:1 topic — so the caller never has to
// know the participant list to read it back.
func (h *TopicHandler) Messages(c *gin.Context) {
	topicID := c.Param("id")
	ctx := c.Request.Context()

	owners, err := h.resolveOwners(ctx, topicID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown topic"})
		return
	}

	entries, err := h.channels.Iterate(ctx, topicID, owners)
	if err != nil {
		h.logger.Error("failed to iterate topic", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	out := make([]messageResponse, len(entries))
	for i, e := range entries {
		attachments := make([]string, len(e.Attachments))
		for j, a := range e.Attachments {
			attachments[j] = a.Hex()
		}
		out[i] = messageResponse{
			Owner:       string(e.Owner),
			Timestamp:   e.Timestamp.Format(timeFormat),
			Sender:      string(e.Sender),
			Text:        e.Text,
			Attachments: attachments,
		}
	}
	c.JSON(http.StatusOK, out)
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// resolveOwners finds the owner set Iterate needs for topicID: a group
// topic's Group membership, or, for a 1:1 topic, only the null owner of
// its one shared channel (owned "<->" channels are not read).
func (h *TopicHandler) resolveOwners(ctx context.Context, topicID string) ([]identity.PersonID, error) {
	if _, _, ok := topic.SplitOneToOneTopicID(topicID); ok {
		return []identity.PersonID{""}, nil
	}
	groupName, err := h.topics.GetGroupForTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	group, found, err := h.topics.ResolveGroup(ctx, groupName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("group %s not found for topic %s", groupName, topicID)
	}
	return group.Members, nil
}
