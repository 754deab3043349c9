package presence

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/service/presence"
	"teamchat-backend/pkg/response"
)

// Handler handles presence and typing HTTP requests
type Handler struct {
	presenceService *presence.Service
}

// NewHandler creates a new presence handler
func NewHandler(presenceService *presence.Service) *Handler {
	return &Handler{
		presenceService: presenceService,
	}
}

// RegisterRoutes mounts read routes on rg and write routes on writes.
// writes is expected to carry the presence rate limiter.
func (h *Handler) RegisterRoutes(rg, writes *gin.RouterGroup) {
	writes.POST("/presence/heartbeat", h.Heartbeat)
	writes.PUT("/presence/status", h.SetStatus)
	writes.POST("/presence/activity", h.RecordActivity)
	writes.POST("/presence/away", h.SetAway)
	writes.POST("/channels/:id/typing", h.StartTyping)
	writes.DELETE("/channels/:id/typing", h.StopTyping)

	rg.GET("/presence", h.GetOrganizationPresence)
	rg.GET("/presence/users/:id", h.GetUserPresence)
	rg.GET("/channels/:id/typing", h.GetTypingUsers)
	rg.GET("/channels/:id/online", h.GetChannelOnlineUsers)
}

// SetStatusRequest represents an explicit status change
type SetStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=online away dnd offline"`
}

// Heartbeat refreshes the caller's liveness marker
// POST /v1/presence/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	h.withUser(c, func(userID uuid.UUID) error {
		return h.presenceService.RecordHeartbeat(c.Request.Context(), userID)
	})
}

// SetStatus sets the caller's status explicitly
// PUT /v1/presence/status
func (h *Handler) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	h.withUser(c, func(userID uuid.UUID) error {
		return h.presenceService.SetStatus(c.Request.Context(), userID, domain.PresenceStatus(req.Status))
	})
}

// RecordActivity marks the caller as active now
// POST /v1/presence/activity
func (h *Handler) RecordActivity(c *gin.Context) {
	h.withUser(c, func(userID uuid.UUID) error {
		return h.presenceService.RecordActivity(c.Request.Context(), userID)
	})
}

// SetAway moves an online caller to away
// POST /v1/presence/away
func (h *Handler) SetAway(c *gin.Context) {
	h.withUser(c, func(userID uuid.UUID) error {
		return h.presenceService.SetAway(c.Request.Context(), userID)
	})
}

// GetUserPresence returns the derived presence of one user
// GET /v1/presence/users/:id
func (h *Handler) GetUserPresence(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	p, err := h.presenceService.GetUserPresence(c.Request.Context(), targetID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, p)
}

// GetOrganizationPresence returns presence for the caller's organization
// GET /v1/presence
func (h *Handler) GetOrganizationPresence(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	users, err := h.presenceService.GetOrganizationPresence(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"users": users})
}

// StartTyping records that the caller is typing
// POST /v1/channels/:id/typing
func (h *Handler) StartTyping(c *gin.Context) {
	h.withChannel(c, func(channelID, userID uuid.UUID) (any, error) {
		if err := h.presenceService.SetTyping(c.Request.Context(), channelID, userID); err != nil {
			return nil, err
		}
		return gin.H{"channel_id": channelID, "typing": true}, nil
	})
}

// StopTyping clears the caller's typing entry
// DELETE /v1/channels/:id/typing
func (h *Handler) StopTyping(c *gin.Context) {
	h.withChannel(c, func(channelID, userID uuid.UUID) (any, error) {
		if err := h.presenceService.StopTyping(c.Request.Context(), channelID, userID); err != nil {
			return nil, err
		}
		return gin.H{"channel_id": channelID, "typing": false}, nil
	})
}

// GetTypingUsers lists users currently typing in a channel
// GET /v1/channels/:id/typing
func (h *Handler) GetTypingUsers(c *gin.Context) {
	h.withChannel(c, func(channelID, userID uuid.UUID) (any, error) {
		ctx := c.Request.Context()
		if err := h.presenceService.CheckChannelAccess(ctx, userID, channelID); err != nil {
			return nil, err
		}
		typing, err := h.presenceService.GetTypingUsers(ctx, channelID)
		if err != nil {
			return nil, err
		}
		return gin.H{"users": typing}, nil
	})
}

// GetChannelOnlineUsers lists recently seen channel members
// GET /v1/channels/:id/online
func (h *Handler) GetChannelOnlineUsers(c *gin.Context) {
	h.withChannel(c, func(channelID, userID uuid.UUID) (any, error) {
		ctx := c.Request.Context()
		if err := h.presenceService.CheckChannelAccess(ctx, userID, channelID); err != nil {
			return nil, err
		}
		online, err := h.presenceService.GetChannelOnlineUsers(ctx, channelID)
		if err != nil {
			return nil, err
		}
		return gin.H{"users": online}, nil
	})
}

func (h *Handler) withUser(c *gin.Context, fn func(userID uuid.UUID) error) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := fn(userID); err != nil {
		response.FromError(c, err)
		return
	}

	p, err := h.presenceService.GetUserPresence(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

func (h *Handler) withChannel(c *gin.Context, fn func(channelID, userID uuid.UUID) (any, error)) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid channel ID")
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := fn(channelID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get(middleware.ContextUserID)
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}
