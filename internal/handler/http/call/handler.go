package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/service/call"
	"teamchat-backend/pkg/pagination"
	"teamchat-backend/pkg/response"
)

// Handler handles call session HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// RegisterRoutes mounts the call routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	calls.POST("", h.InitiateCall)
	calls.GET("", h.GetCallHistory)
	calls.GET("/:id", h.GetCall)
	calls.POST("/:id/join", h.JoinCall)
	calls.POST("/:id/leave", h.LeaveCall)
	calls.POST("/:id/reject", h.RejectCall)
	calls.POST("/:id/end", h.EndCall)
	calls.POST("/:id/screen-share", h.EnableScreenShare)
	calls.DELETE("/:id/screen-share", h.DisableScreenShare)

	rg.GET("/channels/:id/call", h.GetActiveCall)
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ChannelID      string   `json:"channel_id" binding:"required,uuid"`
	CallType       string   `json:"call_type" binding:"required,oneof=audio video"`
	ParticipantIDs []string `json:"participant_ids"`
}

// InitiateCall starts a new call in a channel
// POST /v1/calls
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	channelID, err := uuid.Parse(req.ChannelID)
	if err != nil {
		response.ValidationError(c, "Invalid channel ID")
		return
	}

	participantIDs := make([]uuid.UUID, len(req.ParticipantIDs))
	for i, idStr := range req.ParticipantIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid participant ID: "+idStr)
			return
		}
		participantIDs[i] = id
	}

	created, err := h.callService.InitiateCall(c.Request.Context(), &call.InitiateCallInput{
		ChannelID:      channelID,
		InitiatorID:    userID,
		CallType:       domain.CallType(req.CallType),
		ParticipantIDs: participantIDs,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// GetCall returns a call the user participates in
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	h.withCall(c, func(callID, userID uuid.UUID) (any, error) {
		return h.callService.GetCall(c.Request.Context(), callID, userID)
	})
}

// JoinCall joins a ringing or active call
// POST /v1/calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	h.withCall(c, func(callID, userID uuid.UUID) (any, error) {
		return h.callService.JoinCall(c.Request.Context(), callID, userID)
	})
}

// LeaveCall leaves a call
// POST /v1/calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	h.withCall(c, func(callID, userID uuid.UUID) (any, error) {
		return h.callService.LeaveCall(c.Request.Context(), callID, userID)
	})
}

// RejectCall declines a ringing call
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	h.withCall(c, func(callID, userID uuid.UUID) (any, error) {
		return h.callService.RejectCall(c.Request.Context(), callID, userID)
	})
}

// EndCall terminates a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	h.withCall(c, func(callID, userID uuid.UUID) (any, error) {
		return h.callService.EndCall(c.Request.Context(), callID, userID)
	})
}

// EnableScreenShare makes the user the current screen sharer
// POST /v1/calls/:id/screen-share
func (h *Handler) EnableScreenShare(c *gin.Context) {
	h.withCall(c, func(callID, userID uuid.UUID) (any, error) {
		return h.callService.EnableScreenShare(c.Request.Context(), callID, userID)
	})
}

// DisableScreenShare stops the user's screen share
// DELETE /v1/calls/:id/screen-share
func (h *Handler) DisableScreenShare(c *gin.Context) {
	h.withCall(c, func(callID, userID uuid.UUID) (any, error) {
		if err := h.callService.DisableScreenShare(c.Request.Context(), callID, userID); err != nil {
			return nil, err
		}
		return gin.H{"call_id": callID, "enabled": false}, nil
	})
}

// GetActiveCall returns the open call of a channel, or null
// GET /v1/channels/:id/call
func (h *Handler) GetActiveCall(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid channel ID")
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	active, err := h.callService.GetActiveCallInChannel(c.Request.Context(), channelID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, active)
}

// GetCallHistory lists the user's calls, newest first
// GET /v1/calls?limit=20&offset=0 or ?limit=20&page=2
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, err := pagination.Parse(c.Query("limit"), c.Query("offset"), c.Query("page"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callService.GetUserCallHistory(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls":  calls,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// withCall parses the call ID and the caller, runs fn and writes its result
func (h *Handler) withCall(c *gin.Context, fn func(callID, userID uuid.UUID) (any, error)) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := fn(callID, userID)
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
