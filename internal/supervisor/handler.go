package supervisor

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-meetbot/backend/internal/adapter"
	"github.com/aura-meetbot/backend/pkg/response"
)

// Handler exposes the supervisor to the web tier: start_session,
// request_leave, get_status. Persistence, authentication, and user-facing
// configuration live behind the backend, not here.
type Handler struct {
	sup    *Supervisor
	logger *zap.Logger
}

// NewHandler creates a supervisor HTTP handler.
func NewHandler(sup *Supervisor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sup: sup, logger: logger}
}

// StartSessionRequest is the POST /sessions body.
type StartSessionRequest struct {
	Platform       adapter.Platform `json:"platform" binding:"required"`
	MeetingURL     string           `json:"meeting_url" binding:"required"`
	MeetingID      string           `json:"meeting_id"`
	Passcode       string           `json:"passcode"`
	DisplayName    string           `json:"display_name"`
	DebugRecording bool             `json:"debug_recording"`
}

// StartSession handles POST /sessions.
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "platform and meeting_url are required")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = "Meeting Bot"
	}

	creds := adapter.Credentials{
		Platform:       req.Platform,
		MeetingURL:     req.MeetingURL,
		MeetingID:      req.MeetingID,
		Passcode:       req.Passcode,
		DisplayName:    req.DisplayName,
		DebugRecording: req.DebugRecording,
	}
	id, err := h.sup.Start(c.Request.Context(), creds)
	if err != nil {
		h.logger.Error("start session failed", zap.Error(err), zap.String("platform", string(req.Platform)))
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, gin.H{"session_id": id})
}

// GetStatus handles GET /sessions/:id.
func (h *Handler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	snap, err := h.sup.Status(c.Request.Context(), id)
	if err == ErrNotFound {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("session status failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to load session")
		return
	}
	response.OK(c, snap)
}

// RequestLeave handles POST /sessions/:id/leave.
func (h *Handler) RequestLeave(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.sup.RequestLeave(c.Request.Context(), id); err != nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, gin.H{"session_id": id})
}

// SendChatRequest is the POST /sessions/:id/chat body.
type SendChatRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendChat handles POST /sessions/:id/chat.
func (h *Handler) SendChat(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req SendChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "text is required")
		return
	}
	if err := h.sup.SendChat(id, req.Text); err != nil {
		if err == ErrNotFound {
			response.NotFound(c, "session not found")
			return
		}
		response.Conflict(c, err.Error())
		return
	}
	response.OK(c, gin.H{"session_id": id})
}

// RegisterRoutes mounts the session endpoints on the router group.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/sessions", h.StartSession)
	r.GET("/sessions/:id", h.GetStatus)
	r.POST("/sessions/:id/leave", h.RequestLeave)
	r.POST("/sessions/:id/chat", h.SendChat)
}
