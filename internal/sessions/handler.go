package sessions

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/coordinator"
	"github.com/shoplive/backend/internal/middleware"
	"github.com/shoplive/backend/internal/models"
	"github.com/shoplive/backend/pkg/response"
)

// Handler handles session HTTP endpoints.
type Handler struct {
	coord  *coordinator.Coordinator
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(coord *coordinator.Coordinator, repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, repo: repo, logger: logger}
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title            string   `json:"title" binding:"required"`
	Category         string   `json:"category"`
	ScheduledStart   string   `json:"scheduled_start" binding:"required"`
	AllowChat        *bool    `json:"allow_chat"`
	AllowProducts    *bool    `json:"allow_products"`
	RecordingEnabled bool     `json:"recording_enabled"`
	MaxViewers       int      `json:"max_viewers"`
	Tags             []string `json:"tags"`
}

// UpdateRequest is the body for PATCH /sessions/:id.
type UpdateRequest struct {
	Title         *string   `json:"title"`
	Category      *string   `json:"category"`
	Tags          *[]string `json:"tags"`
	MaxViewers    *int      `json:"max_viewers"`
	AllowChat     *bool     `json:"allow_chat"`
	AllowProducts *bool     `json:"allow_products"`
}

// CancelRequest is the body for POST /sessions/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ChatRequest is the body for POST /sessions/:id/chat.
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// Create handles POST /sessions (host or admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	scheduledStart, err := time.Parse(time.RFC3339, req.ScheduledStart)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_start")
		return
	}
	hostID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	cfg := models.SessionConfig{
		AllowChat:        true,
		AllowProducts:    true,
		RecordingEnabled: req.RecordingEnabled,
		MaxViewers:       req.MaxViewers,
		Tags:             req.Tags,
	}
	if req.AllowChat != nil {
		cfg.AllowChat = *req.AllowChat
	}
	if req.AllowProducts != nil {
		cfg.AllowProducts = *req.AllowProducts
	}

	s := h.coord.CreateSession(models.BroadcastSession{
		HostID:         hostID,
		Title:          req.Title,
		Category:       req.Category,
		Config:         cfg,
		ScheduledStart: scheduledStart,
	})
	response.Created(c, s)
}

// List handles GET /sessions. Query ?mine=1 filters to the caller's own.
func (h *Handler) List(c *gin.Context) {
	var hostID *uuid.UUID
	if c.Query("mine") == "1" {
		uid := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		hostID = &uid
	}
	list, err := h.repo.List(c.Request.Context(), hostID)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// Get handles GET /sessions/:id. Live in-memory state wins over the row.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if s, err := h.coord.Session(id); err == nil {
		response.OK(c, s)
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil || s == nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, s)
}

// Start handles POST /sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, ok := h.authorizeHost(c)
	if !ok {
		return
	}
	forced := c.Query("forced_early") == "1"
	s, err := h.coord.Start(id, forced)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.OK(c, s)
}

// End handles POST /sessions/:id/end and returns the final analytics.
func (h *Handler) End(c *gin.Context) {
	id, ok := h.authorizeHost(c)
	if !ok {
		return
	}
	abrupt := c.Query("abrupt") == "1"
	final, err := h.coord.End(id, abrupt)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.OK(c, final)
}

// Cancel handles POST /sessions/:id/cancel. Idempotent.
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := h.authorizeHost(c)
	if !ok {
		return
	}
	var req CancelRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.coord.Cancel(id, req.Reason); err != nil {
		h.respondErr(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": id, "state": models.SessionCancelled})
}

// Update handles PATCH /sessions/:id.
func (h *Handler) Update(c *gin.Context) {
	id, ok := h.authorizeHost(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.coord.Update(id, coordinator.SessionPatch{
		Title:         req.Title,
		Category:      req.Category,
		Tags:          req.Tags,
		MaxViewers:    req.MaxViewers,
		AllowChat:     req.AllowChat,
		AllowProducts: req.AllowProducts,
	})
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.OK(c, s)
}

// Join handles POST /sessions/:id/viewers/join.
func (h *Handler) Join(c *gin.Context) {
	id, viewerID, ok := h.sessionAndViewer(c)
	if !ok {
		return
	}
	p, err := h.coord.Join(id, viewerID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.OK(c, p)
}

// Leave handles POST /sessions/:id/viewers/leave.
func (h *Handler) Leave(c *gin.Context) {
	id, viewerID, ok := h.sessionAndViewer(c)
	if !ok {
		return
	}
	if err := h.coord.Leave(id, viewerID); err != nil {
		h.respondErr(c, err)
		return
	}
	response.NoContent(c)
}

// Heartbeat handles POST /sessions/:id/viewers/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	id, viewerID, ok := h.sessionAndViewer(c)
	if !ok {
		return
	}
	if err := h.coord.Heartbeat(id, viewerID); err != nil {
		h.respondErr(c, err)
		return
	}
	response.NoContent(c)
}

// Chat handles POST /sessions/:id/chat.
func (h *Handler) Chat(c *gin.Context) {
	id, viewerID, ok := h.sessionAndViewer(c)
	if !ok {
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.coord.Chat(id, viewerID, req.Message); err != nil {
		h.respondErr(c, err)
		return
	}
	response.NoContent(c)
}

// Viewers handles GET /sessions/:id/viewers.
func (h *Handler) Viewers(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.coord.Viewers(id)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.OK(c, list)
}

// Analytics handles GET /sessions/:id/analytics. For running sessions it
// returns the live snapshot; for archived ones the latest stored sample.
func (h *Handler) Analytics(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if snap, err := h.coord.Snapshot(id); err == nil {
		response.OK(c, snap)
		return
	}
	sample, err := h.repo.LatestMetricsSample(c.Request.Context(), id)
	if err != nil || sample == nil {
		response.NotFound(c, "no analytics for session")
		return
	}
	response.OK(c, sample)
}

// authorizeHost parses the session id and checks the caller owns the
// session (or is admin). Host controls are ownership-gated.
func (h *Handler) authorizeHost(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if role == "admin" {
		return id, true
	}
	s, err := h.coord.Session(id)
	if err != nil {
		h.respondErr(c, err)
		return uuid.Nil, false
	}
	if s.HostID != callerID {
		response.Forbidden(c, "only the session host can do this")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) sessionAndViewer(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, uuid.Nil, false
	}
	viewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return id, viewerID, true
}

func (h *Handler) respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, coordinator.ErrSessionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, coordinator.ErrInvalidTransition),
		errors.Is(err, coordinator.ErrSessionClosed),
		errors.Is(err, coordinator.ErrSessionNotLive):
		response.Conflict(c, err.Error())
	case errors.Is(err, coordinator.ErrCapacityExceeded):
		response.Forbidden(c, err.Error())
	default:
		h.logger.Error("session operation failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}
