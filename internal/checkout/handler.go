package checkout

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/coordinator"
	"github.com/shoplive/backend/internal/middleware"
	"github.com/shoplive/backend/pkg/response"
)

// Handler handles reservation and purchase HTTP endpoints.
type Handler struct {
	coord  *coordinator.Coordinator
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a checkout handler.
func NewHandler(coord *coordinator.Coordinator, repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, repo: repo, logger: logger}
}

// ReserveRequest is the body for POST /products/:id/reserve.
type ReserveRequest struct {
	SessionID  string `json:"session_id" binding:"required,uuid"`
	Quantity   int    `json:"quantity" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// CommitRequest is the body for POST /reservations/:id/commit.
type CommitRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// Reserve handles POST /products/:id/reserve.
func (h *Handler) Reserve(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session_id")
		return
	}
	if req.Quantity <= 0 {
		response.BadRequest(c, "quantity must be positive")
		return
	}
	viewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	r, err := h.coord.Reserve(sessionID, productID, viewerID, req.Quantity, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.Created(c, r)
}

// Release handles POST /reservations/:id/release. Releasing an already
// resolved reservation succeeds, so client retries are safe.
func (h *Handler) Release(c *gin.Context) {
	reservationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid reservation id")
		return
	}
	if err := h.coord.Release(reservationID); err != nil {
		h.respondErr(c, err)
		return
	}
	response.NoContent(c)
}

// Commit handles POST /reservations/:id/commit. On a declined payment
// the reservation stays held and the client may retry until it expires.
func (h *Handler) Commit(c *gin.Context) {
	reservationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid reservation id")
		return
	}
	var req CommitRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.coord.Commit(c.Request.Context(), reservationID, req.AmountCents)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.Created(c, order)
}

// Orders handles GET /sessions/:id/orders (host reporting).
func (h *Handler) Orders(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListOrdersBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list orders", zap.Error(err))
		response.Internal(c, "failed to list orders")
		return
	}
	response.OK(c, list)
}

func (h *Handler) respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, coordinator.ErrInsufficientStock):
		response.Conflict(c, "out of stock")
	case errors.Is(err, coordinator.ErrSessionNotLive):
		response.Conflict(c, err.Error())
	case errors.Is(err, coordinator.ErrProductNotFeatured):
		response.Conflict(c, err.Error())
	case errors.Is(err, coordinator.ErrReservationNotHeld):
		response.Conflict(c, err.Error())
	case errors.Is(err, coordinator.ErrPaymentFailed):
		// 402: the hold survives, the client may retry within the TTL.
		response.PaymentRequired(c, "payment failed, item still held until reservation expiry")
	case errors.Is(err, coordinator.ErrSessionNotFound),
		errors.Is(err, coordinator.ErrProductNotFound),
		errors.Is(err, coordinator.ErrReservationNotFound):
		response.NotFound(c, err.Error())
	default:
		h.logger.Error("checkout operation failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}
