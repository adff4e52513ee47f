package products

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/coordinator"
	"github.com/shoplive/backend/internal/middleware"
	"github.com/shoplive/backend/internal/models"
	"github.com/shoplive/backend/pkg/response"
)

// Handler handles product catalog HTTP endpoints.
type Handler struct {
	coord  *coordinator.Coordinator
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a product handler.
func NewHandler(coord *coordinator.Coordinator, repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, repo: repo, logger: logger}
}

// CreateRequest is the body for POST /products.
type CreateRequest struct {
	Name          string `json:"name" binding:"required"`
	Description   string `json:"description"`
	PriceCents    int64  `json:"price_cents" binding:"required"`
	Currency      string `json:"currency"`
	TotalQuantity int    `json:"total_quantity" binding:"required"`
}

// FeatureRequest is the body for POST /sessions/:id/products.
type FeatureRequest struct {
	ProductID string `json:"product_id" binding:"required,uuid"`
}

// Create handles POST /products (host or admin). The product is written
// to the store and registered with the ledger in one step.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.TotalQuantity < 0 || req.PriceCents < 0 {
		response.BadRequest(c, "quantity and price must be non-negative")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	p := &models.Product{
		SellerID:    sellerID,
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Currency:    currency,
	}
	if err := h.repo.Create(c.Request.Context(), p, req.TotalQuantity); err != nil {
		h.logger.Error("create product", zap.Error(err))
		response.Internal(c, "failed to create product")
		return
	}
	h.coord.Ledger().Track(*p, req.TotalQuantity)
	response.Created(c, gin.H{"product": p, "total_quantity": req.TotalQuantity})
}

// Get handles GET /products/:id with live stock counters.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	p, err := h.coord.Ledger().Product(id)
	if err != nil {
		if errors.Is(err, coordinator.ErrProductNotFound) {
			response.NotFound(c, "product not found")
			return
		}
		response.Internal(c, "internal error")
		return
	}
	stock, err := h.coord.Ledger().Stock(id)
	if err != nil {
		response.Internal(c, "internal error")
		return
	}
	response.OK(c, gin.H{"product": p, "stock": stock})
}

// Feature handles POST /sessions/:id/products, making a product
// purchasable in that session.
func (h *Handler) Feature(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req FeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		response.BadRequest(c, "invalid product_id")
		return
	}

	if err := h.coord.FeatureProduct(sessionID, productID); err != nil {
		switch {
		case errors.Is(err, coordinator.ErrSessionNotFound):
			response.NotFound(c, "session not found")
		case errors.Is(err, coordinator.ErrProductNotFound):
			response.NotFound(c, "product not found")
		case errors.Is(err, coordinator.ErrSessionClosed):
			response.Conflict(c, err.Error())
		default:
			h.logger.Error("feature product", zap.Error(err))
			response.Internal(c, "internal error")
		}
		return
	}
	if err := h.repo.Feature(c.Request.Context(), sessionID, productID); err != nil {
		h.logger.Warn("persist featured product", zap.Error(err))
	}
	response.Created(c, gin.H{"session_id": sessionID, "product_id": productID})
}

// ListBySession handles GET /sessions/:id/products.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ids, err := h.coord.FeaturedProducts(sessionID)
	if err != nil {
		if errors.Is(err, coordinator.ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "internal error")
		return
	}

	type featured struct {
		Product models.Product      `json:"product"`
		Stock   models.ProductStock `json:"stock"`
	}
	out := make([]featured, 0, len(ids))
	for _, id := range ids {
		p, perr := h.coord.Ledger().Product(id)
		s, serr := h.coord.Ledger().Stock(id)
		if perr != nil || serr != nil {
			continue
		}
		out = append(out, featured{Product: p, Stock: s})
	}
	response.OK(c, out)
}
