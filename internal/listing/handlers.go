package listing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voltmarket/voltmarket/internal/money"
	"github.com/voltmarket/voltmarket/internal/validation"
)

// Handler provides the listing lifecycle endpoints the order and refund
// engines depend on. Full catalog management lives in the surrounding CRUD
// service; this surface only covers create, publish, and archive.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.Create)
	r.GET("/listings/:id", h.Get)
	r.POST("/listings/:id/publish", h.Publish)
	r.POST("/listings/:id/archive", h.Archive)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrNotAvailable):
		status = http.StatusConflict
		code = "invalid_state"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

type createRequest struct {
	Title string `json:"title" binding:"required"`
	Price string `json:"price" binding:"required"`
}

// Create handles POST /v1/listings
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "title and price are required",
		})
		return
	}

	price, err := money.ParsePositive(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "price must be a positive whole number",
		})
		return
	}

	l := &Listing{
		ID:       "lst_" + uuid.NewString(),
		SellerID: c.GetString("accountID"),
		Title:    validation.SanitizeString(req.Title, 200),
		Price:    price,
	}
	if err := h.service.Create(c.Request.Context(), l); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// Get handles GET /v1/listings/:id
func (h *Handler) Get(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// Publish handles POST /v1/listings/:id/publish
func (h *Handler) Publish(c *gin.Context) {
	if !h.requireSeller(c) {
		return
	}
	if err := h.service.Publish(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	h.Get(c)
}

// Archive handles POST /v1/listings/:id/archive
func (h *Handler) Archive(c *gin.Context) {
	if !h.requireSeller(c) {
		return
	}
	if err := h.service.Archive(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	h.Get(c)
}

// requireSeller rejects lifecycle changes from anyone but the listing owner.
func (h *Handler) requireSeller(c *gin.Context) bool {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return false
	}
	if l.SellerID != c.GetString("accountID") {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "only the seller may change this listing",
		})
		return false
	}
	return true
}
