package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

// Handler provides HTTP endpoints for escrow order operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.Create)
	r.GET("/orders", h.List)
	r.GET("/orders/:id", h.Get)
	r.POST("/orders/:id/confirm", h.SellerConfirm)
	r.POST("/orders/:id/complete", h.Complete)
	r.POST("/orders/:id/cancel", h.Cancel)
	r.POST("/orders/:id/dispute", h.Dispute)
}

// respondError maps the order domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, listing.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, ErrSelfPurchase):
		status = http.StatusForbidden
		code = "self_purchase"
	case errors.Is(err, ErrInvalidState):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrListingBusy):
		status = http.StatusConflict
		code = "listing_busy"
	case errors.Is(err, ErrListingNotAvailable):
		status = http.StatusConflict
		code = "listing_not_available"
	case errors.Is(err, wallet.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
		code = "insufficient_balance"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

type createRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	Note      string `json:"note"`
}

// Create handles POST /v1/orders
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "listingId is required",
		})
		return
	}

	buyerID := c.GetString("accountID")
	o, err := h.service.Create(c.Request.Context(), buyerID, req.ListingID, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": o})
}

// Get handles GET /v1/orders/:id
func (h *Handler) Get(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	// Orders are visible only to their two parties.
	caller := c.GetString("accountID")
	if caller != o.BuyerID && caller != o.SellerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "not a party to this order",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

// List handles GET /v1/orders?role=buyer|seller&limit=n
func (h *Handler) List(c *gin.Context) {
	caller := c.GetString("accountID")
	role := c.DefaultQuery("role", "either")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	orders, err := h.service.ListByAccount(c.Request.Context(), caller, role, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

type confirmRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// SellerConfirm handles POST /v1/orders/:id/confirm
func (h *Handler) SellerConfirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "accept (true or false) is required",
		})
		return
	}

	o, err := h.service.SellerConfirm(c.Request.Context(), c.Param("id"), c.GetString("accountID"), *req.Accept)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

// Complete handles POST /v1/orders/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	o, err := h.service.Complete(c.Request.Context(), c.Param("id"), c.GetString("accountID"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

// Cancel handles POST /v1/orders/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	o, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("accountID"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Dispute handles POST /v1/orders/:id/dispute
func (h *Handler) Dispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	o, err := h.service.Dispute(c.Request.Context(), c.Param("id"), c.GetString("accountID"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}
