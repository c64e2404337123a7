package refund

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

// Handler provides HTTP endpoints for the refund engine.
type Handler struct {
	engine  *Engine
	scanner *Scanner
}

// NewHandler creates a new refund handler. The scanner is optional; without
// it the manual scan trigger runs the engine directly.
func NewHandler(engine *Engine, scanner *Scanner) *Handler {
	return &Handler{engine: engine, scanner: scanner}
}

// RegisterRoutes sets up the seller-facing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/posts/:id/fee", h.CollectFee)
	r.GET("/posts/:id/fee", h.GetFee)
	r.GET("/posts/:id/refund", h.GetByPost)
}

// RegisterAdminRoutes sets up the admin review surface.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/refunds", h.List)
	r.GET("/refunds/:id", h.Get)
	r.POST("/refunds", h.CreateManual)
	r.POST("/refunds/:id/approve", h.Approve)
	r.POST("/refunds/:id/reject", h.Reject)
	r.POST("/refunds/scan", h.TriggerScan)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrRefundNotFound), errors.Is(err, ErrPostPaymentNotFound), errors.Is(err, listing.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrAlreadyRefunded), errors.Is(err, ErrPostPaymentExists):
		status = http.StatusConflict
		code = "already_exists"
	case errors.Is(err, ErrInvalidStatus):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, ErrNotEligible):
		status = http.StatusUnprocessableEntity
		code = "not_eligible"
	case errors.Is(err, ErrInvalidRate), errors.Is(err, wallet.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, wallet.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
		code = "insufficient_balance"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// CollectFee handles POST /v1/posts/:id/fee
func (h *Handler) CollectFee(c *gin.Context) {
	p, err := h.engine.CollectPostingFee(c.Request.Context(), c.Param("id"), c.GetString("accountID"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"postPayment": p})
}

// GetFee handles GET /v1/posts/:id/fee
func (h *Handler) GetFee(c *gin.Context) {
	p, err := h.engine.PostPaymentFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"postPayment": p})
}

// GetByPost handles GET /v1/posts/:id/refund
func (h *Handler) GetByPost(c *gin.Context) {
	r, err := h.engine.GetByPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": r})
}

// Get handles GET /v1/admin/refunds/:id
func (h *Handler) Get(c *gin.Context) {
	r, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": r})
}

// List handles GET /v1/admin/refunds?status=PENDING&limit=n
func (h *Handler) List(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	refunds, err := h.engine.List(c.Request.Context(), Status(c.Query("status")), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"refunds": refunds,
		"count":   len(refunds),
	})
}

type createManualRequest struct {
	PostID   string `json:"postId" binding:"required"`
	Scenario string `json:"scenario"`
	Rate     *int64 `json:"rate"`
	DryRun   bool   `json:"dryRun"`
}

// CreateManual handles POST /v1/admin/refunds
func (h *Handler) CreateManual(c *gin.Context) {
	var req createManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "postId is required",
		})
		return
	}

	r, err := h.engine.CreateManual(c.Request.Context(), req.PostID, Scenario(req.Scenario), req.Rate, req.DryRun)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.DryRun {
		c.JSON(http.StatusOK, gin.H{"refund": r, "dryRun": true})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"refund": r})
}

// Approve handles POST /v1/admin/refunds/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	r, err := h.engine.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": r})
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Reject handles POST /v1/admin/refunds/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	r, err := h.engine.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": r})
}

// TriggerScan handles POST /v1/admin/refunds/scan
func (h *Handler) TriggerScan(c *gin.Context) {
	var created int
	var err error
	if h.scanner != nil {
		created, err = h.scanner.TriggerNow(c.Request.Context())
	} else {
		created, err = h.engine.ScanOnce(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refundsCreated": created})
}
