package wallet

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/voltmarket/voltmarket/internal/money"
)

// Handler provides HTTP endpoints for wallet operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new wallet handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up wallet routes. The caller's account comes from the
// identity middleware; a wallet is only ever visible to its owner.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallet", h.GetBalance)
	r.GET("/wallet/transactions", h.ListTransactions)
	r.POST("/wallet/topup", h.TopUp)
}

// RegisterAdminRoutes sets up admin-only wallet routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:ownerId/audit", h.Audit)
}

type topUpRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
	PaymentRef  string `json:"paymentRef"`
}

// TopUp handles POST /v1/wallet/topup
func (h *Handler) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a positive whole number",
		})
		return
	}

	ownerID := c.GetString("accountID")
	related := Ref{}
	if req.PaymentRef != "" {
		related = Ref{Type: "payment", ID: req.PaymentRef}
	}

	w, tx, err := h.service.TopUp(c.Request.Context(), ownerID, amount, req.Description, related)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": w, "transaction": tx})
}

// GetBalance handles GET /v1/wallet
func (h *Handler) GetBalance(c *gin.Context) {
	ownerID := c.GetString("accountID")

	w, err := h.service.Balance(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// ListTransactions handles GET /v1/wallet/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	ownerID := c.GetString("accountID")
	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	txs, err := h.service.History(c.Request.Context(), ownerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}

// Audit handles GET /v1/admin/wallets/:ownerId/audit
func (h *Handler) Audit(c *gin.Context) {
	ownerID := c.Param("ownerId")

	cached, derived, consistent, err := h.service.Audit(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ownerId":    ownerID,
		"balance":    cached,
		"ledgerSum":  derived,
		"consistent": consistent,
	})
}
