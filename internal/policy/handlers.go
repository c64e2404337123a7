package policy

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the admin configuration endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new policy handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up the admin policy routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/policy", h.GetConfig)
	r.PUT("/policy", h.UpdateConfig)
	r.GET("/policy/fee-tiers", h.GetFeeTiers)
	r.PUT("/policy/fee-tiers", h.ReplaceFeeTiers)
}

// GetConfig handles GET /v1/admin/policy
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.service.Current(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": cfg})
}

// UpdateConfig handles PUT /v1/admin/policy. The request carries the full
// config; partial edits start from a GET.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var cfg Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid policy body",
		})
		return
	}

	updated, err := h.service.Update(c.Request.Context(), cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": updated})
}

// GetFeeTiers handles GET /v1/admin/policy/fee-tiers
func (h *Handler) GetFeeTiers(c *gin.Context) {
	tiers, err := h.service.FeeTiers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"feeTiers": tiers, "count": len(tiers)})
}

type replaceTiersRequest struct {
	FeeTiers []FeeTier `json:"feeTiers" binding:"required"`
}

// ReplaceFeeTiers handles PUT /v1/admin/policy/fee-tiers
func (h *Handler) ReplaceFeeTiers(c *gin.Context) {
	var req replaceTiersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "feeTiers is required",
		})
		return
	}

	if err := h.service.ReplaceFeeTiers(c.Request.Context(), req.FeeTiers); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	h.GetFeeTiers(c)
}
