package servicetype

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides the admin service-type endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new service-type handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterAdminRoutes sets up the admin service-type routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/service-types", h.List)
	r.GET("/service-types/:code", h.Get)
	r.POST("/service-types", h.Create)
}

// List handles GET /v1/admin/service-types
func (h *Handler) List(c *gin.Context) {
	types, err := h.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"serviceTypes": types, "count": len(types)})
}

// Get handles GET /v1/admin/service-types/:code
func (h *Handler) Get(c *gin.Context) {
	st, err := h.registry.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Service type not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"serviceType": st})
}

type createRequest struct {
	Code        string `json:"code" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Create handles POST /v1/admin/service-types
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "code and name are required",
		})
		return
	}

	st := &ServiceType{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	if err := h.registry.Create(c.Request.Context(), st); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_exists",
				"message": "A service type with this code already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"serviceType": st})
}
