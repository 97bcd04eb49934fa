package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/service"
	"cart-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserIDHeader carries the user id resolved by the upstream auth gateway.
const UserIDHeader = "X-User-ID"

// CartAPI is the part of the cart service exposed over HTTP.
type CartAPI interface {
	GetActiveCart(ctx context.Context, rawUserID interface{}) (*service.CartView, error)
	AddItem(ctx context.Context, rawUserID interface{}, productID, quantity int64) (*service.CartView, error)
	UpdateItemQuantity(ctx context.Context, rawUserID interface{}, itemID, quantity int64) (*service.CartView, error)
	RemoveItem(ctx context.Context, rawUserID interface{}, itemID int64) (*service.CartView, error)
	ClearCart(ctx context.Context, rawUserID interface{}) (*service.CartView, error)
	AuthorizeCart(ctx context.Context, rawUserID interface{}, cartID int64) error
	UpdateCartTotals(ctx context.Context, cartID int64, opts service.UpdateOptions) models.UpdateTotalsResult
	ReadCartTotals(ctx context.Context, cartID int64) (models.TotalsSnapshot, error)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	carts  CartAPI
	checks map[string]ReadinessCheck
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(carts CartAPI, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		carts:  carts,
		checks: checks,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addItem)
		v1.PUT("/cart/items/:itemId", h.updateItem)
		v1.DELETE("/cart/items/:itemId", h.removeItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/carts/:id/recalculate", h.recalculateTotals)
		v1.GET("/carts/:id/totals", h.getTotals)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = "unavailable"
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not_ready",
			"dependencies": failed,
			"time":         time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type addItemRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Quantity  *int64 `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int64 `json:"quantity" binding:"required"`
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.carts.GetActiveCart(c.Request.Context(), c.GetHeader(UserIDHeader))
	h.respondCart(c, view, err, http.StatusOK)
}

func (h *Handler) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	quantity := int64(1)
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	view, err := h.carts.AddItem(c.Request.Context(), c.GetHeader(UserIDHeader), req.ProductID, quantity)
	h.respondCart(c, view, err, http.StatusCreated)
}

func (h *Handler) updateItem(c *gin.Context) {
	itemID, ok := pathID(c, "itemId", "Invalid cart item ID")
	if !ok {
		return
	}

	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	view, err := h.carts.UpdateItemQuantity(c.Request.Context(), c.GetHeader(UserIDHeader), itemID, req.Quantity)
	h.respondCart(c, view, err, http.StatusOK)
}

func (h *Handler) removeItem(c *gin.Context) {
	itemID, ok := pathID(c, "itemId", "Invalid cart item ID")
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(c.Request.Context(), c.GetHeader(UserIDHeader), itemID)
	h.respondCart(c, view, err, http.StatusOK)
}

func (h *Handler) clearCart(c *gin.Context) {
	view, err := h.carts.ClearCart(c.Request.Context(), c.GetHeader(UserIDHeader))
	h.respondCart(c, view, err, http.StatusOK)
}

// ownedCartID reads the :id parameter and checks the caller owns that cart.
// Carts of other users answer 404.
func (h *Handler) ownedCartID(c *gin.Context) (int64, bool) {
	cartID, ok := pathID(c, "id", "Invalid cart ID")
	if !ok {
		return 0, false
	}
	if err := h.carts.AuthorizeCart(c.Request.Context(), c.GetHeader(UserIDHeader), cartID); err != nil {
		h.respondError(c, err)
		return 0, false
	}
	return cartID, true
}

// recalculateTotals forces a totals recomputation for one of the caller's carts
func (h *Handler) recalculateTotals(c *gin.Context) {
	cartID, ok := h.ownedCartID(c)
	if !ok {
		return
	}

	result := h.carts.UpdateCartTotals(c.Request.Context(), cartID, service.UpdateOptions{})
	if !result.Success {
		if errors.Is(result.Err, models.ErrCartNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Cart not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update cart totals"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) getTotals(c *gin.Context) {
	cartID, ok := h.ownedCartID(c)
	if !ok {
		return
	}

	snapshot, err := h.carts.ReadCartTotals(c.Request.Context(), cartID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) respondCart(c *gin.Context, view *service.CartView, err error, status int) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, view)
}

// respondError maps domain errors to status codes. Anything unexpected is
// logged and answered with a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidUserID):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrInvalidCartID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrCartNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart not found"})
	case errors.Is(err, models.ErrCartItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
	case errors.Is(err, models.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
	default:
		h.logger.Error("Cart request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func pathID(c *gin.Context, param, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger writes one structured line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
