package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/service"
	"levelup-loyalty/internal/store"
	"levelup-loyalty/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	users       *service.UserService
	catalog     *service.CatalogService
	redemptions *service.RedemptionService
	purchases   *service.PurchaseService
	gw          *store.Gateway
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	users *service.UserService,
	catalog *service.CatalogService,
	redemptions *service.RedemptionService,
	purchases *service.PurchaseService,
	gw *store.Gateway,
) *Handler {
	return &Handler{
		users:       users,
		catalog:     catalog,
		redemptions: redemptions,
		purchases:   purchases,
		gw:          gw,
		logger:      util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/events", h.listEvents)

		v1.GET("/products", h.listProducts)
		v1.POST("/products", h.createProduct)
		v1.GET("/products/redeemable", h.listRedeemable)
		v1.GET("/products/:codigo", h.getProduct)
		v1.PATCH("/products/:codigo", h.updateProduct)

		v1.GET("/users", h.listUsers)
		v1.POST("/users", h.createUser)
		v1.GET("/users/:id", h.getUser)
		v1.GET("/users/:id/points", h.getPoints)
		v1.POST("/users/:id/points", h.grantPoints)
		v1.GET("/users/:id/history", h.getHistory)
		v1.GET("/users/:id/redemptions", h.listUserRedemptions)
		v1.GET("/users/:id/orders", h.listUserOrders)

		v1.GET("/redemptions", h.listRedemptions)
		v1.POST("/redemptions", h.createRedemption)
		v1.GET("/redemptions/:id", h.getRedemption)
		v1.PATCH("/redemptions/:id", h.updateRedemption)
		v1.DELETE("/redemptions/:id", h.deleteRedemption)
		v1.POST("/redemptions/:id/status", h.transitionRedemption)

		v1.GET("/orders", h.listOrders)
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/stats", h.orderStats)
		v1.GET("/orders/recent", h.recentOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id", h.updateOrder)
		v1.DELETE("/orders/:id", h.deleteOrder)
		v1.POST("/orders/:id/status", h.transitionOrder)

		v1.GET("/admin/journal", h.listJournal)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports which storage backends are reachable. The service
// stays ready while at least one of them is.
func (h *Handler) readinessCheck(c *gin.Context) {
	backends := h.gw.Health(c.Request.Context())

	ready := false
	for _, up := range backends {
		if up {
			ready = true
			break
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"backends": backends,
		"time":     time.Now().Unix(),
	})
}

// listEvents serves the community events collection
func (h *Handler) listEvents(c *gin.Context) {
	events := store.ReadCollection[models.Event](c.Request.Context(), h.gw, store.KeyEvents)
	c.JSON(http.StatusOK, events)
}

// statusChangeRequest is the body of a status transition
type statusChangeRequest struct {
	Estado string `json:"estado" binding:"required"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// writeError maps a service error onto an HTTP response. Domain failures
// carry their code so clients can show an inline message.
func (h *Handler) writeError(c *gin.Context, err error, action string) {
	var domainErr *models.DomainError
	if !errors.As(err, &domainErr) {
		h.logger.Error(action+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   action + " failed",
			"details": err.Error(),
		})
		return
	}

	status := http.StatusUnprocessableEntity
	message := domainErr.Message
	switch domainErr.Code {
	case models.ErrCodeNotFound:
		status = http.StatusNotFound
	case models.ErrCodeInsufficientPoints, models.ErrCodeOutOfStock, models.ErrCodeInvalidTransition:
		status = http.StatusConflict
	case models.ErrCodePersistenceUnavailable:
		status = http.StatusServiceUnavailable
		message = "storage is unavailable, try again"
		h.logger.Error(action+" failed", zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   message,
		"code":    domainErr.Code,
		"details": domainErr.Context,
	})
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
