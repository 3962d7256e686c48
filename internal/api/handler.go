package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"venue-orders/internal/ledger"
	"venue-orders/internal/models"
	"venue-orders/internal/notify"
	"venue-orders/internal/service"
	"venue-orders/internal/util"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires a Handler
type Deps struct {
	Orders    *service.OrderService
	Router    *notify.Router
	Loyalty   *ledger.Loyalty
	Stock     *ledger.Stock
	JWTSecret []byte
	// Heartbeat is the keep-alive interval of the event stream
	Heartbeat time.Duration
	Checks    map[string]Pinger
}

// staffRoles may follow whole tables, whose events carry other customers' ids
var staffRoles = []models.Role{
	models.RoleKitchen,
	models.RoleBar,
	models.RoleAttendant,
	models.RoleCashier,
	models.RoleAdmin,
	models.RoleManager,
}

// Handler contains HTTP handlers
type Handler struct {
	orders    *service.OrderService
	router    *notify.Router
	loyalty   *ledger.Loyalty
	stock     *ledger.Stock
	secret    []byte
	heartbeat time.Duration
	checks    map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}
	return &Handler{
		orders:    deps.Orders,
		router:    deps.Router,
		loyalty:   deps.Loyalty,
		stock:     deps.Stock,
		secret:    deps.JWTSecret,
		heartbeat: deps.Heartbeat,
		checks:    deps.Checks,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", authMiddleware(h.secret))
	{
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/transitions", h.transitionOrder)
		v1.POST("/orders/:id/subscription", h.subscribe)
		v1.DELETE("/orders/:id/subscription", h.unsubscribe)
		v1.POST("/orders/:id/cashback", h.redeemCashback)

		tables := v1.Group("/tables", requireRoles(staffRoles...))
		{
			tables.POST("/:id/subscription", h.subscribeTable)
			tables.DELETE("/:id/subscription", h.unsubscribeTable)
		}

		v1.GET("/stream", h.stream)

		v1.GET("/customers/:id/loyalty", h.listLoyalty)
		v1.POST("/customers/:id/loyalty/bonus", requireRoles(models.RoleAdmin, models.RoleManager), h.grantBonus)

		v1.GET("/products/:id/stock", h.getStock)
		v1.POST("/products/:id/stock", requireRoles(models.RoleAdmin, models.RoleManager), h.adjustStock)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every configured dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.checks {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{
		"error":   http.StatusText(status),
		"details": err.Error(),
	})
}

func pageFrom(c *gin.Context) (models.Page, error) {
	var page models.Page
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return page, models.ErrInvalidInput
		}
		page.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return page, models.ErrInvalidInput
		}
		page.Offset = offset
	}
	return page.Normalize(), nil
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
