package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"material-orders/internal/lifecycle"
	"material-orders/internal/models"
	"material-orders/internal/service"
	"material-orders/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderService is what the handler needs for placement and reads
type OrderService interface {
	PlaceOrder(ctx context.Context, req *service.PlaceOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetHistory(ctx context.Context, orderID string) ([]models.OrderStateHistory, error)
	AdminQueue(ctx context.Context, statuses []models.OrderStatus) ([]service.QueueEntry, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
	ListOrdersBySeller(ctx context.Context, sellerID string) ([]models.Order, error)
}

// LifecycleService is what the handler needs to move orders
type LifecycleService interface {
	ApplyTransition(ctx context.Context, orderID string, action lifecycle.Action, actorID, note string) (*models.Order, error)
	AdvanceFulfillment(ctx context.Context, orderID string, target models.OrderStatus, actorID, note string) (*models.Order, error)
}

// PaymentService is what the handler needs for payments
type PaymentService interface {
	RecordPayment(ctx context.Context, orderID string, req *service.RecordPaymentRequest) (*models.Payment, *models.Order, error)
	ListPayments(ctx context.Context, orderID string) ([]models.Payment, error)
}

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders    OrderService
	lifecycle LifecycleService
	payments  PaymentService
	deps      map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are pinged by the readiness check.
func NewHandler(orders OrderService, lc LifecycleService, payments PaymentService, deps map[string]Pinger) *Handler {
	return &Handler{
		orders:    orders,
		lifecycle: lc,
		payments:  payments,
		deps:      deps,
		logger:    util.GetLogger(),
	}
}

// TransitionRequest is the body of POST /orders/:id/transitions
type TransitionRequest struct {
	Action  string `json:"action" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
	Note    string `json:"note"`
}

// FulfillmentRequest is the body of POST /orders/:id/fulfillment
type FulfillmentRequest struct {
	Status  string `json:"status" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
	Note    string `json:"note"`
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
		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/history", h.getHistory)
		v1.POST("/orders/:id/transitions", h.applyTransition)
		v1.POST("/orders/:id/fulfillment", h.advanceFulfillment)
		v1.GET("/orders/:id/payments", h.listPayments)
		v1.POST("/orders/:id/payments", h.recordPayment)

		v1.GET("/admin/queue", h.adminQueue)
		v1.GET("/customers/:id/orders", h.customerOrders)
		v1.GET("/sellers/:id/orders", h.sellerOrders)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// placeOrder handles order placement
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to place order", err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) getHistory(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	history, err := h.orders.GetHistory(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get order history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "history": history})
}

// applyTransition runs one verification step
func (h *Handler) applyTransition(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	action, err := lifecycle.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid action",
			"details": err.Error(),
		})
		return
	}

	order, err := h.lifecycle.ApplyTransition(c.Request.Context(), orderID, action, req.ActorID, req.Note)
	if err != nil {
		h.writeError(c, "Failed to apply transition", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) advanceFulfillment(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req FulfillmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	target := models.OrderStatus(req.Status)
	if !target.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid status",
			"details": req.Status,
		})
		return
	}

	order, err := h.lifecycle.AdvanceFulfillment(c.Request.Context(), orderID, target, req.ActorID, req.Note)
	if err != nil {
		h.writeError(c, "Failed to advance fulfillment", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) listPayments(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	payments, err := h.payments.ListPayments(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to list payments", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "payments": payments})
}

func (h *Handler) recordPayment(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	payment, order, err := h.payments.RecordPayment(c.Request.Context(), orderID, &req)
	if err != nil {
		h.writeError(c, "Failed to record payment", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"payment":        payment,
		"payment_status": order.PaymentStatus,
	})
}

// adminQueue lists orders awaiting verification; ?status=a,b narrows it
func (h *Handler) adminQueue(c *gin.Context) {
	var statuses []models.OrderStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.OrderStatus(s))
			}
		}
	}

	queue, err := h.orders.AdminQueue(c.Request.Context(), statuses)
	if err != nil {
		h.writeError(c, "Failed to load queue", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": queue, "count": len(queue)})
}

func (h *Handler) customerOrders(c *gin.Context) {
	orders, err := h.orders.ListOrdersByCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) sellerOrders(c *gin.Context) {
	orders, err := h.orders.ListOrdersBySeller(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func orderIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return "", false
	}
	return id, true
}

// writeError maps domain errors onto status codes
func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found", "details": err.Error()})
	case errors.Is(err, models.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": msg, "details": err.Error(), "retryable": true})
	case errors.Is(err, models.ErrDuplicateOrder):
		c.JSON(http.StatusConflict, gin.H{"error": msg, "details": err.Error(), "retryable": false})
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, models.ErrInvalidOrder),
		errors.Is(err, models.ErrInvalidPayment):
		c.JSON(http.StatusBadRequest, gin.H{"error": msg, "details": err.Error()})
	default:
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
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
