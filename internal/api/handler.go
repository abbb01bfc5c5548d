package api

import (
	"net/http"
	"strconv"
	"time"

	"commerce-core/internal/service"
	"commerce-core/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orders   *service.OrderService
	statuses *service.StatusService
	payments *service.PaymentService
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, statuses *service.StatusService, payments *service.PaymentService) *Handler {
	return &Handler{
		orders:   orders,
		statuses: statuses,
		payments: payments,
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
		v1.POST("/orders", h.createOrder)
		v1.POST("/orders/validate", h.validateOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.DELETE("/orders/:id", h.deleteOrder)
		v1.POST("/orders/status/bulk", h.bulkUpdateStatus)

		v1.POST("/payments", h.processPayment)
		v1.POST("/payments/:reference/verify", h.verifyPayment)
		v1.POST("/payments/:reference/refund", h.refundPayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// sellerID resolves the tenant from the X-Seller-ID header, falling back
// to the seller_id query parameter. Every route requires one.
func sellerID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-Seller-ID")
	if raw == "" {
		raw = c.Query("seller_id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "missing or invalid seller id",
		})
		return uuid.Nil, false
	}
	return id, true
}

func actorID(c *gin.Context) string {
	return c.GetHeader("X-Actor-ID")
}

// pathUUID parses a uuid path parameter.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid " + name,
		})
		return uuid.Nil, false
	}
	return id, true
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.SellerID = seller
	req.ActorID = actorID(c)

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// validateOrder performs a dry-run against current inventory without
// persisting anything.
func (h *Handler) validateOrder(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.SellerID = seller
	req.ActorID = actorID(c)

	quote, err := h.orders.ValidateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID, seller)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// updateOrderStatus handles status transitions
func (h *Handler) updateOrderStatus(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.SellerID = seller
	req.ActorID = actorID(c)

	order, err := h.statuses.UpdateStatus(c.Request.Context(), orderID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// cancelOrder handles order cancellation. The body is optional.
func (h *Handler) cancelOrder(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req service.CancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}
	req.SellerID = seller
	req.ActorID = actorID(c)

	order, err := h.statuses.CancelOrder(c.Request.Context(), orderID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// deleteOrder soft-deletes a pending order
func (h *Handler) deleteOrder(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.statuses.DeleteOrder(c.Request.Context(), orderID, seller, actorID(c)); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// bulkUpdateStatus transitions many orders, reporting per-order outcomes
func (h *Handler) bulkUpdateStatus(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}

	var req service.BulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.SellerID = seller
	req.ActorID = actorID(c)

	result, err := h.statuses.BulkUpdateStatus(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// processPayment handles payment processing. A flagged payment is a
// successful response, not an error.
func (h *Handler) processPayment(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}

	var req service.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.SellerID = seller
	req.ActorID = actorID(c)
	req.ClientIP = c.ClientIP()
	req.IPCountry = c.GetHeader("CF-IPCountry")
	req.UserAgent = c.Request.UserAgent()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := h.payments.ProcessTransaction(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// verifyPayment re-checks a payment's status with its provider
func (h *Handler) verifyPayment(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}

	result, err := h.payments.VerifyPayment(c.Request.Context(), c.Param("reference"), seller, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// refundPayment refunds a successful payment, fully or partially.
// The body is optional; without it the full amount is refunded.
func (h *Handler) refundPayment(c *gin.Context) {
	seller, ok := sellerID(c)
	if !ok {
		return
	}

	var req service.RefundPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}
	req.SellerID = seller
	req.ActorID = actorID(c)

	outcome, err := h.payments.RefundPayment(c.Request.Context(), c.Param("reference"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
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
