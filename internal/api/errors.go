package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"commerce-core/internal/circuit"
	"commerce-core/internal/models"
	"commerce-core/internal/payments"

	"github.com/gin-gonic/gin"
)

// respondError maps a service error onto an HTTP status and JSON body.
// Not-found, validation, state-conflict, provider, and breaker failures
// each get a distinct status so callers can tell retryable from
// caller-correctable without parsing messages.
func respondError(c *gin.Context, err error) {
	var (
		validation *models.OrderValidationError
		payment    *models.PaymentError
		transition *models.InvalidTransitionError
		stock      *models.InsufficientStockError
		provider   *payments.ProviderError
		breaker    *circuit.CircuitBreakerError
	)

	switch {
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": validation.Error()})

	case errors.As(err, &payment):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": payment.Error()})

	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{
			"error": transition.Error(),
			"from":  transition.From,
			"to":    transition.To,
		})

	case errors.As(err, &stock):
		c.JSON(http.StatusConflict, gin.H{
			"error":      stock.Error(),
			"product_id": stock.ProductID,
			"available":  stock.Available,
			"requested":  stock.Requested,
		})

	case errors.As(err, &breaker):
		retryAfter := int(math.Ceil(breaker.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    breaker.Error(),
			"provider": breaker.Provider,
		})

	case errors.As(err, &provider):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "payment provider error",
			"details":  provider.Message,
			"provider": provider.Provider,
		})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// respondBindError reports a malformed or incomplete request body.
func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
