package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Not-found errors deliberately do not distinguish "does not exist" from
// "exists under another tenant".
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

// OrderValidationError reports caller-correctable order input or state
// problems. Not retryable.
type OrderValidationError struct {
	Message string
}

func (e *OrderValidationError) Error() string {
	return fmt.Sprintf("order validation failed: %s", e.Message)
}

// NewOrderValidationError builds an OrderValidationError with a formatted
// message.
func NewOrderValidationError(format string, args ...interface{}) *OrderValidationError {
	return &OrderValidationError{Message: fmt.Sprintf(format, args...)}
}

// PaymentError reports caller-correctable payment input or tenant
// configuration problems. Not retryable.
type PaymentError struct {
	Message string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment rejected: %s", e.Message)
}

// NewPaymentError builds a PaymentError with a formatted message.
func NewPaymentError(format string, args ...interface{}) *PaymentError {
	return &PaymentError{Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports a status change outside the transition
// table. The order is left untouched.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

// InsufficientStockError reports a reservation that would drive inventory
// negative. The enclosing transaction rolls back entirely.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available=%d, requested=%d",
		e.ProductID, e.Available, e.Requested)
}
