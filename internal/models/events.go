package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published on the domain event bus and relayed to Kafka.
const (
	EventTypeOrderCreated     = "order_created"
	EventTypeStatusChanged    = "status_changed"
	EventTypeOrderDeleted     = "order_deleted"
	EventTypePaymentProcessed = "payment_processed"
	EventTypePaymentRefunded  = "payment_refunded"
)

// OrderCreatedPayload describes a newly created order.
type OrderCreatedPayload struct {
	OrderID     uuid.UUID       `json:"order_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	BuyerName   string          `json:"buyer_name"`
	Quantity    int             `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	OrderSource ChannelType     `json:"order_source"`
	Items       []OrderItemData `json:"items,omitempty"`
}

// StatusChangedPayload describes a committed status transition.
type StatusChangedPayload struct {
	OrderID        uuid.UUID   `json:"order_id"`
	SellerID       uuid.UUID   `json:"seller_id"`
	PreviousStatus OrderStatus `json:"previous_status"`
	NewStatus      OrderStatus `json:"new_status"`
	Reason         string      `json:"reason,omitempty"`
	Version        int         `json:"version"`
}

// OrderDeletedPayload describes a soft-deleted order.
type OrderDeletedPayload struct {
	OrderID  uuid.UUID `json:"order_id"`
	SellerID uuid.UUID `json:"seller_id"`
}

// PaymentProcessedPayload describes the outcome of a payment attempt,
// including flagged-for-review short circuits.
type PaymentProcessedPayload struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	OrderID   uuid.UUID       `json:"order_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Reference string          `json:"reference"`
	Provider  string          `json:"provider,omitempty"`
	Status    PaymentStatus   `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	RiskScore float64         `json:"risk_score"`
}

// PaymentRefundedPayload describes a recorded refund sub-record.
type PaymentRefundedPayload struct {
	PaymentID       uuid.UUID       `json:"payment_id"`
	OrderID         uuid.UUID       `json:"order_id"`
	SellerID        uuid.UUID       `json:"seller_id"`
	Reference       string          `json:"reference"`
	RefundReference string          `json:"refund_reference"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason,omitempty"`
}

// OrderItemData is the line-item shape carried inside events.
type OrderItemData struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}
