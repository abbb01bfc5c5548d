package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Order statuses. Transitions between them are enforced by the status
// machine; cancelled and returned are terminal.
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusReturned:
		return true
	}
	return false
}

// ChannelType identifies the channel an order originated from.
type ChannelType string

const (
	ChannelWhatsApp  ChannelType = "whatsapp"
	ChannelWebsite   ChannelType = "website"
	ChannelInstagram ChannelType = "instagram"
)

// Valid reports whether c is a known order channel.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelWebsite, ChannelInstagram:
		return true
	}
	return false
}

// PaymentStatus is the state of a payment attempt, independent of the
// order's status.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusFlagged PaymentStatus = "flagged"
)

// Product is referenced, never owned, by orders. inventory_quantity is
// mutated only under a row lock during order creation and never goes
// negative.
type Product struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	SellerID          uuid.UUID       `db:"seller_id" json:"seller_id"`
	Name              string          `db:"name" json:"name"`
	Price             decimal.Decimal `db:"price" json:"price"`
	InventoryQuantity int             `db:"inventory_quantity" json:"inventory_quantity"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Order is the root aggregate. Soft-deleted rows (is_deleted) are excluded
// from every query; version increments on every mutation.
type Order struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	SellerID           uuid.UUID       `db:"seller_id" json:"seller_id"`
	ProductID          uuid.UUID       `db:"product_id" json:"product_id"`
	BuyerName          string          `db:"buyer_name" json:"buyer_name"`
	BuyerPhone         string          `db:"buyer_phone" json:"buyer_phone"`
	BuyerEmail         string          `db:"buyer_email" json:"buyer_email,omitempty"`
	ShippingAddress    string          `db:"shipping_address" json:"shipping_address,omitempty"`
	Notes              string          `db:"notes" json:"notes,omitempty"`
	Quantity           int             `db:"quantity" json:"quantity"`
	TotalAmount        decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status             OrderStatus     `db:"status" json:"status"`
	OrderSource        ChannelType     `db:"order_source" json:"order_source"`
	IsDeleted          bool            `db:"is_deleted" json:"-"`
	Version            int             `db:"version" json:"version"`
	CancellationReason sql.NullString  `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledAt        sql.NullTime    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ReturnReason       sql.NullString  `db:"return_reason" json:"return_reason,omitempty"`
	ReturnedAt         sql.NullTime    `db:"returned_at" json:"returned_at,omitempty"`
	TrackingNumber     sql.NullString  `db:"tracking_number" json:"tracking_number,omitempty"`
	ShippingCarrier    sql.NullString  `db:"shipping_carrier" json:"shipping_carrier,omitempty"`
	NotificationSent   bool            `db:"notification_sent" json:"notification_sent"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem is a line item owned by an order. Subtotal is computed at
// creation (quantity x unit price) and never recomputed.
type OrderItem struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	OrderID   uuid.UUID       `db:"order_id" json:"order_id"`
	ProductID uuid.UUID       `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// OrderChannelMeta records the originating channel identifiers for an
// order. Written once at creation, immutable thereafter.
type OrderChannelMeta struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	OrderID       uuid.UUID      `db:"order_id" json:"order_id"`
	Channel       ChannelType    `db:"channel" json:"channel"`
	MessageID     sql.NullString `db:"message_id" json:"message_id,omitempty"`
	ChatSessionID sql.NullString `db:"chat_session_id" json:"chat_session_id,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// Payment is a charge attempt against an order. The reference is minted and
// signed by this service; provider_reference is assigned by the provider.
// Metadata is an encrypted blob and never logged raw.
type Payment struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	OrderID           uuid.UUID       `db:"order_id" json:"order_id"`
	SellerID          uuid.UUID       `db:"seller_id" json:"seller_id"`
	IdempotencyKey    string          `db:"idempotency_key" json:"idempotency_key"`
	Reference         string          `db:"reference" json:"reference"`
	ProviderReference sql.NullString  `db:"provider_reference" json:"provider_reference,omitempty"`
	Provider          string          `db:"provider" json:"provider"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	Status            PaymentStatus   `db:"status" json:"status"`
	RiskScore         float64         `db:"risk_score" json:"risk_score"`
	Metadata          string          `db:"metadata" json:"-"`
	FailureReason     sql.NullString  `db:"failure_reason" json:"failure_reason,omitempty"`
	VerifiedAt        sql.NullTime    `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// PaymentSettings holds a tenant's payment configuration. A missing row
// means online payments are disabled for that tenant.
type PaymentSettings struct {
	SellerID              uuid.UUID      `db:"seller_id" json:"seller_id"`
	OnlinePaymentsEnabled bool           `db:"online_payments_enabled" json:"online_payments_enabled"`
	DefaultProvider       string         `db:"default_provider" json:"default_provider"`
	EnabledProviders      pq.StringArray `db:"enabled_providers" json:"enabled_providers"`
	AllowedCurrencies     pq.StringArray `db:"allowed_currencies" json:"allowed_currencies"`
	PaystackSecretKey     string         `db:"paystack_secret_key" json:"-"`
	FlutterwaveSecretKey  string         `db:"flutterwave_secret_key" json:"-"`
	StripeSecretKey       string         `db:"stripe_secret_key" json:"-"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// AuditLog is a best-effort trail entry written after state-changing
// operations. Sensitive values in details are masked before persistence.
type AuditLog struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	SellerID     uuid.UUID      `db:"seller_id" json:"seller_id"`
	ActionType   string         `db:"action_type" json:"action_type"`
	ResourceType string         `db:"resource_type" json:"resource_type"`
	ResourceID   string         `db:"resource_id" json:"resource_id"`
	ActorID      string         `db:"actor_id" json:"actor_id"`
	Details      types.JSONText `db:"details" json:"details"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}
