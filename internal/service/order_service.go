package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commerce-core/internal/audit"
	"commerce-core/internal/eventbus"
	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// orderStore is the persistence surface OrderService depends on.
type orderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem, meta *models.OrderChannelMeta) error
	GetOrder(ctx context.Context, orderID, sellerID uuid.UUID) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
}

// OrderService validates and atomically creates orders, deducting inventory
// in the same transaction.
type OrderService struct {
	store     orderStore
	inventory *InventoryLedger
	bus       *eventbus.Bus
	audit     *audit.Recorder
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store orderStore, inventory *InventoryLedger, bus *eventbus.Bus, auditor *audit.Recorder) *OrderService {
	return &OrderService{
		store:     store,
		inventory: inventory,
		bus:       bus,
		audit:     auditor,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	SellerID        uuid.UUID           `json:"-"`
	ActorID         string              `json:"-"`
	ProductID       uuid.UUID           `json:"product_id" binding:"required"`
	BuyerName       string              `json:"buyer_name" binding:"required"`
	BuyerPhone      string              `json:"buyer_phone" binding:"required"`
	BuyerEmail      string              `json:"buyer_email,omitempty"`
	ShippingAddress string              `json:"shipping_address,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	Quantity        int                 `json:"quantity,omitempty"`
	TotalAmount     *decimal.Decimal    `json:"total_amount,omitempty"`
	OrderSource     string              `json:"order_source" binding:"required"`
	Items           []OrderItemRequest  `json:"items,omitempty"`
	ChannelMeta     *ChannelMetaRequest `json:"channel_metadata,omitempty"`
}

// OrderItemRequest represents a line item in an order request. Unit prices
// are supplied by the caller (the chat engine quotes them during checkout)
// and snapshotted onto the item.
type OrderItemRequest struct {
	ProductID uuid.UUID       `json:"product_id" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ChannelMetaRequest carries originating-channel identifiers
type ChannelMetaRequest struct {
	MessageID     string `json:"message_id,omitempty"`
	ChatSessionID string `json:"chat_session_id,omitempty"`
}

// orderDerivation is the quantity and total resolved from a create request,
// either aggregated from line items or taken from the explicit fields.
type orderDerivation struct {
	Quantity int
	Total    decimal.Decimal
}

// validateCreateOrder checks a creation request and derives its quantity
// and total. It is a pure function so the same rules back both CreateOrder
// and ValidateOrder.
func validateCreateOrder(req *CreateOrderRequest) (*orderDerivation, error) {
	if req.SellerID == uuid.Nil {
		return nil, models.NewOrderValidationError("seller_id is required")
	}
	if req.ProductID == uuid.Nil {
		return nil, models.NewOrderValidationError("product_id is required")
	}
	if strings.TrimSpace(req.BuyerName) == "" {
		return nil, models.NewOrderValidationError("buyer_name is required")
	}
	if strings.TrimSpace(req.BuyerPhone) == "" {
		return nil, models.NewOrderValidationError("buyer_phone is required")
	}

	source := models.ChannelType(req.OrderSource)
	if !source.Valid() {
		return nil, models.NewOrderValidationError("unknown order source %q", req.OrderSource)
	}
	if source == models.ChannelWebsite && strings.TrimSpace(req.BuyerEmail) == "" {
		return nil, models.NewOrderValidationError("buyer_email is required for website orders")
	}

	if len(req.Items) == 0 {
		if req.Quantity <= 0 {
			return nil, models.NewOrderValidationError("quantity must be positive")
		}
		if req.TotalAmount == nil {
			return nil, models.NewOrderValidationError("total_amount is required when no items are given")
		}
		if !req.TotalAmount.IsPositive() {
			return nil, models.NewOrderValidationError("total_amount must be positive")
		}
		return &orderDerivation{Quantity: req.Quantity, Total: *req.TotalAmount}, nil
	}

	quantity := 0
	total := decimal.Zero
	for i, item := range req.Items {
		if item.ProductID == uuid.Nil {
			return nil, models.NewOrderValidationError("item %d: product_id is required", i)
		}
		if item.Quantity <= 0 {
			return nil, models.NewOrderValidationError("item %d: quantity must be positive", i)
		}
		if item.UnitPrice.IsNegative() {
			return nil, models.NewOrderValidationError("item %d: unit_price cannot be negative", i)
		}
		quantity += item.Quantity
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if req.TotalAmount != nil && !req.TotalAmount.Equal(total) {
		return nil, models.NewOrderValidationError(
			"total_amount %s does not match items total %s", req.TotalAmount, total)
	}

	return &orderDerivation{Quantity: quantity, Total: total}, nil
}

// CreateOrder validates the request, reserves inventory, and persists the
// order with its items and channel metadata in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartTenantSpan(ctx, "OrderService.CreateOrder", req.SellerID)
	defer span.End()

	derived, err := validateCreateOrder(req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	order := &models.Order{
		ID:              uuid.New(),
		SellerID:        req.SellerID,
		ProductID:       req.ProductID,
		BuyerName:       req.BuyerName,
		BuyerPhone:      req.BuyerPhone,
		BuyerEmail:      req.BuyerEmail,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		Quantity:        derived.Quantity,
		TotalAmount:     derived.Total,
		Status:          models.OrderStatusPending,
		OrderSource:     models.ChannelType(req.OrderSource),
	}

	items := buildOrderItems(order.ID, req.Items)
	meta := buildChannelMeta(order.ID, order.OrderSource, req.ChannelMeta)

	start := time.Now()
	err = s.store.CreateOrder(ctx, order, items, meta)
	util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		var stockErr *models.InsufficientStockError
		switch {
		case errors.As(err, &stockErr):
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		case errors.Is(err, models.ErrProductNotFound):
			util.OrdersFailedTotal.WithLabelValues("product_not_found").Inc()
		default:
			util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", order.SellerID.String()),
		zap.String("order_source", string(order.OrderSource)),
		zap.Int("quantity", order.Quantity))

	s.inventory.Invalidate(ctx, order.ProductID)

	s.bus.Publish(eventbus.Event{
		Type:     models.EventTypeOrderCreated,
		TenantID: order.SellerID.String(),
		Payload: models.OrderCreatedPayload{
			OrderID:     order.ID,
			SellerID:    order.SellerID,
			ProductID:   order.ProductID,
			BuyerName:   order.BuyerName,
			Quantity:    order.Quantity,
			TotalAmount: order.TotalAmount,
			Status:      order.Status,
			OrderSource: order.OrderSource,
			Items:       itemEventData(order.Items),
		},
	})

	s.audit.Record(ctx, order.SellerID, audit.ActionOrderCreated, "order", order.ID.String(), req.ActorID, map[string]interface{}{
		"buyer_name":   order.BuyerName,
		"buyer_phone":  util.MaskPhone(order.BuyerPhone),
		"quantity":     order.Quantity,
		"total_amount": order.TotalAmount.String(),
		"order_source": order.OrderSource,
	})

	return order, nil
}

// OrderQuote is the result of a validation-only pre-flight: what the order
// would total, and how much stock is available right now.
type OrderQuote struct {
	ProductID   uuid.UUID       `json:"product_id"`
	Quantity    int             `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Available   int             `json:"available"`
}

// ValidateOrder performs the same checks as CreateOrder without mutating
// state. The conversational checkout flow calls this before asking the
// buyer to confirm.
func (s *OrderService) ValidateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderQuote, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ValidateOrder")
	defer span.End()

	derived, err := validateCreateOrder(req)
	if err != nil {
		return nil, err
	}

	available, err := s.inventory.Available(ctx, req.ProductID, req.SellerID)
	if err != nil {
		return nil, err
	}
	if available < derived.Quantity {
		return nil, &models.InsufficientStockError{
			ProductID: req.ProductID,
			Available: available,
			Requested: derived.Quantity,
		}
	}

	return &OrderQuote{
		ProductID:   req.ProductID,
		Quantity:    derived.Quantity,
		TotalAmount: derived.Total,
		Available:   available,
	}, nil
}

// GetOrder retrieves an order with its line items, scoped to the seller.
func (s *OrderService) GetOrder(ctx context.Context, orderID, sellerID uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrder(ctx, orderID, sellerID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	order.Items = items

	return order, nil
}

func buildOrderItems(orderID uuid.UUID, items []OrderItemRequest) []models.OrderItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}
	return out
}

func buildChannelMeta(orderID uuid.UUID, channel models.ChannelType, meta *ChannelMetaRequest) *models.OrderChannelMeta {
	if meta == nil || (meta.MessageID == "" && meta.ChatSessionID == "") {
		return nil
	}
	out := &models.OrderChannelMeta{
		ID:      uuid.New(),
		OrderID: orderID,
		Channel: channel,
	}
	if meta.MessageID != "" {
		out.MessageID.String = meta.MessageID
		out.MessageID.Valid = true
	}
	if meta.ChatSessionID != "" {
		out.ChatSessionID.String = meta.ChatSessionID
		out.ChatSessionID.Valid = true
	}
	return out
}

func itemEventData(items []models.OrderItem) []models.OrderItemData {
	if len(items) == 0 {
		return nil
	}
	out := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		out = append(out, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return out
}
