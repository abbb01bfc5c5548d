package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"commerce-core/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// OrderPatch is an explicit set of order fields to change in one locked
// update. Nil fields are left untouched; version and updated_at always
// advance.
type OrderPatch struct {
	Status             *models.OrderStatus
	CancellationReason *string
	CancelledAt        *time.Time
	ReturnReason       *string
	ReturnedAt         *time.Time
	TrackingNumber     *string
	ShippingCarrier    *string
	IsDeleted          *bool
}

// CreateOrder atomically reserves inventory and inserts the order, its line
// items, and optional channel metadata in one transaction. Any failure
// rolls back every write, including the inventory decrement.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem, meta *models.OrderChannelMeta) error {
	return s.Transact(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.ReserveProductTx(ctx, tx, order.ProductID, order.SellerID, order.Quantity); err != nil {
			return err
		}

		err := tx.GetContext(ctx, order, `
			INSERT INTO orders (
				id, seller_id, product_id, buyer_name, buyer_phone, buyer_email,
				shipping_address, notes, quantity, total_amount, status, order_source
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING *`,
			order.ID, order.SellerID, order.ProductID, order.BuyerName, order.BuyerPhone,
			order.BuyerEmail, order.ShippingAddress, order.Notes, order.Quantity,
			order.TotalAmount, order.Status, order.OrderSource)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
			err := tx.GetContext(ctx, &items[i], `
				INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING *`,
				items[i].ID, items[i].OrderID, items[i].ProductID,
				items[i].Quantity, items[i].UnitPrice, items[i].Subtotal)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		if meta != nil {
			meta.OrderID = order.ID
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_channel_meta (id, order_id, channel, message_id, chat_session_id)
				VALUES ($1, $2, $3, $4, $5)`,
				meta.ID, meta.OrderID, meta.Channel, meta.MessageID, meta.ChatSessionID)
			if err != nil {
				return fmt.Errorf("failed to insert channel metadata: %w", err)
			}
		}

		order.Items = items
		return nil
	})
}

// GetOrder retrieves an order scoped by tenant. Soft-deleted orders are
// invisible.
func (s *Store) GetOrder(ctx context.Context, orderID, sellerID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 AND seller_id = $2 AND is_deleted = FALSE",
		orderID, sellerID)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all line items for an order.
func (s *Store) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY created_at", orderID)
	return items, err
}

// MutateOrder locks the order row, runs mutate against the current state,
// and applies the returned patch with a version bump. A nil patch commits
// nothing and returns the row as read (idempotent no-op); an error from
// mutate rolls back without touching the row.
func (s *Store) MutateOrder(ctx context.Context, orderID, sellerID uuid.UUID, mutate func(current *models.Order) (*OrderPatch, error)) (*models.Order, error) {
	var result *models.Order
	err := s.Transact(ctx, func(tx *sqlx.Tx) error {
		var order models.Order
		err := tx.GetContext(ctx, &order,
			"SELECT * FROM orders WHERE id = $1 AND seller_id = $2 AND is_deleted = FALSE FOR UPDATE",
			orderID, sellerID)
		if err == sql.ErrNoRows {
			return models.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		patch, err := mutate(&order)
		if err != nil {
			return err
		}
		if patch == nil {
			result = &order
			return nil
		}

		set := []string{"version = version + 1", "updated_at = NOW()"}
		args := []interface{}{}
		next := 1
		appendSet := func(column string, value interface{}) {
			set = append(set, fmt.Sprintf("%s = $%d", column, next))
			args = append(args, value)
			next++
		}

		if patch.Status != nil {
			appendSet("status", *patch.Status)
		}
		if patch.CancellationReason != nil {
			appendSet("cancellation_reason", *patch.CancellationReason)
		}
		if patch.CancelledAt != nil {
			appendSet("cancelled_at", *patch.CancelledAt)
		}
		if patch.ReturnReason != nil {
			appendSet("return_reason", *patch.ReturnReason)
		}
		if patch.ReturnedAt != nil {
			appendSet("returned_at", *patch.ReturnedAt)
		}
		if patch.TrackingNumber != nil {
			appendSet("tracking_number", *patch.TrackingNumber)
		}
		if patch.ShippingCarrier != nil {
			appendSet("shipping_carrier", *patch.ShippingCarrier)
		}
		if patch.IsDeleted != nil {
			appendSet("is_deleted", *patch.IsDeleted)
		}

		query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d RETURNING *",
			strings.Join(set, ", "), next)
		args = append(args, order.ID)

		var updated models.Order
		if err := tx.GetContext(ctx, &updated, query, args...); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		result = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkOrderNotified flips the notification flag after a dispatched
// notification. Counts as a mutation, so version advances.
func (s *Store) MarkOrderNotified(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET notification_sent = TRUE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE AND notification_sent = FALSE`,
		orderID)
	return err
}
