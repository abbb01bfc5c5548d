package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commerce-core/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrDuplicatePayment is returned when a payment insert collides with an
// existing idempotency key or reference.
var ErrDuplicatePayment = errors.New("duplicate payment")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Transact runs fn inside a transaction. Any error from fn rolls the whole
// transaction back; a nil return commits it.
func (s *Store) Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// GetProduct retrieves a product scoped by tenant. Missing rows and rows
// owned by another tenant are indistinguishable.
func (s *Store) GetProduct(ctx context.Context, productID, sellerID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 AND seller_id = $2", productID, sellerID)
	if err == sql.ErrNoRows {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ReserveProductTx locks the product row (SELECT ... FOR UPDATE), verifies
// the requested quantity is available, and decrements inventory in place.
// The lock is held until the enclosing transaction commits or rolls back.
func (s *Store) ReserveProductTx(ctx context.Context, tx *sqlx.Tx, productID, sellerID uuid.UUID, quantity int) (*models.Product, error) {
	var product models.Product
	err := tx.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 AND seller_id = $2 FOR UPDATE", productID, sellerID)
	if err == sql.ErrNoRows {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}

	if product.InventoryQuantity < quantity {
		return nil, &models.InsufficientStockError{
			ProductID: productID,
			Available: product.InventoryQuantity,
			Requested: quantity,
		}
	}

	err = tx.GetContext(ctx, &product, `
		UPDATE products
		SET inventory_quantity = inventory_quantity - $1, updated_at = NOW()
		WHERE id = $2
		RETURNING *`,
		quantity, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrement inventory: %w", err)
	}

	return &product, nil
}

// GetPaymentSettings retrieves a tenant's payment settings. A missing row
// returns (nil, nil); callers treat that as online payments disabled.
func (s *Store) GetPaymentSettings(ctx context.Context, sellerID uuid.UUID) (*models.PaymentSettings, error) {
	var settings models.PaymentSettings
	err := s.db.GetContext(ctx, &settings,
		"SELECT * FROM payment_settings WHERE seller_id = $1", sellerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// CreateAuditLog inserts an audit trail entry.
func (s *Store) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, seller_id, action_type, resource_type, resource_id, actor_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.SellerID, entry.ActionType, entry.ResourceType,
		entry.ResourceID, entry.ActorID, entry.Details)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
