package service

import (
	"context"
	"time"

	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const inventoryCacheTTL = 30 * time.Second

type inventoryStore interface {
	GetProduct(ctx context.Context, productID, sellerID uuid.UUID) (*models.Product, error)
}

type inventoryCache interface {
	GetCachedInventory(ctx context.Context, productID uuid.UUID) (int, bool, error)
	SetCachedInventory(ctx context.Context, productID uuid.UUID, quantity int, ttl time.Duration) error
	InvalidateInventory(ctx context.Context, productID uuid.UUID) error
}

// InventoryLedger serves product availability through a Redis read-through
// cache. Reservations are decremented under a row lock in Postgres; the
// ledger only answers availability reads and keeps the cache in step after
// writes.
type InventoryLedger struct {
	store  inventoryStore
	cache  inventoryCache
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(store inventoryStore, cache inventoryCache) *InventoryLedger {
	return &InventoryLedger{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Available returns the current available quantity for a product, from
// cache when fresh and from the database otherwise.
func (l *InventoryLedger) Available(ctx context.Context, productID, sellerID uuid.UUID) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Available")
	defer span.End()

	quantity, hit, err := l.cache.GetCachedInventory(ctx, productID)
	if err != nil {
		l.logger.Warn("Inventory cache read failed, falling back to DB",
			zap.String("product_id", productID.String()),
			zap.Error(err))
	} else if hit {
		return quantity, nil
	}

	product, err := l.store.GetProduct(ctx, productID, sellerID)
	if err != nil {
		return 0, err
	}

	if err := l.cache.SetCachedInventory(ctx, productID, product.InventoryQuantity, inventoryCacheTTL); err != nil {
		l.logger.Warn("Failed to cache inventory",
			zap.String("product_id", productID.String()),
			zap.Error(err))
	}
	return product.InventoryQuantity, nil
}

// Invalidate drops cached availability after a reservation or restock so
// the next read reflects the database.
func (l *InventoryLedger) Invalidate(ctx context.Context, productIDs ...uuid.UUID) {
	for _, productID := range productIDs {
		if err := l.cache.InvalidateInventory(ctx, productID); err != nil {
			l.logger.Warn("Failed to invalidate inventory cache",
				zap.String("product_id", productID.String()),
				zap.Error(err))
		}
	}
}
