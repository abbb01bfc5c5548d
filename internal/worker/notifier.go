package worker

import (
	"context"
	"fmt"
	"time"

	"commerce-core/internal/eventbus"
	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type notifierStore interface {
	MarkOrderNotified(ctx context.Context, orderID uuid.UUID) error
}

// Notifier consumes order_created events and records that the seller was
// told about the order. It stands in for the dashboard broadcaster, which
// subscribes to the same bus out of process via the Kafka relay.
type Notifier struct {
	store       notifierStore
	logger      *zap.Logger
	timeout     time.Duration
	unsubscribe func()
}

// NewNotifier subscribes the notifier to the bus.
func NewNotifier(bus *eventbus.Bus, store notifierStore) *Notifier {
	n := &Notifier{
		store:   store,
		logger:  util.GetLogger(),
		timeout: 10 * time.Second,
	}
	n.unsubscribe = bus.Subscribe(models.EventTypeOrderCreated, n.handleOrderCreated)
	return n
}

func (n *Notifier) handleOrderCreated(event eventbus.Event) error {
	payload, ok := event.Payload.(models.OrderCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected order_created payload type %T", event.Payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	n.logger.Info("Dispatching new order notification",
		zap.String("order_id", payload.OrderID.String()),
		zap.String("seller_id", payload.SellerID.String()),
		zap.String("order_source", string(payload.OrderSource)))

	if err := n.store.MarkOrderNotified(ctx, payload.OrderID); err != nil {
		return fmt.Errorf("failed to mark order notified: %w", err)
	}
	return nil
}

// Close detaches the notifier from the bus.
func (n *Notifier) Close() {
	n.unsubscribe()
}
