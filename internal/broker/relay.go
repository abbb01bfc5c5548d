package broker

import (
	"context"
	"time"

	"commerce-core/internal/eventbus"
	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"go.uber.org/zap"
)

// relayedEventTypes are the domain events forwarded to Kafka for
// out-of-process consumers (dashboards, analytics, notification fan-out).
var relayedEventTypes = []string{
	models.EventTypeOrderCreated,
	models.EventTypeStatusChanged,
	models.EventTypeOrderDeleted,
	models.EventTypePaymentProcessed,
	models.EventTypePaymentRefunded,
}

// EventRelay bridges the in-process event bus onto Kafka. The bus isolates
// relay failures from publishers, so a Kafka outage costs downstream
// delivery but never an order or payment operation.
type EventRelay struct {
	producer     *Producer
	logger       *zap.Logger
	unsubscribes []func()
}

// NewEventRelay subscribes the relay to every relayed event type.
func NewEventRelay(bus *eventbus.Bus, producer *Producer) *EventRelay {
	relay := &EventRelay{
		producer: producer,
		logger:   util.GetLogger(),
	}
	for _, eventType := range relayedEventTypes {
		relay.unsubscribes = append(relay.unsubscribes, bus.Subscribe(eventType, relay.forward))
	}
	return relay
}

// forward writes one event to Kafka, keyed by tenant so each seller's
// events stay ordered within a partition.
func (r *EventRelay) forward(event eventbus.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := event.TenantID
	if key == "" {
		key = event.ID
	}
	return r.producer.PublishEvent(ctx, key, event)
}

// Close detaches the relay from the bus. The producer is closed separately
// by its owner.
func (r *EventRelay) Close() {
	for _, unsubscribe := range r.unsubscribes {
		unsubscribe()
	}
	r.logger.Info("Event relay detached")
}
