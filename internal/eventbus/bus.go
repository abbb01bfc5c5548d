package eventbus

import (
	"sync"
	"time"

	"commerce-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultHistoryCap = 1000

// Event is the envelope published on the bus and relayed to Kafka.
type Event struct {
	ID         string      `json:"event_id"`
	Type       string      `json:"event_type"`
	TenantID   string      `json:"tenant_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Handler consumes one event. A returned error is logged and isolated; it
// never reaches the publisher or other handlers.
type Handler func(event Event) error

// Bus is an in-process publish/subscribe hub. It is constructed by the
// composition root and injected into publishers and subscribers; each test
// builds its own instance. Events live only in the bounded in-memory
// history, so nothing survives a restart.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string]map[int64]Handler
	nextID     int64
	history    []Event
	historyCap int
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// New creates a bus with the default 1000-event history.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Bus{
		handlers:   make(map[string]map[int64]Handler),
		history:    make([]Event, 0, defaultHistoryCap),
		historyCap: defaultHistoryCap,
		logger:     logger,
	}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe capability. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int64]Handler)
	}
	b.nextID++
	id := b.nextID
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// Publish records the event in the capped history and dispatches it to
// every subscriber of its type, each in its own goroutine. Handler panics
// and errors are caught and logged individually.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.Lock()
	if len(b.history) >= b.historyCap {
		b.history = b.history[1:]
	}
	b.history = append(b.history, event)

	subscribers := make([]Handler, 0, len(b.handlers[event.Type]))
	for _, h := range b.handlers[event.Type] {
		subscribers = append(subscribers, h)
	}
	b.mu.Unlock()

	util.EventsPublishedTotal.WithLabelValues(event.Type).Inc()

	for _, handler := range subscribers {
		h := handler
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					util.EventHandlerFailuresTotal.WithLabelValues(event.Type).Inc()
					b.logger.Error("Event handler panicked",
						zap.String("event_type", event.Type),
						zap.String("event_id", event.ID),
						zap.Any("panic", r))
				}
			}()

			if err := h(event); err != nil {
				util.EventHandlerFailuresTotal.WithLabelValues(event.Type).Inc()
				b.logger.Error("Event handler failed",
					zap.String("event_type", event.Type),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}()
	}
}

// History returns a snapshot of the buffered events, oldest first.
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Close waits for in-flight handler goroutines to finish. Publishing after
// Close is not supported.
func (b *Bus) Close() {
	b.wg.Wait()
}
