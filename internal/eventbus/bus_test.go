package eventbus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishDispatchesToSubscribers(t *testing.T) {
	bus := New(zap.NewNop())

	var got atomic.Value
	done := make(chan struct{})
	bus.Subscribe("order_created", func(event Event) error {
		got.Store(event)
		close(done)
		return nil
	})

	bus.Publish(Event{Type: "order_created", TenantID: "seller-1", Payload: "hello"})
	<-done

	event := got.Load().(Event)
	assert.Equal(t, "order_created", event.Type)
	assert.Equal(t, "seller-1", event.TenantID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestPublishOnlyReachesMatchingType(t *testing.T) {
	bus := New(zap.NewNop())

	var orderCalls, paymentCalls atomic.Int64
	bus.Subscribe("order_created", func(Event) error {
		orderCalls.Add(1)
		return nil
	})
	bus.Subscribe("payment_processed", func(Event) error {
		paymentCalls.Add(1)
		return nil
	})

	bus.Publish(Event{Type: "order_created"})
	bus.Close()

	assert.Equal(t, int64(1), orderCalls.Load())
	assert.Equal(t, int64(0), paymentCalls.Load())
}

func TestHandlerFailureIsIsolated(t *testing.T) {
	bus := New(zap.NewNop())

	var healthy atomic.Int64
	bus.Subscribe("status_changed", func(Event) error {
		return errors.New("handler exploded")
	})
	bus.Subscribe("status_changed", func(Event) error {
		panic("handler panicked")
	})
	bus.Subscribe("status_changed", func(Event) error {
		healthy.Add(1)
		return nil
	})

	// Neither the error nor the panic may reach the publisher.
	require.NotPanics(t, func() {
		bus.Publish(Event{Type: "status_changed"})
		bus.Close()
	})
	assert.Equal(t, int64(1), healthy.Load())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(zap.NewNop())

	var calls atomic.Int64
	unsubscribe := bus.Subscribe("order_created", func(Event) error {
		calls.Add(1)
		return nil
	})

	bus.Publish(Event{Type: "order_created"})
	bus.Close()
	require.Equal(t, int64(1), calls.Load())

	unsubscribe()
	unsubscribe() // second call is harmless

	bus.Publish(Event{Type: "order_created"})
	bus.Close()
	assert.Equal(t, int64(1), calls.Load())
}

func TestHistoryIsCappedOldestFirstDropped(t *testing.T) {
	bus := New(zap.NewNop())

	for i := 0; i < defaultHistoryCap+5; i++ {
		bus.Publish(Event{Type: "order_created", TenantID: fmt.Sprintf("t-%d", i)})
	}

	history := bus.History()
	require.Len(t, history, defaultHistoryCap)
	assert.Equal(t, "t-5", history[0].TenantID)
	assert.Equal(t, fmt.Sprintf("t-%d", defaultHistoryCap+4), history[len(history)-1].TenantID)
}

func TestHistoryReturnsSnapshot(t *testing.T) {
	bus := New(zap.NewNop())
	bus.Publish(Event{Type: "order_created", TenantID: "a"})

	history := bus.History()
	require.Len(t, history, 1)
	history[0].TenantID = "mutated"

	assert.Equal(t, "a", bus.History()[0].TenantID)
}

func TestConcurrentPublish(t *testing.T) {
	bus := New(zap.NewNop())

	var delivered atomic.Int64
	bus.Subscribe("order_created", func(Event) error {
		delivered.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: "order_created"})
		}()
	}
	wg.Wait()
	bus.Close()

	assert.Equal(t, int64(50), delivered.Load())
	assert.Len(t, bus.History(), 50)
}
