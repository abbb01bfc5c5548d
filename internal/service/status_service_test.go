package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"commerce-core/internal/audit"
	"commerce-core/internal/eventbus"
	"commerce-core/internal/models"
	"commerce-core/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// fakeAuditStore records audit entries in memory.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (f *fakeAuditStore) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// fakeOrderMutator implements the locked read-mutate-write cycle against
// in-memory orders: a nil patch leaves the row untouched, any patch bumps
// the version.
type fakeOrderMutator struct {
	orders map[uuid.UUID]*models.Order
}

func newFakeOrderMutator(orders ...*models.Order) *fakeOrderMutator {
	f := &fakeOrderMutator{orders: make(map[uuid.UUID]*models.Order)}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrderMutator) MutateOrder(_ context.Context, orderID, sellerID uuid.UUID, mutate func(*models.Order) (*store.OrderPatch, error)) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok || order.SellerID != sellerID || order.IsDeleted {
		return nil, models.ErrOrderNotFound
	}

	current := *order
	patch, err := mutate(&current)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		return &current, nil
	}

	if patch.Status != nil {
		current.Status = *patch.Status
	}
	if patch.CancellationReason != nil {
		current.CancellationReason = sql.NullString{String: *patch.CancellationReason, Valid: true}
	}
	if patch.CancelledAt != nil {
		current.CancelledAt = sql.NullTime{Time: *patch.CancelledAt, Valid: true}
	}
	if patch.ReturnReason != nil {
		current.ReturnReason = sql.NullString{String: *patch.ReturnReason, Valid: true}
	}
	if patch.ReturnedAt != nil {
		current.ReturnedAt = sql.NullTime{Time: *patch.ReturnedAt, Valid: true}
	}
	if patch.TrackingNumber != nil {
		current.TrackingNumber = sql.NullString{String: *patch.TrackingNumber, Valid: true}
	}
	if patch.ShippingCarrier != nil {
		current.ShippingCarrier = sql.NullString{String: *patch.ShippingCarrier, Valid: true}
	}
	if patch.IsDeleted != nil {
		current.IsDeleted = *patch.IsDeleted
	}
	current.Version++

	*order = current
	return &current, nil
}

func testOrder(status models.OrderStatus) *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		SellerID:    uuid.New(),
		ProductID:   uuid.New(),
		BuyerName:   "Ada Obi",
		BuyerPhone:  "+2348012345678",
		Quantity:    2,
		TotalAmount: decimal.NewFromInt(1500),
		Status:      status,
		OrderSource: models.ChannelWhatsApp,
		Version:     1,
	}
}

func newStatusService(mutator statusStore) (*StatusService, *eventbus.Bus, *fakeAuditStore) {
	bus := eventbus.New(zap.NewNop())
	audits := &fakeAuditStore{}
	svc := NewStatusService(mutator, bus, audit.NewRecorder(audits))
	svc.now = func() time.Time { return fixedNow }
	return svc, bus, audits
}

func TestCanTransitionTable(t *testing.T) {
	all := []models.OrderStatus{
		models.OrderStatusPending, models.OrderStatusConfirmed,
		models.OrderStatusProcessing, models.OrderStatusShipped,
		models.OrderStatusDelivered, models.OrderStatusCancelled,
		models.OrderStatusReturned,
	}
	allowed := map[models.OrderStatus]map[models.OrderStatus]bool{
		models.OrderStatusPending:    {models.OrderStatusConfirmed: true, models.OrderStatusCancelled: true},
		models.OrderStatusConfirmed:  {models.OrderStatusProcessing: true, models.OrderStatusCancelled: true},
		models.OrderStatusProcessing: {models.OrderStatusShipped: true, models.OrderStatusCancelled: true},
		models.OrderStatusShipped:    {models.OrderStatusDelivered: true, models.OrderStatusReturned: true},
		models.OrderStatusDelivered:  {models.OrderStatusReturned: true},
		models.OrderStatusCancelled:  {},
		models.OrderStatusReturned:   {},
	}

	for _, from := range all {
		for _, to := range all {
			got := CanTransition(from, to)
			want := allowed[from][to]
			assert.Equalf(t, want, got, "transition %s -> %s", from, to)
		}
	}
}

func TestUpdateStatusLegalTransition(t *testing.T) {
	order := testOrder(models.OrderStatusPending)
	mutator := newFakeOrderMutator(order)
	svc, bus, audits := newStatusService(mutator)

	updated, err := svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{
		SellerID: order.SellerID,
		ActorID:  "user-1",
		Status:   string(models.OrderStatusConfirmed),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, updated.Status)
	assert.Equal(t, 2, updated.Version)

	events := bus.History()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeStatusChanged, events[0].Type)
	payload := events[0].Payload.(models.StatusChangedPayload)
	assert.Equal(t, models.OrderStatusPending, payload.PreviousStatus)
	assert.Equal(t, models.OrderStatusConfirmed, payload.NewStatus)
	assert.Equal(t, 2, payload.Version)

	assert.Equal(t, 1, audits.count())
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	order := testOrder(models.OrderStatusConfirmed)
	mutator := newFakeOrderMutator(order)
	svc, bus, audits := newStatusService(mutator)

	updated, err := svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{
		SellerID: order.SellerID,
		Status:   string(models.OrderStatusConfirmed),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, updated.Status)
	assert.Equal(t, 1, updated.Version, "no-op must not bump the version")
	assert.Empty(t, bus.History(), "no-op must not publish an event")
	assert.Equal(t, 0, audits.count())
}

func TestUpdateStatusIllegalTransition(t *testing.T) {
	order := testOrder(models.OrderStatusPending)
	mutator := newFakeOrderMutator(order)
	svc, bus, _ := newStatusService(mutator)

	_, err := svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{
		SellerID: order.SellerID,
		Status:   string(models.OrderStatusShipped),
	})

	var invalid *models.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.OrderStatusPending, invalid.From)
	assert.Equal(t, models.OrderStatusShipped, invalid.To)

	assert.Equal(t, models.OrderStatusPending, order.Status, "order must be untouched")
	assert.Equal(t, 1, order.Version)
	assert.Empty(t, bus.History())
}

func TestUpdateStatusTerminalStates(t *testing.T) {
	for _, terminal := range []models.OrderStatus{models.OrderStatusCancelled, models.OrderStatusReturned} {
		order := testOrder(terminal)
		mutator := newFakeOrderMutator(order)
		svc, _, _ := newStatusService(mutator)

		_, err := svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{
			SellerID: order.SellerID,
			Status:   string(models.OrderStatusConfirmed),
		})

		var invalid *models.InvalidTransitionError
		require.ErrorAsf(t, err, &invalid, "from %s", terminal)
	}
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	order := testOrder(models.OrderStatusPending)
	svc, _, _ := newStatusService(newFakeOrderMutator(order))

	_, err := svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{
		SellerID: order.SellerID,
		Status:   "teleported",
	})

	var validation *models.OrderValidationError
	require.ErrorAs(t, err, &validation)
}

func TestUpdateStatusShippedRecordsTracking(t *testing.T) {
	order := testOrder(models.OrderStatusProcessing)
	mutator := newFakeOrderMutator(order)
	svc, _, _ := newStatusService(mutator)

	updated, err := svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{
		SellerID:        order.SellerID,
		Status:          string(models.OrderStatusShipped),
		TrackingNumber:  "TRK-1234",
		ShippingCarrier: "DHL",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRK-1234", updated.TrackingNumber.String)
	assert.Equal(t, "DHL", updated.ShippingCarrier.String)
}

func TestUpdateStatusCancellationStampsReason(t *testing.T) {
	order := testOrder(models.OrderStatusConfirmed)
	mutator := newFakeOrderMutator(order)
	svc, _, _ := newStatusService(mutator)

	updated, err := svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{
		SellerID: order.SellerID,
		Status:   string(models.OrderStatusCancelled),
		Reason:   "customer changed mind",
	})
	require.NoError(t, err)
	assert.Equal(t, "customer changed mind", updated.CancellationReason.String)
	assert.True(t, updated.CancelledAt.Valid)
	assert.Equal(t, fixedNow, updated.CancelledAt.Time)
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	svc, _, _ := newStatusService(newFakeOrderMutator())

	_, err := svc.UpdateStatus(context.Background(), uuid.New(), &UpdateStatusRequest{
		SellerID: uuid.New(),
		Status:   string(models.OrderStatusConfirmed),
	})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestCancelOrderFromCancellableStates(t *testing.T) {
	for _, status := range []models.OrderStatus{
		models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusProcessing,
	} {
		order := testOrder(status)
		mutator := newFakeOrderMutator(order)
		svc, bus, _ := newStatusService(mutator)

		cancelled, err := svc.CancelOrder(context.Background(), order.ID, &CancelOrderRequest{
			SellerID: order.SellerID,
			Reason:   "out of stock",
		})
		require.NoErrorf(t, err, "from %s", status)
		assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
		assert.Equal(t, "out of stock", cancelled.CancellationReason.String)

		events := bus.History()
		require.Len(t, events, 1)
		payload := events[0].Payload.(models.StatusChangedPayload)
		assert.Equal(t, status, payload.PreviousStatus)
	}
}

func TestCancelOrderRejectsLateStates(t *testing.T) {
	for _, status := range []models.OrderStatus{
		models.OrderStatusShipped, models.OrderStatusDelivered,
		models.OrderStatusCancelled, models.OrderStatusReturned,
	} {
		order := testOrder(status)
		svc, _, _ := newStatusService(newFakeOrderMutator(order))

		_, err := svc.CancelOrder(context.Background(), order.ID, &CancelOrderRequest{
			SellerID: order.SellerID,
		})

		var validation *models.OrderValidationError
		require.ErrorAsf(t, err, &validation, "from %s", status)
		var invalid *models.InvalidTransitionError
		assert.Falsef(t, errors.As(err, &invalid),
			"cancel failure from %s must be a validation error, not a transition error", status)
		assert.Equal(t, status, order.Status)
	}
}

func TestDeleteOrderPendingOnly(t *testing.T) {
	order := testOrder(models.OrderStatusPending)
	mutator := newFakeOrderMutator(order)
	svc, bus, audits := newStatusService(mutator)

	err := svc.DeleteOrder(context.Background(), order.ID, order.SellerID, "user-1")
	require.NoError(t, err)
	assert.True(t, order.IsDeleted)

	events := bus.History()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeOrderDeleted, events[0].Type)
	assert.Equal(t, 1, audits.count())

	// A deleted order is invisible to further mutations.
	_, err = svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{
		SellerID: order.SellerID,
		Status:   string(models.OrderStatusConfirmed),
	})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestDeleteOrderRejectsNonPending(t *testing.T) {
	order := testOrder(models.OrderStatusConfirmed)
	svc, _, _ := newStatusService(newFakeOrderMutator(order))

	err := svc.DeleteOrder(context.Background(), order.ID, order.SellerID, "user-1")

	var validation *models.OrderValidationError
	require.ErrorAs(t, err, &validation)
	assert.False(t, order.IsDeleted)
}

func TestBulkUpdateStatusPartialFailure(t *testing.T) {
	sellerID := uuid.New()
	payable := testOrder(models.OrderStatusPending)
	payable.SellerID = sellerID
	delivered := testOrder(models.OrderStatusDelivered)
	delivered.SellerID = sellerID

	mutator := newFakeOrderMutator(payable, delivered)
	svc, _, _ := newStatusService(mutator)

	result, err := svc.BulkUpdateStatus(context.Background(), &BulkStatusRequest{
		SellerID: sellerID,
		OrderIDs: []uuid.UUID{payable.ID, delivered.ID},
		Status:   string(models.OrderStatusConfirmed),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, delivered.ID, result.Failures[0].OrderID)

	assert.Equal(t, models.OrderStatusConfirmed, payable.Status)
	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)
}

func TestBulkUpdateStatusUnknownStatus(t *testing.T) {
	svc, _, _ := newStatusService(newFakeOrderMutator())

	_, err := svc.BulkUpdateStatus(context.Background(), &BulkStatusRequest{
		SellerID: uuid.New(),
		OrderIDs: []uuid.UUID{uuid.New()},
		Status:   "nonsense",
	})

	var validation *models.OrderValidationError
	require.ErrorAs(t, err, &validation)
}
