package service

import (
	"context"
	"errors"
	"time"

	"commerce-core/internal/audit"
	"commerce-core/internal/eventbus"
	"commerce-core/internal/models"
	"commerce-core/internal/store"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// orderTransitions is the legal status graph. Cancelled and returned are
// terminal. A same-status update is a no-op handled before this table is
// consulted.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered, models.OrderStatusReturned},
	models.OrderStatusDelivered:  {models.OrderStatusReturned},
	models.OrderStatusCancelled:  {},
	models.OrderStatusReturned:   {},
}

// cancellableStatuses are the states CancelOrder accepts as a source.
var cancellableStatuses = map[models.OrderStatus]bool{
	models.OrderStatusPending:    true,
	models.OrderStatusConfirmed:  true,
	models.OrderStatusProcessing: true,
}

// CanTransition reports whether from -> to is a legal distinct transition.
func CanTransition(from, to models.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type statusStore interface {
	MutateOrder(ctx context.Context, orderID, sellerID uuid.UUID, mutate func(*models.Order) (*store.OrderPatch, error)) (*models.Order, error)
}

// StatusService drives order status transitions under a row lock, applies
// their side effects, and publishes status_changed events after commit.
type StatusService struct {
	store  statusStore
	bus    *eventbus.Bus
	audit  *audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

// NewStatusService creates a new status service
func NewStatusService(store statusStore, bus *eventbus.Bus, auditor *audit.Recorder) *StatusService {
	return &StatusService{
		store:  store,
		bus:    bus,
		audit:  auditor,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// UpdateStatusRequest represents a status transition request
type UpdateStatusRequest struct {
	SellerID        uuid.UUID `json:"-"`
	ActorID         string    `json:"-"`
	Status          string    `json:"status" binding:"required"`
	Reason          string    `json:"reason,omitempty"`
	TrackingNumber  string    `json:"tracking_number,omitempty"`
	ShippingCarrier string    `json:"shipping_carrier,omitempty"`
}

// UpdateStatus transitions an order to a new status. A same-status request
// succeeds without mutating the row or bumping its version; an illegal
// transition fails without mutation.
func (s *StatusService) UpdateStatus(ctx context.Context, orderID uuid.UUID, req *UpdateStatusRequest) (*models.Order, error) {
	ctx, span := util.StartTenantSpan(ctx, "StatusService.UpdateStatus", req.SellerID)
	defer span.End()

	newStatus := models.OrderStatus(req.Status)
	if !newStatus.Valid() {
		return nil, models.NewOrderValidationError("unknown status %q", req.Status)
	}

	var previous models.OrderStatus
	var noop bool
	order, err := s.store.MutateOrder(ctx, orderID, req.SellerID, func(order *models.Order) (*store.OrderPatch, error) {
		previous = order.Status
		if order.Status == newStatus {
			noop = true
			return nil, nil
		}
		if !CanTransition(order.Status, newStatus) {
			return nil, &models.InvalidTransitionError{From: order.Status, To: newStatus}
		}
		return s.buildTransitionPatch(newStatus, req), nil
	})
	if err != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(err, &invalid) {
			util.OrderTransitionsRejectedTotal.WithLabelValues("invalid_transition").Inc()
		}
		return nil, err
	}

	if noop {
		return order, nil
	}

	s.finishTransition(ctx, order, previous, req.Reason, req.ActorID)
	return order, nil
}

// buildTransitionPatch translates a legal transition into the field changes
// it carries: cancellation and return stamps, shipping details.
func (s *StatusService) buildTransitionPatch(newStatus models.OrderStatus, req *UpdateStatusRequest) *store.OrderPatch {
	patch := &store.OrderPatch{Status: &newStatus}
	now := s.now().UTC()

	switch newStatus {
	case models.OrderStatusCancelled:
		patch.CancellationReason = &req.Reason
		patch.CancelledAt = &now
	case models.OrderStatusReturned:
		patch.ReturnReason = &req.Reason
		patch.ReturnedAt = &now
	case models.OrderStatusShipped:
		if req.TrackingNumber != "" {
			patch.TrackingNumber = &req.TrackingNumber
		}
		if req.ShippingCarrier != "" {
			patch.ShippingCarrier = &req.ShippingCarrier
		}
	}
	return patch
}

// finishTransition records metrics, the event, and the audit entry for a
// committed transition. Event and audit failures never unwind the commit.
func (s *StatusService) finishTransition(ctx context.Context, order *models.Order, previous models.OrderStatus, reason, actorID string) {
	util.OrderStatusTransitionsTotal.WithLabelValues(string(previous), string(order.Status)).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", order.SellerID.String()),
		zap.String("previous_status", string(previous)),
		zap.String("new_status", string(order.Status)),
		zap.Int("version", order.Version))

	s.bus.Publish(eventbus.Event{
		Type:     models.EventTypeStatusChanged,
		TenantID: order.SellerID.String(),
		Payload: models.StatusChangedPayload{
			OrderID:        order.ID,
			SellerID:       order.SellerID,
			PreviousStatus: previous,
			NewStatus:      order.Status,
			Reason:         reason,
			Version:        order.Version,
		},
	})

	s.audit.Record(ctx, order.SellerID, audit.ActionOrderStatus, "order", order.ID.String(), actorID, map[string]interface{}{
		"previous_status": previous,
		"new_status":      order.Status,
		"reason":          reason,
		"version":         order.Version,
	})
}

// CancelOrderRequest represents a cancellation request
type CancelOrderRequest struct {
	SellerID uuid.UUID `json:"-"`
	ActorID  string    `json:"-"`
	Reason   string    `json:"reason,omitempty"`
}

// CancelOrder cancels an order still in a cancellable state. Unlike
// UpdateStatus this rejects terminal and post-shipment states with a
// validation error, which callers surface as "cannot cancel" rather than
// "illegal transition".
func (s *StatusService) CancelOrder(ctx context.Context, orderID uuid.UUID, req *CancelOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "StatusService.CancelOrder")
	defer span.End()

	var previous models.OrderStatus
	order, err := s.store.MutateOrder(ctx, orderID, req.SellerID, func(order *models.Order) (*store.OrderPatch, error) {
		previous = order.Status
		if !cancellableStatuses[order.Status] {
			return nil, models.NewOrderValidationError("order in status %s cannot be cancelled", order.Status)
		}

		cancelled := models.OrderStatusCancelled
		now := s.now().UTC()
		return &store.OrderPatch{
			Status:             &cancelled,
			CancellationReason: &req.Reason,
			CancelledAt:        &now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.finishTransition(ctx, order, previous, req.Reason, req.ActorID)
	return order, nil
}

// DeleteOrder soft-deletes an order. Only pending orders can be deleted;
// anything further along must be cancelled instead so the paper trail
// survives.
func (s *StatusService) DeleteOrder(ctx context.Context, orderID, sellerID uuid.UUID, actorID string) error {
	ctx, span := util.StartSpan(ctx, "StatusService.DeleteOrder")
	defer span.End()

	order, err := s.store.MutateOrder(ctx, orderID, sellerID, func(order *models.Order) (*store.OrderPatch, error) {
		if order.Status != models.OrderStatusPending {
			return nil, models.NewOrderValidationError("only pending orders can be deleted")
		}
		deleted := true
		return &store.OrderPatch{IsDeleted: &deleted}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order soft-deleted",
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", order.SellerID.String()))

	s.bus.Publish(eventbus.Event{
		Type:     models.EventTypeOrderDeleted,
		TenantID: order.SellerID.String(),
		Payload: models.OrderDeletedPayload{
			OrderID:  order.ID,
			SellerID: order.SellerID,
		},
	})

	s.audit.Record(ctx, order.SellerID, audit.ActionOrderDeleted, "order", order.ID.String(), actorID, map[string]interface{}{
		"status": order.Status,
	})

	return nil
}

// BulkStatusRequest applies one status to many orders independently.
type BulkStatusRequest struct {
	SellerID uuid.UUID   `json:"-"`
	ActorID  string      `json:"-"`
	OrderIDs []uuid.UUID `json:"order_ids" binding:"required,min=1"`
	Status   string      `json:"status" binding:"required"`
	Reason   string      `json:"reason,omitempty"`
}

// BulkStatusFailure records one order that could not be transitioned.
type BulkStatusFailure struct {
	OrderID uuid.UUID `json:"order_id"`
	Error   string    `json:"error"`
}

// BulkStatusResult summarizes a bulk transition.
type BulkStatusResult struct {
	Updated  int                 `json:"updated"`
	Failed   int                 `json:"failed"`
	Failures []BulkStatusFailure `json:"failures,omitempty"`
}

// BulkUpdateStatus applies the transition to each order in turn, collecting
// per-order failures without letting one abort the batch.
func (s *StatusService) BulkUpdateStatus(ctx context.Context, req *BulkStatusRequest) (*BulkStatusResult, error) {
	ctx, span := util.StartSpan(ctx, "StatusService.BulkUpdateStatus")
	defer span.End()

	if !models.OrderStatus(req.Status).Valid() {
		return nil, models.NewOrderValidationError("unknown status %q", req.Status)
	}

	result := &BulkStatusResult{}
	for _, orderID := range req.OrderIDs {
		_, err := s.UpdateStatus(ctx, orderID, &UpdateStatusRequest{
			SellerID: req.SellerID,
			ActorID:  req.ActorID,
			Status:   req.Status,
			Reason:   req.Reason,
		})
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, BulkStatusFailure{
				OrderID: orderID,
				Error:   err.Error(),
			})
			continue
		}
		result.Updated++
	}

	return result, nil
}
