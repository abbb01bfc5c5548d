package worker

import (
	"context"
	"time"

	"commerce-core/internal/models"
	"commerce-core/internal/service"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type reconcilerStore interface {
	ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
}

type paymentVerifier interface {
	VerifyPayment(ctx context.Context, reference string, sellerID uuid.UUID, actorID string) (*service.TransactionResult, error)
}

// PaymentReconciler sweeps payments stuck in pending and re-verifies them
// against their provider. A charge that settled after we stopped waiting is
// picked up here and still confirms its order.
type PaymentReconciler struct {
	store    reconcilerStore
	payments paymentVerifier
	interval time.Duration
	minAge   time.Duration
	batch    int
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewPaymentReconciler creates a reconciler sweeping every interval for
// pending payments older than minAge, at most batch per sweep.
func NewPaymentReconciler(store reconcilerStore, payments paymentVerifier, interval, minAge time.Duration, batch int) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if minAge <= 0 {
		minAge = 2 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &PaymentReconciler{
		store:    store,
		payments: payments,
		interval: interval,
		minAge:   minAge,
		batch:    batch,
		logger:   util.GetLogger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (r *PaymentReconciler) Start() {
	go r.run()
}

func (r *PaymentReconciler) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Payment reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("min_age", r.minAge),
		zap.Int("batch", r.batch))

	for {
		select {
		case <-r.stop:
			r.logger.Info("Payment reconciler stopped")
			return
		case <-ticker.C:
			r.reconcileOnce(context.Background())
		}
	}
}

// reconcileOnce runs a single sweep. Each payment is verified
// independently; one failure never aborts the batch.
func (r *PaymentReconciler) reconcileOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	pending, err := r.store.ListPendingPayments(ctx, time.Now().Add(-r.minAge), r.batch)
	if err != nil {
		r.logger.Error("Failed to list pending payments", zap.Error(err))
		return
	}

	for _, payment := range pending {
		result, err := r.payments.VerifyPayment(ctx, payment.Reference, payment.SellerID, "reconciler")
		if err != nil {
			r.logger.Warn("Reconciliation verify failed",
				zap.String("payment_id", payment.ID.String()),
				zap.String("provider", payment.Provider),
				zap.Error(err))
			continue
		}
		if result.Payment.Status != models.PaymentStatusPending {
			r.logger.Info("Reconciled pending payment",
				zap.String("payment_id", payment.ID.String()),
				zap.String("status", string(result.Payment.Status)))
		}
	}
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *PaymentReconciler) Stop() {
	close(r.stop)
	<-r.done
}
