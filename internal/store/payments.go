package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"commerce-core/internal/models"

	"github.com/google/uuid"
)

// CreatePayment inserts a payment row. The idempotency key and reference
// carry unique constraints; collisions surface as ErrDuplicatePayment so
// callers can fall back to the already-recorded attempt.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	err := s.db.GetContext(ctx, payment, `
		INSERT INTO payments (
			id, order_id, seller_id, idempotency_key, reference, provider,
			amount, currency, status, risk_score, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *`,
		payment.ID, payment.OrderID, payment.SellerID, payment.IdempotencyKey,
		payment.Reference, payment.Provider, payment.Amount, payment.Currency,
		payment.Status, payment.RiskScore, payment.Metadata)
	if isUniqueViolation(err) {
		return ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPaymentByIdempotencyKey returns the payment recorded under key, or
// (nil, nil) when none exists.
func (s *Store) GetPaymentByIdempotencyKey(ctx context.Context, key string, sellerID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE idempotency_key = $1 AND seller_id = $2", key, sellerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByReference retrieves a payment by its signed reference, scoped
// by tenant.
func (s *Store) GetPaymentByReference(ctx context.Context, reference string, sellerID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE reference = $1 AND seller_id = $2", reference, sellerID)
	if err == sql.ErrNoRows {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatus records the outcome of a provider call. An empty
// provider reference or failure reason preserves the stored value.
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, providerRef, failureReason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    provider_reference = COALESCE(NULLIF($2, ''), provider_reference),
		    failure_reason = COALESCE(NULLIF($3, ''), failure_reason),
		    updated_at = NOW()
		WHERE id = $4`,
		status, providerRef, failureReason, paymentID)
	return err
}

// MarkPaymentVerified reconciles a payment against the provider-reported
// status and stamps the verification time.
func (s *Store) MarkPaymentVerified(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, providerRef string, verifiedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    provider_reference = COALESCE(NULLIF($2, ''), provider_reference),
		    verified_at = $3,
		    updated_at = NOW()
		WHERE id = $4`,
		status, providerRef, verifiedAt, paymentID)
	return err
}

// UpdatePaymentMetadata replaces the encrypted metadata blob.
func (s *Store) UpdatePaymentMetadata(ctx context.Context, paymentID uuid.UUID, metadata string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET metadata = $1, updated_at = NOW() WHERE id = $2",
		metadata, paymentID)
	return err
}

// ListPendingPayments returns payments still pending after olderThan,
// oldest first. Used by the reconciler to close the crash window between a
// provider call and its recorded result.
func (s *Store) ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		models.PaymentStatusPending, olderThan, limit)
	return payments, err
}
