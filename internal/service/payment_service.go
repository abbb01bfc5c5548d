package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"commerce-core/internal/audit"
	"commerce-core/internal/circuit"
	"commerce-core/internal/eventbus"
	"commerce-core/internal/models"
	"commerce-core/internal/payments"
	"commerce-core/internal/store"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// payableStatuses are the order states a payment may be taken in.
var payableStatuses = map[models.OrderStatus]bool{
	models.OrderStatusPending:   true,
	models.OrderStatusConfirmed: true,
}

type paymentStore interface {
	GetOrder(ctx context.Context, orderID, sellerID uuid.UUID) (*models.Order, error)
	GetPaymentSettings(ctx context.Context, sellerID uuid.UUID) (*models.PaymentSettings, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByIdempotencyKey(ctx context.Context, key string, sellerID uuid.UUID) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string, sellerID uuid.UUID) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, providerRef, failureReason string) error
	MarkPaymentVerified(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, providerRef string, verifiedAt time.Time) error
	UpdatePaymentMetadata(ctx context.Context, paymentID uuid.UUID, metadata string) error
}

// riskSource supplies the externally held risk signals: attempt velocity
// and the shared IP denylist.
type riskSource interface {
	RecordPaymentAttempt(ctx context.Context, sellerID uuid.UUID, customerKey string, window time.Duration) (int64, error)
	IsFlaggedIP(ctx context.Context, ip string) (bool, error)
}

type providerResolver interface {
	Resolve(settings *models.PaymentSettings, preferred string) (payments.Provider, error)
}

// orderConfirmer drives the order transition a successful payment triggers.
type orderConfirmer interface {
	UpdateStatus(ctx context.Context, orderID uuid.UUID, req *UpdateStatusRequest) (*models.Order, error)
}

// PaymentOptions tunes the payment pipeline.
type PaymentOptions struct {
	AllowedCurrencies []string
	VelocityWindow    time.Duration
	Retry             payments.RetryPolicy
}

// PaymentService processes payment attempts against the tenant's provider:
// risk scoring, signed references, idempotent payment rows, and a retrying,
// circuit-broken provider call. A successful charge confirms the order.
type PaymentService struct {
	store             paymentStore
	risk              riskSource
	resolver          providerResolver
	breakers          *circuit.Registry
	signer            *payments.ReferenceSigner
	cipher            *payments.MetadataCipher
	orders            orderConfirmer
	bus               *eventbus.Bus
	audit             *audit.Recorder
	retry             payments.RetryPolicy
	allowedCurrencies []string
	velocityWindow    time.Duration
	logger            *zap.Logger
	now               func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store paymentStore,
	risk riskSource,
	resolver providerResolver,
	breakers *circuit.Registry,
	signer *payments.ReferenceSigner,
	cipher *payments.MetadataCipher,
	orders orderConfirmer,
	bus *eventbus.Bus,
	auditor *audit.Recorder,
	opts PaymentOptions,
) *PaymentService {
	window := opts.VelocityWindow
	if window <= 0 {
		window = time.Hour
	}
	return &PaymentService{
		store:             store,
		risk:              risk,
		resolver:          resolver,
		breakers:          breakers,
		signer:            signer,
		cipher:            cipher,
		orders:            orders,
		bus:               bus,
		audit:             auditor,
		retry:             opts.Retry,
		allowedCurrencies: opts.AllowedCurrencies,
		velocityWindow:    window,
		logger:            util.GetLogger(),
		now:               time.Now,
	}
}

// ProcessPaymentRequest represents a payment attempt against an order. The
// hidden fields are filled by the transport layer from the connection.
type ProcessPaymentRequest struct {
	SellerID       uuid.UUID       `json:"-"`
	ActorID        string          `json:"-"`
	ClientIP       string          `json:"-"`
	IPCountry      string          `json:"-"`
	UserAgent      string          `json:"-"`
	OrderID        uuid.UUID       `json:"order_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"required"`
	Provider       string          `json:"provider,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CustomerEmail  string          `json:"customer_email,omitempty"`
	MethodToken    string          `json:"method_token,omitempty"`
	CardNumber     string          `json:"card_number,omitempty"`
	BillingCountry string          `json:"billing_country,omitempty"`
}

// TransactionResult is the outcome of a payment operation. Flagged results
// carry a pending-review payment that never reached the provider.
type TransactionResult struct {
	Payment     *models.Payment    `json:"payment"`
	OrderStatus models.OrderStatus `json:"order_status,omitempty"`
	Flagged     bool               `json:"flagged"`
	Message     string             `json:"message,omitempty"`
}

func (s *PaymentService) validateRequest(req *ProcessPaymentRequest) error {
	if req.SellerID == uuid.Nil {
		return models.NewPaymentError("seller_id is required")
	}
	if req.OrderID == uuid.Nil {
		return models.NewPaymentError("order_id is required")
	}
	if !req.Amount.IsPositive() {
		return models.NewPaymentError("amount must be positive")
	}

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		return models.NewPaymentError("currency is required")
	}
	if len(s.allowedCurrencies) > 0 && !containsFold(s.allowedCurrencies, req.Currency) {
		return models.NewPaymentError("currency %s is not supported", req.Currency)
	}
	return nil
}

// ProcessTransaction runs one charge attempt end to end.
func (s *PaymentService) ProcessTransaction(ctx context.Context, req *ProcessPaymentRequest) (*TransactionResult, error) {
	ctx, span := util.StartTenantSpan(ctx, "PaymentService.ProcessTransaction", req.SellerID)
	defer span.End()

	util.PaymentAttemptsTotal.Inc()

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	} else {
		existing, err := s.store.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey, req.SellerID)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate payment request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("payment_id", existing.ID.String()))
			return &TransactionResult{
				Payment: existing,
				Flagged: existing.Status == models.PaymentStatusFlagged,
				Message: "duplicate request",
			}, nil
		}
	}

	order, err := s.store.GetOrder(ctx, req.OrderID, req.SellerID)
	if err != nil {
		return nil, err
	}
	if !payableStatuses[order.Status] {
		return nil, models.NewOrderValidationError("order in status %s is not payable", order.Status)
	}

	settings, err := s.store.GetPaymentSettings(ctx, req.SellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment settings: %w", err)
	}
	if settings == nil || !settings.OnlinePaymentsEnabled {
		return nil, models.NewPaymentError("online payments are disabled for this seller")
	}
	if len(settings.AllowedCurrencies) > 0 && !containsFold(settings.AllowedCurrencies, req.Currency) {
		return nil, models.NewPaymentError("currency %s is not enabled for this seller", req.Currency)
	}

	score := ScoreRisk(s.gatherRiskSignals(ctx, order, req))

	reference, err := s.signer.Sign(order.SellerID, order.ID)
	if err != nil {
		return nil, err
	}

	metadata, err := s.cipher.Encrypt(buildPaymentMetadata(req))
	if err != nil {
		return nil, err
	}

	if score > RiskReviewThreshold {
		return s.flagForReview(ctx, order, req, reference, metadata, score)
	}

	provider, err := s.resolver.Resolve(settings, req.Provider)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		SellerID:       order.SellerID,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      reference,
		Provider:       provider.Name(),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         models.PaymentStatusPending,
		RiskScore:      score,
		Metadata:       metadata,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, store.ErrDuplicatePayment) {
			existing, lookupErr := s.store.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey, req.SellerID)
			if lookupErr == nil && existing != nil {
				return &TransactionResult{Payment: existing, Message: "duplicate request"}, nil
			}
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	var charge *payments.ChargeResult
	callErr := s.callProvider(ctx, provider.Name(), "charge", func(ctx context.Context) error {
		result, err := provider.ProcessPayment(ctx, payments.ChargeRequest{
			Reference:      reference,
			IdempotencyKey: req.IdempotencyKey,
			Amount:         req.Amount,
			Currency:       req.Currency,
			CustomerEmail:  firstNonEmptyString(req.CustomerEmail, order.BuyerEmail),
			MethodToken:    req.MethodToken,
			Metadata:       map[string]string{"order_id": order.ID.String()},
		})
		if err != nil {
			return err
		}
		charge = result
		return nil
	})
	if callErr != nil {
		return nil, s.failPayment(ctx, order, payment, req.ActorID, callErr)
	}

	status := chargeStatus(charge.Status)
	failureReason := ""
	if status == models.PaymentStatusFailed {
		failureReason = charge.Message
	}
	if err := s.store.UpdatePaymentStatus(ctx, payment.ID, status, charge.ProviderReference, failureReason); err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	applyPaymentOutcome(payment, status, charge.ProviderReference, failureReason)

	orderStatus := order.Status
	if status == models.PaymentStatusSuccess {
		orderStatus = s.confirmOrder(ctx, order, payment)
	}

	util.PaymentsTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("Payment processed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("provider", payment.Provider),
		zap.String("status", string(status)),
		zap.Float64("risk_score", score))

	s.publishProcessed(payment)
	s.audit.Record(ctx, order.SellerID, audit.ActionPaymentProcessed, "payment", payment.ID.String(), req.ActorID, map[string]interface{}{
		"reference":  payment.Reference,
		"provider":   payment.Provider,
		"amount":     payment.Amount.String(),
		"currency":   payment.Currency,
		"status":     payment.Status,
		"risk_score": payment.RiskScore,
	})

	return &TransactionResult{
		Payment:     payment,
		OrderStatus: orderStatus,
		Message:     charge.Message,
	}, nil
}

// gatherRiskSignals collects the scoring inputs. Risk infrastructure being
// down weakens the score rather than blocking the payment; each miss is
// logged.
func (s *PaymentService) gatherRiskSignals(ctx context.Context, order *models.Order, req *ProcessPaymentRequest) RiskSignals {
	signals := RiskSignals{
		Amount:          req.Amount,
		UserAgent:       req.UserAgent,
		CountryMismatch: countryMismatch(req.IPCountry, req.BillingCountry),
	}

	attempts, err := s.risk.RecordPaymentAttempt(ctx, order.SellerID, velocityKey(order), s.velocityWindow)
	if err != nil {
		s.logger.Warn("Velocity counter unavailable", zap.Error(err))
	} else {
		signals.RecentAttempts = attempts
	}

	if req.ClientIP != "" {
		flagged, err := s.risk.IsFlaggedIP(ctx, req.ClientIP)
		if err != nil {
			s.logger.Warn("Flagged IP lookup unavailable", zap.Error(err))
		} else {
			signals.FlaggedIP = flagged
		}
	}

	return signals
}

// flagForReview short-circuits a high-risk attempt: the payment is
// persisted as flagged, the provider is never contacted, and the caller
// gets a distinct reviewable result instead of an error.
func (s *PaymentService) flagForReview(ctx context.Context, order *models.Order, req *ProcessPaymentRequest, reference, metadata string, score float64) (*TransactionResult, error) {
	payment := &models.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		SellerID:       order.SellerID,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      reference,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         models.PaymentStatusFlagged,
		RiskScore:      score,
		Metadata:       metadata,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, store.ErrDuplicatePayment) {
			existing, lookupErr := s.store.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey, req.SellerID)
			if lookupErr == nil && existing != nil {
				return &TransactionResult{Payment: existing, Flagged: true, Message: "duplicate request"}, nil
			}
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	util.PaymentsFlaggedTotal.Inc()
	util.PaymentsTotal.WithLabelValues(string(models.PaymentStatusFlagged)).Inc()
	s.logger.Warn("Payment flagged for manual review",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.Float64("risk_score", score))

	s.publishProcessed(payment)
	s.audit.Record(ctx, order.SellerID, audit.ActionPaymentFlagged, "payment", payment.ID.String(), req.ActorID, map[string]interface{}{
		"reference":  payment.Reference,
		"amount":     payment.Amount.String(),
		"currency":   payment.Currency,
		"risk_score": score,
	})

	return &TransactionResult{
		Payment:     payment,
		OrderStatus: order.Status,
		Flagged:     true,
		Message:     "payment flagged for manual review",
	}, nil
}

// callProvider wraps one provider operation in the per-provider circuit
// breaker and the transient-only retry policy. Only transient failures
// count against the breaker; declines come back as results, not errors.
func (s *PaymentService) callProvider(ctx context.Context, providerName, operation string, call func(context.Context) error) error {
	breaker := s.breakers.Breaker(providerName)
	return s.retry.Do(ctx, func() error {
		if err := breaker.Allow(); err != nil {
			return err
		}

		start := time.Now()
		err := call(ctx)
		util.PaymentProviderLatency.WithLabelValues(providerName, operation).Observe(time.Since(start).Seconds())

		if err != nil {
			if payments.IsTransient(err) {
				breaker.RecordFailure()
			} else {
				// A definitive rejection still came from the provider, so it
				// counts as availability. Recording nothing here would leave a
				// half-open breaker holding its probe slot forever.
				breaker.RecordSuccess()
			}
			return err
		}
		breaker.RecordSuccess()
		return nil
	})
}

// failPayment marks the payment failed after the provider could not be
// reached and surfaces the original error so the transport layer can
// distinguish breaker-open from provider failure.
func (s *PaymentService) failPayment(ctx context.Context, order *models.Order, payment *models.Payment, actorID string, callErr error) error {
	reason := failureReasonFor(callErr)
	if err := s.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed, "", reason); err != nil {
		s.logger.Error("Failed to mark payment as failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err))
	}
	applyPaymentOutcome(payment, models.PaymentStatusFailed, "", reason)

	util.PaymentsTotal.WithLabelValues(string(models.PaymentStatusFailed)).Inc()
	s.logger.Warn("Payment attempt failed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("provider", payment.Provider),
		zap.String("reason", reason))

	s.publishProcessed(payment)
	s.audit.Record(ctx, order.SellerID, audit.ActionPaymentProcessed, "payment", payment.ID.String(), actorID, map[string]interface{}{
		"reference": payment.Reference,
		"provider":  payment.Provider,
		"status":    payment.Status,
		"reason":    reason,
	})

	return callErr
}

func failureReasonFor(err error) string {
	var cbErr *circuit.CircuitBreakerError
	if errors.As(err, &cbErr) {
		return "provider circuit open"
	}
	var pErr *payments.ProviderError
	if errors.As(err, &pErr) {
		return pErr.Message
	}
	return util.SanitizeLogValue(err.Error())
}

// confirmOrder drives the pending -> confirmed transition after a
// successful charge. An order that moved past confirmation in the meantime
// is left alone; the payment stays successful either way.
func (s *PaymentService) confirmOrder(ctx context.Context, order *models.Order, payment *models.Payment) models.OrderStatus {
	updated, err := s.orders.UpdateStatus(ctx, order.ID, &UpdateStatusRequest{
		SellerID: order.SellerID,
		ActorID:  "payment-engine",
		Status:   string(models.OrderStatusConfirmed),
	})
	if err != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(err, &invalid) {
			s.logger.Warn("Order moved past confirmation before payment settled",
				zap.String("order_id", order.ID.String()),
				zap.String("order_status", string(invalid.From)),
				zap.String("payment_id", payment.ID.String()))
			return invalid.From
		}
		s.logger.Error("Failed to confirm order after successful payment",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err))
		return order.Status
	}
	return updated.Status
}

// VerifyPayment re-queries the provider and reconciles the local payment,
// confirming the order when the payment is newly successful.
func (s *PaymentService) VerifyPayment(ctx context.Context, reference string, sellerID uuid.UUID, actorID string) (*TransactionResult, error) {
	ctx, span := util.StartTenantSpan(ctx, "PaymentService.VerifyPayment", sellerID)
	defer span.End()

	claims, err := s.signer.Verify(reference)
	if err != nil {
		return nil, models.NewPaymentError("invalid payment reference")
	}
	if claims.SellerID != sellerID.String() {
		return nil, models.ErrPaymentNotFound
	}

	payment, err := s.store.GetPaymentByReference(ctx, reference, sellerID)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case models.PaymentStatusSuccess:
		return &TransactionResult{Payment: payment, Message: "already verified"}, nil
	case models.PaymentStatusFlagged:
		return nil, models.NewPaymentError("payment is flagged for manual review")
	}

	settings, err := s.store.GetPaymentSettings(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment settings: %w", err)
	}
	provider, err := s.resolver.Resolve(settings, payment.Provider)
	if err != nil {
		return nil, err
	}

	var verified *payments.VerifyResult
	callErr := s.callProvider(ctx, provider.Name(), "verify", func(ctx context.Context) error {
		result, err := provider.VerifyPayment(ctx, payments.VerifyRequest{
			Reference:         payment.Reference,
			ProviderReference: payment.ProviderReference.String,
		})
		if err != nil {
			return err
		}
		verified = result
		return nil
	})
	if callErr != nil {
		return nil, callErr
	}

	previous := payment.Status
	status := chargeStatus(verified.Status)
	verifiedAt := s.now().UTC()
	if err := s.store.MarkPaymentVerified(ctx, payment.ID, status, verified.ProviderReference, verifiedAt); err != nil {
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}
	applyPaymentOutcome(payment, status, verified.ProviderReference, "")
	payment.VerifiedAt = sql.NullTime{Time: verifiedAt, Valid: true}

	var orderStatus models.OrderStatus
	if status == models.PaymentStatusSuccess && previous != models.PaymentStatusSuccess {
		order, err := s.store.GetOrder(ctx, payment.OrderID, sellerID)
		if err != nil {
			s.logger.Error("Verified payment references unloadable order",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(err))
		} else {
			orderStatus = s.confirmOrder(ctx, order, payment)
		}
		s.publishProcessed(payment)
	}

	s.logger.Info("Payment verified",
		zap.String("payment_id", payment.ID.String()),
		zap.String("previous_status", string(previous)),
		zap.String("status", string(status)))

	s.audit.Record(ctx, payment.SellerID, audit.ActionPaymentVerified, "payment", payment.ID.String(), actorID, map[string]interface{}{
		"reference":       payment.Reference,
		"previous_status": previous,
		"status":          status,
	})

	return &TransactionResult{
		Payment:     payment,
		OrderStatus: orderStatus,
		Message:     verified.Message,
	}, nil
}

// RefundPaymentRequest asks for a partial or full refund of a successful
// payment.
type RefundPaymentRequest struct {
	SellerID uuid.UUID        `json:"-"`
	ActorID  string           `json:"-"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// RefundOutcome reports a recorded refund.
type RefundOutcome struct {
	PaymentID       uuid.UUID       `json:"payment_id"`
	Reference       string          `json:"reference"`
	RefundReference string          `json:"refund_reference"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason,omitempty"`
}

// RefundPayment refunds part or all of a successful payment through its
// provider and appends a refund sub-record to the payment's encrypted
// metadata. No new payment entity is created and the payment status is
// unchanged.
func (s *PaymentService) RefundPayment(ctx context.Context, reference string, req *RefundPaymentRequest) (*RefundOutcome, error) {
	ctx, span := util.StartTenantSpan(ctx, "PaymentService.RefundPayment", req.SellerID)
	defer span.End()

	payment, err := s.store.GetPaymentByReference(ctx, reference, req.SellerID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusSuccess {
		return nil, models.NewPaymentError("only successful payments can be refunded")
	}

	amount := payment.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !amount.IsPositive() {
		return nil, models.NewPaymentError("refund amount must be positive")
	}

	metadata, err := s.cipher.Decrypt(payment.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to open payment metadata: %w", err)
	}

	alreadyRefunded := refundedTotal(metadata)
	if alreadyRefunded.Add(amount).GreaterThan(payment.Amount) {
		return nil, models.NewPaymentError(
			"refund amount exceeds remaining balance %s", payment.Amount.Sub(alreadyRefunded))
	}

	settings, err := s.store.GetPaymentSettings(ctx, req.SellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment settings: %w", err)
	}
	provider, err := s.resolver.Resolve(settings, payment.Provider)
	if err != nil {
		return nil, err
	}

	var refund *payments.RefundResult
	callErr := s.callProvider(ctx, provider.Name(), "refund", func(ctx context.Context) error {
		result, err := provider.RefundPayment(ctx, payments.RefundRequest{
			Reference:         payment.Reference,
			ProviderReference: payment.ProviderReference.String,
			Amount:            amount,
			Currency:          payment.Currency,
			Reason:            req.Reason,
		})
		if err != nil {
			return err
		}
		refund = result
		return nil
	})
	if callErr != nil {
		return nil, callErr
	}

	appendRefundRecord(metadata, map[string]interface{}{
		"refund_reference": refund.RefundReference,
		"amount":           amount.String(),
		"reason":           req.Reason,
		"refunded_at":      s.now().UTC().Format(time.RFC3339),
		"actor_id":         req.ActorID,
	})
	blob, err := s.cipher.Encrypt(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to seal payment metadata: %w", err)
	}
	if err := s.store.UpdatePaymentMetadata(ctx, payment.ID, blob); err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}

	util.PaymentRefundsTotal.Inc()
	s.logger.Info("Payment refunded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("refund_reference", refund.RefundReference),
		zap.String("amount", amount.String()))

	s.bus.Publish(eventbus.Event{
		Type:     models.EventTypePaymentRefunded,
		TenantID: payment.SellerID.String(),
		Payload: models.PaymentRefundedPayload{
			PaymentID:       payment.ID,
			OrderID:         payment.OrderID,
			SellerID:        payment.SellerID,
			Reference:       payment.Reference,
			RefundReference: refund.RefundReference,
			Amount:          amount,
			Reason:          req.Reason,
		},
	})

	s.audit.Record(ctx, payment.SellerID, audit.ActionPaymentRefunded, "payment", payment.ID.String(), req.ActorID, map[string]interface{}{
		"reference":        payment.Reference,
		"refund_reference": refund.RefundReference,
		"amount":           amount.String(),
		"reason":           req.Reason,
	})

	return &RefundOutcome{
		PaymentID:       payment.ID,
		Reference:       payment.Reference,
		RefundReference: refund.RefundReference,
		Amount:          amount,
		Reason:          req.Reason,
	}, nil
}

func (s *PaymentService) publishProcessed(payment *models.Payment) {
	s.bus.Publish(eventbus.Event{
		Type:     models.EventTypePaymentProcessed,
		TenantID: payment.SellerID.String(),
		Payload: models.PaymentProcessedPayload{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			SellerID:  payment.SellerID,
			Reference: payment.Reference,
			Provider:  payment.Provider,
			Status:    payment.Status,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
			RiskScore: payment.RiskScore,
		},
	})
}

// buildPaymentMetadata assembles the blob sealed into the payment row. Card
// numbers are masked before encryption so even the sealed copy never holds
// a full PAN.
func buildPaymentMetadata(req *ProcessPaymentRequest) map[string]interface{} {
	metadata := map[string]interface{}{}
	if req.CardNumber != "" {
		metadata["card_number"] = util.MaskCardNumber(req.CardNumber)
	}
	if req.CustomerEmail != "" {
		metadata["customer_email"] = req.CustomerEmail
	}
	if req.ClientIP != "" {
		metadata["client_ip"] = req.ClientIP
	}
	if req.UserAgent != "" {
		metadata["user_agent"] = util.SanitizeLogValue(req.UserAgent)
	}
	if req.BillingCountry != "" {
		metadata["billing_country"] = req.BillingCountry
	}
	if req.IPCountry != "" {
		metadata["ip_country"] = req.IPCountry
	}
	return metadata
}

func applyPaymentOutcome(payment *models.Payment, status models.PaymentStatus, providerRef, failureReason string) {
	payment.Status = status
	if providerRef != "" {
		payment.ProviderReference = sql.NullString{String: providerRef, Valid: true}
	}
	if failureReason != "" {
		payment.FailureReason = sql.NullString{String: failureReason, Valid: true}
	}
}

func chargeStatus(status payments.Status) models.PaymentStatus {
	switch status {
	case payments.StatusSuccess:
		return models.PaymentStatusSuccess
	case payments.StatusFailed:
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

// velocityKey identifies the buyer for attempt counting: phone digits when
// present, then email, then the order itself.
func velocityKey(order *models.Order) string {
	if digits := util.DigitsOnly(order.BuyerPhone); digits != "" {
		return digits
	}
	if order.BuyerEmail != "" {
		return strings.ToLower(order.BuyerEmail)
	}
	return order.ID.String()
}

func countryMismatch(ipCountry, billingCountry string) bool {
	return ipCountry != "" && billingCountry != "" && !strings.EqualFold(ipCountry, billingCountry)
}

func refundedTotal(metadata map[string]interface{}) decimal.Decimal {
	total := decimal.Zero
	refunds, _ := metadata["refunds"].([]interface{})
	for _, entry := range refunds {
		record, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		raw, ok := record["amount"].(string)
		if !ok {
			continue
		}
		if amount, err := decimal.NewFromString(raw); err == nil {
			total = total.Add(amount)
		}
	}
	return total
}

func appendRefundRecord(metadata map[string]interface{}, record map[string]interface{}) {
	refunds, _ := metadata["refunds"].([]interface{})
	metadata["refunds"] = append(refunds, record)
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
