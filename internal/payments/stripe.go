package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeProvider charges through Stripe PaymentIntents. A supplied method
// token confirms the intent server-side; without one the intent is created
// unconfirmed and stays pending.
type StripeProvider struct {
	client *client.API
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{client: client.New(secretKey, nil)}
}

func (p *StripeProvider) Name() string {
	return ProviderStripe
}

func (p *StripeProvider) ProcessPayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	params.Metadata = make(map[string]string, len(req.Metadata)+1)
	params.Metadata["reference"] = req.Reference
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	if req.MethodToken != "" {
		params.PaymentMethod = stripe.String(req.MethodToken)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		}
	}

	intent, err := p.client.PaymentIntents.New(params)
	if err != nil {
		var sErr *stripe.Error
		if errors.As(err, &sErr) && sErr.Type == stripe.ErrorTypeCard {
			return &ChargeResult{Status: StatusFailed, Message: sErr.Msg}, nil
		}
		return nil, p.wrapError(err)
	}

	return &ChargeResult{
		Status:            stripeIntentStatus(intent.Status),
		ProviderReference: intent.ID,
		TransactionDate:   time.Unix(intent.Created, 0).UTC(),
		Message:           string(intent.Status),
	}, nil
}

func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.ProviderReference == "" {
		return nil, &ProviderError{
			Provider: ProviderStripe,
			Message:  "verification requires the payment intent id",
		}
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.client.PaymentIntents.Get(req.ProviderReference, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	return &VerifyResult{
		Status:            stripeIntentStatus(intent.Status),
		ProviderReference: intent.ID,
		Message:           string(intent.Status),
	}, nil
}

func (p *StripeProvider) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.ProviderReference == "" {
		return nil, &ProviderError{
			Provider: ProviderStripe,
			Message:  "refund requires the payment intent id",
		}
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderReference),
		Amount:        stripe.Int64(minorUnits(req.Amount)),
	}
	params.Context = ctx
	if req.Reason != "" {
		params.Metadata = map[string]string{"note": req.Reason}
	}

	refund, err := p.client.Refunds.New(params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	return &RefundResult{
		RefundReference: refund.ID,
		Status:          stripeRefundStatus(refund.Status),
	}, nil
}

func (p *StripeProvider) wrapError(err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return &ProviderError{
			Provider:   ProviderStripe,
			StatusCode: sErr.HTTPStatusCode,
			Message:    sErr.Msg,
			Transient:  transientStatus(sErr.HTTPStatusCode),
			Err:        err,
		}
	}
	return &ProviderError{Provider: ProviderStripe, Message: err.Error(), Transient: true, Err: err}
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSuccess
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusPending
	default:
		return StatusPending
	}
}

func stripeRefundStatus(status stripe.RefundStatus) Status {
	switch status {
	case stripe.RefundStatusSucceeded:
		return StatusSuccess
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}
