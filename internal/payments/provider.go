package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"commerce-core/internal/models"

	"github.com/shopspring/decimal"
)

// Supported provider names. Tenants enable a subset in PaymentSettings.
const (
	ProviderPaystack    = "paystack"
	ProviderFlutterwave = "flutterwave"
	ProviderStripe      = "stripe"
)

// Status is the provider-reported state of a charge.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// ChargeRequest describes one charge attempt. Reference is this service's
// signed payment reference; MethodToken is an optional tokenized payment
// method for providers that charge directly.
type ChargeRequest struct {
	Reference      string
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
	MethodToken    string
	Metadata       map[string]string
}

// ChargeResult is the outcome of a charge attempt. A decline is a result,
// not an error: errors are reserved for the provider being unreachable or
// broken.
type ChargeResult struct {
	Status            Status
	ProviderReference string
	TransactionDate   time.Time
	Message           string
}

// VerifyRequest identifies a payment to re-query. Reference is ours;
// ProviderReference is the provider's, when known.
type VerifyRequest struct {
	Reference         string
	ProviderReference string
}

// VerifyResult is the provider's current view of a payment.
type VerifyResult struct {
	Status            Status
	ProviderReference string
	Message           string
}

// RefundRequest asks the provider to return part or all of a captured
// charge.
type RefundRequest struct {
	Reference         string
	ProviderReference string
	Amount            decimal.Decimal
	Currency          string
	Reason            string
}

// RefundResult carries the provider's refund identifier.
type RefundResult struct {
	RefundReference string
	Status          Status
}

// Provider is the abstraction over payment gateways. Implementations are
// opaque, retryable external services: they classify transport and 5xx
// failures as transient ProviderErrors and report application declines as
// results.
type Provider interface {
	Name() string
	ProcessPayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// ProviderError reports a failed provider interaction. Transient errors
// (network failures, timeouts, HTTP 408/429/5xx) feed the retry policy and
// the circuit breaker; the rest surface immediately.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s failed with status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// Resolver builds the provider adapter for a tenant from its payment
// settings: the caller's preferred provider first, then the tenant default,
// then the first enabled one. A provider qualifies only when it is both
// enabled and configured with a secret.
type Resolver struct {
	httpClient         *http.Client
	paystackBaseURL    string
	flutterwaveBaseURL string
}

// NewResolver creates a resolver whose HTTP-based adapters share one client
// with the given timeout.
func NewResolver(timeout time.Duration, paystackBaseURL, flutterwaveBaseURL string) *Resolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Resolver{
		httpClient:         &http.Client{Timeout: timeout},
		paystackBaseURL:    strings.TrimSuffix(paystackBaseURL, "/"),
		flutterwaveBaseURL: strings.TrimSuffix(flutterwaveBaseURL, "/"),
	}
}

// Resolve picks and constructs the provider to charge through.
func (r *Resolver) Resolve(settings *models.PaymentSettings, preferred string) (Provider, error) {
	if settings == nil {
		return nil, models.NewPaymentError("online payments are not configured for this seller")
	}

	candidates := make([]string, 0, 2+len(settings.EnabledProviders))
	if preferred != "" {
		candidates = append(candidates, strings.ToLower(preferred))
	}
	if settings.DefaultProvider != "" {
		candidates = append(candidates, strings.ToLower(settings.DefaultProvider))
	}
	for _, name := range settings.EnabledProviders {
		candidates = append(candidates, strings.ToLower(name))
	}

	seen := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		if seen[name] {
			continue
		}
		seen[name] = true

		if !providerEnabled(settings, name) {
			continue
		}
		secret := secretFor(settings, name)
		if secret == "" {
			continue
		}

		switch name {
		case ProviderPaystack:
			return NewPaystackProvider(secret, r.paystackBaseURL, r.httpClient), nil
		case ProviderFlutterwave:
			return NewFlutterwaveProvider(secret, r.flutterwaveBaseURL, r.httpClient), nil
		case ProviderStripe:
			return NewStripeProvider(secret), nil
		}
	}

	return nil, models.NewPaymentError("no enabled payment provider for this seller")
}

func providerEnabled(settings *models.PaymentSettings, name string) bool {
	for _, enabled := range settings.EnabledProviders {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

func secretFor(settings *models.PaymentSettings, name string) string {
	switch name {
	case ProviderPaystack:
		return settings.PaystackSecretKey
	case ProviderFlutterwave:
		return settings.FlutterwaveSecretKey
	case ProviderStripe:
		return settings.StripeSecretKey
	default:
		return ""
	}
}
