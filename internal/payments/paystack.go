package payments

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultPaystackBaseURL = "https://api.paystack.co"

// PaystackProvider charges through the Paystack REST API. Amounts are sent
// in subunits (kobo for NGN).
type PaystackProvider struct {
	rest restClient
}

func NewPaystackProvider(secret, baseURL string, client *http.Client) *PaystackProvider {
	if baseURL == "" {
		baseURL = defaultPaystackBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PaystackProvider{rest: restClient{
		name:   ProviderPaystack,
		base:   baseURL,
		secret: secret,
		client: client,
	}}
}

func (p *PaystackProvider) Name() string {
	return ProviderPaystack
}

type paystackTransaction struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	GatewayResponse string `json:"gateway_response"`
	TransactionDate string `json:"transaction_date"`
}

type paystackEnvelope struct {
	Status  bool                `json:"status"`
	Message string              `json:"message"`
	Data    paystackTransaction `json:"data"`
}

func (p *PaystackProvider) ProcessPayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := map[string]interface{}{
		"email":     req.CustomerEmail,
		"amount":    minorUnits(req.Amount),
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.MethodToken != "" {
		body["authorization_code"] = req.MethodToken
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out paystackEnvelope
	if err := p.rest.do(ctx, http.MethodPost, "/charge", body, &out); err != nil {
		return nil, err
	}

	result := &ChargeResult{
		Status:  paystackStatus(out.Data.Status),
		Message: firstNonEmpty(out.Data.GatewayResponse, out.Message),
	}
	if out.Data.ID != 0 {
		result.ProviderReference = strconv.FormatInt(out.Data.ID, 10)
	}
	if ts, err := time.Parse(time.RFC3339, out.Data.TransactionDate); err == nil {
		result.TransactionDate = ts
	}
	return result, nil
}

func (p *PaystackProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	var out paystackEnvelope
	path := "/transaction/verify/" + url.PathEscape(req.Reference)
	if err := p.rest.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Status:  paystackStatus(out.Data.Status),
		Message: firstNonEmpty(out.Data.GatewayResponse, out.Message),
	}
	if out.Data.ID != 0 {
		result.ProviderReference = strconv.FormatInt(out.Data.ID, 10)
	}
	return result, nil
}

func (p *PaystackProvider) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	transaction := firstNonEmpty(req.ProviderReference, req.Reference)
	body := map[string]interface{}{
		"transaction": transaction,
		"amount":      minorUnits(req.Amount),
	}
	if req.Currency != "" {
		body["currency"] = req.Currency
	}
	if req.Reason != "" {
		body["merchant_note"] = req.Reason
	}

	var out struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := p.rest.do(ctx, http.MethodPost, "/refund", body, &out); err != nil {
		return nil, err
	}

	result := &RefundResult{Status: paystackRefundStatus(out.Data.Status)}
	if out.Data.ID != 0 {
		result.RefundReference = strconv.FormatInt(out.Data.ID, 10)
	}
	return result, nil
}

func paystackStatus(status string) Status {
	switch strings.ToLower(status) {
	case "success":
		return StatusSuccess
	case "failed", "abandoned", "reversed":
		return StatusFailed
	default:
		return StatusPending
	}
}

func paystackRefundStatus(status string) Status {
	switch strings.ToLower(status) {
	case "processed":
		return StatusSuccess
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}
