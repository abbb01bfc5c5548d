package payments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultFlutterwaveBaseURL = "https://api.flutterwave.com/v3"

// FlutterwaveProvider charges through the Flutterwave v3 REST API. Charges
// run against a saved card token when one is supplied; otherwise a hosted
// payment is initiated and the charge stays pending until verified.
type FlutterwaveProvider struct {
	rest restClient
}

func NewFlutterwaveProvider(secret, baseURL string, client *http.Client) *FlutterwaveProvider {
	if baseURL == "" {
		baseURL = defaultFlutterwaveBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FlutterwaveProvider{rest: restClient{
		name:   ProviderFlutterwave,
		base:   baseURL,
		secret: secret,
		client: client,
	}}
}

func (p *FlutterwaveProvider) Name() string {
	return ProviderFlutterwave
}

type flutterwaveTransaction struct {
	ID                int64  `json:"id"`
	TxRef             string `json:"tx_ref"`
	FlwRef            string `json:"flw_ref"`
	Status            string `json:"status"`
	ProcessorResponse string `json:"processor_response"`
	CreatedAt         string `json:"created_at"`
}

type flutterwaveEnvelope struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Data    flutterwaveTransaction `json:"data"`
}

func (p *FlutterwaveProvider) ProcessPayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.MethodToken == "" {
		return p.initiateHostedPayment(ctx, req)
	}

	body := map[string]interface{}{
		"token":    req.MethodToken,
		"tx_ref":   req.Reference,
		"amount":   req.Amount.StringFixed(2),
		"currency": req.Currency,
		"email":    req.CustomerEmail,
	}
	if len(req.Metadata) > 0 {
		body["meta"] = req.Metadata
	}

	var out flutterwaveEnvelope
	if err := p.rest.do(ctx, http.MethodPost, "/tokenized-charges", body, &out); err != nil {
		return nil, err
	}
	if strings.EqualFold(out.Status, "error") {
		return &ChargeResult{Status: StatusFailed, Message: out.Message}, nil
	}

	result := &ChargeResult{
		Status:  flutterwaveStatus(out.Data.Status),
		Message: firstNonEmpty(out.Data.ProcessorResponse, out.Message),
	}
	if out.Data.ID != 0 {
		result.ProviderReference = strconv.FormatInt(out.Data.ID, 10)
	}
	if ts, err := time.Parse(time.RFC3339, out.Data.CreatedAt); err == nil {
		result.TransactionDate = ts
	}
	return result, nil
}

// initiateHostedPayment creates a payment the customer completes on a
// Flutterwave-hosted page. The charge is pending until verification sees it
// settle.
func (p *FlutterwaveProvider) initiateHostedPayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := map[string]interface{}{
		"tx_ref":   req.Reference,
		"amount":   req.Amount.StringFixed(2),
		"currency": req.Currency,
		"customer": map[string]string{"email": req.CustomerEmail},
	}
	if len(req.Metadata) > 0 {
		body["meta"] = req.Metadata
	}

	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := p.rest.do(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return nil, err
	}
	if strings.EqualFold(out.Status, "error") {
		return &ChargeResult{Status: StatusFailed, Message: out.Message}, nil
	}

	return &ChargeResult{Status: StatusPending, Message: firstNonEmpty(out.Data.Link, out.Message)}, nil
}

func (p *FlutterwaveProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	var out flutterwaveEnvelope
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(req.Reference)
	if err := p.rest.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Status:  flutterwaveStatus(out.Data.Status),
		Message: firstNonEmpty(out.Data.ProcessorResponse, out.Message),
	}
	if out.Data.ID != 0 {
		result.ProviderReference = strconv.FormatInt(out.Data.ID, 10)
	}
	return result, nil
}

func (p *FlutterwaveProvider) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.ProviderReference == "" {
		return nil, &ProviderError{
			Provider: ProviderFlutterwave,
			Message:  "refund requires the provider transaction id",
		}
	}

	body := map[string]interface{}{
		"amount": req.Amount.StringFixed(2),
	}
	if req.Reason != "" {
		body["comments"] = req.Reason
	}

	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/transactions/%s/refund", url.PathEscape(req.ProviderReference))
	if err := p.rest.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}

	result := &RefundResult{Status: flutterwaveRefundStatus(out.Data.Status)}
	if out.Data.ID != 0 {
		result.RefundReference = strconv.FormatInt(out.Data.ID, 10)
	}
	return result, nil
}

func flutterwaveStatus(status string) Status {
	switch strings.ToLower(status) {
	case "successful":
		return StatusSuccess
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}

func flutterwaveRefundStatus(status string) Status {
	switch strings.ToLower(status) {
	case "completed", "successful":
		return StatusSuccess
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}
