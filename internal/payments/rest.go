package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
)

// restClient wraps a bearer-authenticated JSON API. Transport failures and
// gateway-side HTTP errors become ProviderErrors with the transient flag
// set for anything worth retrying.
type restClient struct {
	name   string
	base   string
	secret string
	client *http.Client
}

func (r *restClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Provider: r.name, Message: "failed to encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, reader)
	if err != nil {
		return &ProviderError{Provider: r.name, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+r.secret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return &ProviderError{Provider: r.name, Message: "request failed", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Provider: r.name, StatusCode: resp.StatusCode, Message: "failed to read response", Transient: true, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &ProviderError{
			Provider:   r.name,
			StatusCode: resp.StatusCode,
			Message:    apiErrorMessage(raw),
			Transient:  transientStatus(resp.StatusCode),
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &ProviderError{Provider: r.name, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
		}
	}
	return nil
}

func apiErrorMessage(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

// minorUnits converts a major-unit amount to the smallest currency unit,
// e.g. 150.00 NGN to 15000 kobo.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
