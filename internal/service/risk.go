package service

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RiskReviewThreshold is the score above which a payment is flagged for
// manual review instead of being sent to the provider.
const RiskReviewThreshold = 0.8

// RiskSignals are the inputs to risk scoring, gathered by the caller so the
// scoring itself stays deterministic.
type RiskSignals struct {
	Amount          decimal.Decimal
	RecentAttempts  int64
	FlaggedIP       bool
	CountryMismatch bool
	UserAgent       string
}

var (
	riskAmountHigh     = decimal.NewFromInt(5000)
	riskAmountElevated = decimal.NewFromInt(1000)
)

// ScoreRisk computes the fraud score for one payment attempt. Weights are
// additive and the result is clamped to 1.0.
func ScoreRisk(signals RiskSignals) float64 {
	score := 0.0

	switch {
	case signals.Amount.GreaterThan(riskAmountHigh):
		score += 0.40
	case signals.Amount.GreaterThan(riskAmountElevated):
		score += 0.20
	}

	switch {
	case signals.RecentAttempts >= 10:
		score += 0.45
	case signals.RecentAttempts >= 5:
		score += 0.25
	case signals.RecentAttempts >= 3:
		score += 0.10
	}

	if signals.FlaggedIP {
		score += 0.30
	}
	if signals.CountryMismatch {
		score += 0.20
	}
	if IsSuspiciousUserAgent(signals.UserAgent) {
		score += 0.15
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

var suspiciousAgentMarkers = []string{
	"curl",
	"wget",
	"python-requests",
	"go-http-client",
	"scrapy",
	"headless",
	"bot",
}

// IsSuspiciousUserAgent reports whether the user agent looks like an
// automation tool rather than a customer device. A missing user agent
// counts as suspicious.
func IsSuspiciousUserAgent(userAgent string) bool {
	trimmed := strings.TrimSpace(userAgent)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range suspiciousAgentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
