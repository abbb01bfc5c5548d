package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration, now *time.Time) *Breaker {
	return &Breaker{
		name:      "paystack",
		threshold: threshold,
		cooldown:  cooldown,
		now:       func() time.Time { return *now },
	}
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(5, 5*time.Minute, &now)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(5, 5*time.Minute, &now)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "paystack", cbErr.Provider)
	assert.Equal(t, 5*time.Minute, cbErr.RetryAfter)
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(5, 5*time.Minute, &now)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()

	// The streak restarted, so four more failures still leave it closed.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(5, 5*time.Minute, &now)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Error(t, b.Allow())

	now = now.Add(5*time.Minute + time.Second)

	// First call after cooldown is the probe; a second concurrent call is
	// still rejected while the probe is in flight.
	require.NoError(t, b.Allow())
	require.Error(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(5, 5*time.Minute, &now)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	now = now.Add(5*time.Minute + time.Second)

	require.NoError(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, b.Allow(), &cbErr)
	assert.Equal(t, 5*time.Minute, cbErr.RetryAfter)
}

func TestRegistryReusesBreakerPerProvider(t *testing.T) {
	r := NewRegistry(5, 5*time.Minute)

	paystack := r.Breaker("paystack")
	stripe := r.Breaker("stripe")

	assert.Same(t, paystack, r.Breaker("paystack"))
	assert.NotSame(t, paystack, stripe)
}

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry(0, 0)
	b := r.Breaker("flutterwave")

	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 5*time.Minute, b.cooldown)
}

func TestBreakerIsolationAcrossProviders(t *testing.T) {
	r := NewRegistry(5, 5*time.Minute)

	paystack := r.Breaker("paystack")
	for i := 0; i < 5; i++ {
		paystack.RecordFailure()
	}

	require.Error(t, paystack.Allow())
	assert.NoError(t, r.Breaker("stripe").Allow())
}
