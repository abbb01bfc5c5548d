package circuit

import (
	"fmt"
	"sync"
	"time"

	"commerce-core/internal/util"
)

// State is the breaker position for one provider.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerError is returned while a provider's breaker is open.
// Callers can surface it as "temporarily unavailable" rather than a payment
// decline.
type CircuitBreakerError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker open for provider %q, retry after %s", e.Provider, e.RetryAfter)
}

// Breaker tracks consecutive transient failures for one provider. After
// threshold failures it opens for the cooldown window; the first call after
// cooldown is a single half-open probe whose outcome closes or re-opens it.
// State is held in process memory only: a multi-process deployment runs one
// breaker per process.
type Breaker struct {
	mu          sync.Mutex
	name        string
	threshold   int
	cooldown    time.Duration
	consecutive int
	state       State
	openedUntil time.Time
	probing     bool
	now         func() time.Time
}

// Allow reports whether a call may proceed. While open it fails fast with a
// CircuitBreakerError; after the cooldown it admits exactly one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if remaining := b.openedUntil.Sub(b.now()); remaining > 0 {
			return &CircuitBreakerError{Provider: b.name, RetryAfter: remaining}
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return &CircuitBreakerError{Provider: b.name, RetryAfter: 0}
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the failure streak and closes the breaker. A
// responsive provider counts as available even when it declines the charge.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.probing = false
	b.setState(StateClosed)
}

// RecordFailure counts one transient provider failure. Reaching the
// threshold, or failing the half-open probe, opens the breaker for the
// cooldown window.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.open()
		return
	}

	b.consecutive++
	if b.consecutive >= b.threshold {
		b.open()
	}
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.openedUntil) {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) open() {
	b.consecutive = 0
	b.probing = false
	b.openedUntil = b.now().Add(b.cooldown)
	b.setState(StateOpen)
}

func (b *Breaker) setState(state State) {
	b.state = state
	util.CircuitBreakerState.WithLabelValues(b.name).Set(float64(state))
}

// Registry hands out one breaker per provider name, created lazily with a
// shared threshold and cooldown.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewRegistry creates a breaker registry. Threshold and cooldown apply to
// every provider breaker it creates.
func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Registry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Breaker returns the breaker for the named provider, creating it on first
// use.
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := &Breaker{
		name:      name,
		threshold: r.threshold,
		cooldown:  r.cooldown,
		now:       r.now,
	}
	r.breakers[name] = b
	return b
}
