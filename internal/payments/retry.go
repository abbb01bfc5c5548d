package payments

import (
	"context"
	"time"
)

// RetryPolicy retries an operation with exponential backoff. Only transient
// provider failures are retried; declines and permanent errors return on
// the first attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Do runs op until it succeeds, fails permanently, exhausts the attempt
// budget, or the context is cancelled while waiting between attempts.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !IsTransient(err) || attempt >= attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
