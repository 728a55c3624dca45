package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the attempts of one operation.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first one.
	// Default: 3
	MaxAttempts int
	// InitialBackoff is the wait after the first failure.
	// Default: 500ms
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts.
	// Default: InitialBackoff (fixed backoff)
	MaxBackoff time.Duration
	// Multiplier grows the wait after each failure. 1 means fixed backoff.
	// Default: 2
	Multiplier float64
	// Jitter is the randomization factor in [0,1). Default: 0
	Jitter float64
	// Retryable decides whether an error deserves another attempt.
	// Default: every error is retryable.
	Retryable func(error) bool
	// OnRetry is called before sleeping with the failed attempt number and the wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// Retry runs op until it succeeds, returns a non-retryable error, the attempts run out
// or ctx ends. It returns the number of attempts made. When ctx ends the context error
// is returned; op is never started after ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context, attempt int) error) (int, error) {
	p := policy.withDefaults()
	attempts := 0

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := op(ctx, attempts)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) {
			p.OnRetry(attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	return attempts, err
}
