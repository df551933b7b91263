package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig describes a retry policy independent of the call it guards.
// MaxAttempts of zero retries until the call succeeds or ctx is done.
type RetryConfig struct {
	MaxAttempts       uint
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

type RetryHook interface {
	OnRetryAttempt(ctx context.Context, attempt uint, err error, nextDelay time.Duration)
	OnRetrySuccess(ctx context.Context, attempts uint, totalDuration time.Duration)
	OnRetryFailure(ctx context.Context, err error, attempts uint, totalDuration time.Duration)
}

// FixedDelay retries forever, waiting delay between attempts.
func FixedDelay(delay time.Duration) *RetryConfig {
	return &RetryConfig{
		InitialDelay:      delay,
		MaxDelay:          delay,
		BackoffMultiplier: 1,
	}
}

func (c *RetryConfig) Unbounded() bool {
	return c.MaxAttempts == 0
}

func (c *RetryConfig) backOff() backoff.BackOff {
	if c.BackoffMultiplier <= 1 || c.MaxDelay <= c.InitialDelay {
		return backoff.NewConstantBackOff(c.InitialDelay)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.BackoffMultiplier
	b.RandomizationFactor = 0.1
	return b
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

type Retrier struct {
	config  *RetryConfig
	breaker *CircuitBreaker
	hooks   []RetryHook
}

func NewRetrier(config *RetryConfig, breaker *CircuitBreaker, hooks ...RetryHook) *Retrier {
	if config == nil {
		config = FixedDelay(time.Second)
	}
	return &Retrier{
		config:  config,
		breaker: breaker,
		hooks:   hooks,
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Do runs fn under the retrier's policy. Errors wrapped with Permanent stop
// the loop immediately.
func Do[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	var attempts uint

	operation := func() (T, error) {
		attempts++
		if r.breaker != nil && !r.breaker.Allow() {
			return *new(T), ErrCircuitOpen
		}

		result, err := fn(ctx)
		if r.breaker != nil {
			r.breaker.RecordResult(err)
		}
		return result, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.config.backOff()),
		backoff.WithMaxTries(r.config.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			for _, hook := range r.hooks {
				hook.OnRetryAttempt(ctx, attempts, err, next)
			}
		}),
	)

	total := time.Since(start)
	if err != nil {
		for _, hook := range r.hooks {
			hook.OnRetryFailure(ctx, err, attempts, total)
		}
		return result, err
	}

	for _, hook := range r.hooks {
		hook.OnRetrySuccess(ctx, attempts, total)
	}
	return result, nil
}
