package model

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/furisto/cadence/shared/resilience"
)

// RetryingProvider applies a retry policy to every call of the provider it
// wraps. With the default policy calls are retried until they succeed or ctx
// is done.
type RetryingProvider struct {
	inner   Provider
	retrier *resilience.Retrier
	metrics *providerMetrics
}

func NewRetryingProvider(inner Provider, options *ProviderOptions) *RetryingProvider {
	if options == nil {
		options = DefaultProviderOptions()
	}
	metrics := newProviderMetrics(options.Metrics)
	hook := &retryLogger{provider: inner.Kind(), metrics: metrics}

	return &RetryingProvider{
		inner:   inner,
		retrier: resilience.NewRetrier(options.RetryConfig, options.CircuitBreaker, hook),
		metrics: metrics,
	}
}

func (p *RetryingProvider) Kind() ProviderKind {
	return p.inner.Kind()
}

// Unwrap returns the provider without the retry policy, for callers that
// bound their own attempts.
func (p *RetryingProvider) Unwrap() Provider {
	return p.inner
}

func (p *RetryingProvider) Generate(ctx context.Context, model string, messages []Message, params SamplingParams) (*Response, error) {
	start := time.Now()
	resp, err := resilience.Do(ctx, p.retrier, func(ctx context.Context) (*Response, error) {
		resp, err := p.inner.Generate(ctx, model, messages, params)
		if err != nil {
			return nil, p.classify(err)
		}
		return resp, nil
	})

	p.metrics.RecordCall(p.Kind(), "generate", err)
	p.metrics.ObserveLatency(p.Kind(), model, start)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordOutputTokens(p.Kind(), model, resp.Usage.OutputTokens)
	return resp, nil
}

type openedStream struct {
	chunks <-chan Chunk
	first  Chunk
	empty  bool
}

// Stream retries until the provider delivers its first chunk. A failure
// after that ends the stream; the caller keeps what it already received.
func (p *RetryingProvider) Stream(ctx context.Context, model string, messages []Message, params SamplingParams) <-chan Chunk {
	out := make(chan Chunk, streamBufferSize)

	go func() {
		defer close(out)

		opened, err := resilience.Do(ctx, p.retrier, func(ctx context.Context) (openedStream, error) {
			chunks := p.inner.Stream(ctx, model, messages, params)
			first, ok := <-chunks
			if !ok {
				return openedStream{empty: true}, nil
			}
			if first.Err != nil {
				return openedStream{}, p.classify(first.Err)
			}
			return openedStream{chunks: chunks, first: first}, nil
		})
		if err != nil {
			p.metrics.RecordCall(p.Kind(), "stream", err)
			forward(ctx, out, Chunk{Err: err})
			return
		}
		if opened.empty {
			p.metrics.RecordCall(p.Kind(), "stream", nil)
			return
		}

		var streamErr error
		chunk, more := opened.first, true
		for more {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			p.metrics.RecordOutputTokens(p.Kind(), model, chunk.OutputTokens)
			if !forward(ctx, out, chunk) {
				break
			}
			chunk, more = <-opened.chunks
		}
		p.metrics.RecordCall(p.Kind(), "stream", streamErr)
	}()

	return out
}

func forward(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// classify marks errors that retrying cannot fix as permanent.
func (p *RetryingProvider) classify(err error) error {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return err
	}
	if retry, _ := pe.Retryable(); !retry {
		return resilience.Permanent(err)
	}
	return err
}

type retryLogger struct {
	provider ProviderKind
	metrics  *providerMetrics
}

func (l *retryLogger) OnRetryAttempt(ctx context.Context, attempt uint, err error, nextDelay time.Duration) {
	kind := ProviderErrorKindUnknown
	var pe *ProviderError
	if errors.As(err, &pe) {
		kind = pe.Kind
	}
	l.metrics.RecordRetry(l.provider, kind)
	slog.WarnContext(ctx, "provider call failed, retrying",
		"provider", l.provider,
		"attempt", attempt,
		"next_retry", nextDelay,
		"error", err,
	)
}

func (l *retryLogger) OnRetrySuccess(ctx context.Context, attempts uint, totalDuration time.Duration) {
	if attempts > 1 {
		slog.InfoContext(ctx, "provider call succeeded after retries",
			"provider", l.provider,
			"attempts", attempts,
			"duration", totalDuration,
		)
	}
}

func (l *retryLogger) OnRetryFailure(ctx context.Context, err error, attempts uint, totalDuration time.Duration) {
	slog.ErrorContext(ctx, "provider call abandoned",
		"provider", l.provider,
		"attempts", attempts,
		"duration", totalDuration,
		"error", err,
	)
}

var (
	_ Provider             = (*RetryingProvider)(nil)
	_ resilience.RetryHook = (*retryLogger)(nil)
)
