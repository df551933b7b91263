package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/furisto/cadence/shared/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

type ProviderOptions struct {
	URL            string
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
	Metrics        *prometheus.Registry
}

type ProviderOption func(*ProviderOptions)

func WithURL(url string) ProviderOption {
	return func(options *ProviderOptions) {
		options.URL = url
	}
}

func WithRetryConfig(retryConfig *resilience.RetryConfig) ProviderOption {
	return func(options *ProviderOptions) {
		options.RetryConfig = retryConfig
	}
}

func WithCircuitBreaker(circuitBreaker *resilience.CircuitBreaker) ProviderOption {
	return func(options *ProviderOptions) {
		options.CircuitBreaker = circuitBreaker
	}
}

func WithMetrics(metrics *prometheus.Registry) ProviderOption {
	return func(o *ProviderOptions) {
		o.Metrics = metrics
	}
}

// DefaultProviderOptions retries transport failures forever with a fixed one
// second delay. The scheduler never sees a failed call.
func DefaultProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		RetryConfig: resilience.FixedDelay(time.Second),
	}
}

// Credentials is what a provider needs to connect.
type Credentials struct {
	Kind    ProviderKind
	APIKey  string
	BaseURL string
}

// New connects the provider named by creds and wraps it in the retry policy
// of the options.
func New(ctx context.Context, creds Credentials, opts ...ProviderOption) (*RetryingProvider, error) {
	options := DefaultProviderOptions()
	for _, opt := range opts {
		opt(options)
	}
	if creds.BaseURL != "" && options.URL == "" {
		options.URL = creds.BaseURL
	}

	var (
		inner Provider
		err   error
	)
	switch creds.Kind {
	case ProviderKindOpenAI:
		inner, err = NewOpenAIProvider(creds.APIKey, options.URL)
	case ProviderKindAnthropic:
		inner, err = NewAnthropicProvider(creds.APIKey, options.URL)
	case ProviderKindDeepSeek:
		inner, err = NewDeepSeekProvider(creds.APIKey, options.URL)
	case ProviderKindGemini:
		inner, err = NewGeminiProvider(ctx, creds.APIKey, options.URL)
	default:
		return nil, fmt.Errorf("unsupported provider %q", creds.Kind)
	}
	if err != nil {
		return nil, err
	}

	return NewRetryingProvider(inner, options), nil
}

type ProviderError struct {
	Provider   ProviderKind
	RetryAfter time.Duration
	Err        error
	Kind       ProviderErrorKind
}

func NewProviderError(provider ProviderKind, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Err:      err,
	}
}

func (pe *ProviderError) Message() string {
	switch pe.Kind {
	case ProviderErrorKindInvalidRequest:
		return "Invalid request format or content"
	case ProviderErrorKindAuthentication:
		return "Authentication failed"
	case ProviderErrorKindRateLimitExceeded:
		if pe.RetryAfter > 0 {
			return fmt.Sprintf("Rate limit exceeded, retry after %s", pe.RetryAfter)
		}
		return "Rate limit exceeded"
	case ProviderErrorKindOverloaded:
		return "API temporarily overloaded"
	case ProviderErrorKindInternal:
		return "Internal server error"
	case ProviderErrorKindTimeout:
		return "Request timeout"
	case ProviderErrorKindCanceled:
		return "Request canceled"
	default:
		return "Unknown error"
	}
}

// Retryable reports whether the failure is transient and how long the
// provider asked to wait before the next attempt.
func (pe *ProviderError) Retryable() (bool, time.Duration) {
	switch pe.Kind {
	case ProviderErrorKindCanceled:
		return false, 0
	case ProviderErrorKindRateLimitExceeded:
		return true, pe.RetryAfter
	case ProviderErrorKindOverloaded:
		return true, max(pe.RetryAfter, 10*time.Second)
	default:
		return true, pe.RetryAfter
	}
}

func (pe *ProviderError) Error() string {
	if pe.Err != nil {
		return fmt.Sprintf("%s: %s: %s", pe.Provider, pe.Message(), pe.Err.Error())
	}
	return fmt.Sprintf("%s: %s", pe.Provider, pe.Message())
}

func (pe *ProviderError) Unwrap() error {
	return pe.Err
}

type ProviderErrorKind string

const (
	ProviderErrorKindInvalidRequest    ProviderErrorKind = "invalid_request"
	ProviderErrorKindAuthentication    ProviderErrorKind = "authentication"
	ProviderErrorKindRateLimitExceeded ProviderErrorKind = "rate_limit_exceeded"
	ProviderErrorKindOverloaded        ProviderErrorKind = "overloaded"
	ProviderErrorKindInternal          ProviderErrorKind = "internal"
	ProviderErrorKindTimeout           ProviderErrorKind = "timeout"
	ProviderErrorKindCanceled          ProviderErrorKind = "canceled"
	ProviderErrorKindUnknown           ProviderErrorKind = "unknown"
)

// classifyStatus maps an HTTP status to an error kind. status 0 means the
// request never got a response.
func classifyStatus(status int) ProviderErrorKind {
	switch {
	case status == 0:
		return ProviderErrorKindUnknown
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ProviderErrorKindAuthentication
	case status == http.StatusTooManyRequests:
		return ProviderErrorKindRateLimitExceeded
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ProviderErrorKindTimeout
	case status == http.StatusServiceUnavailable || status == 529:
		return ProviderErrorKindOverloaded
	case status >= 500:
		return ProviderErrorKindInternal
	case status >= 400:
		return ProviderErrorKindInvalidRequest
	default:
		return ProviderErrorKindUnknown
	}
}

// toProviderError classifies err. status and header come from the SDK's
// API error type when the request reached the provider.
func toProviderError(provider ProviderKind, err error, status int, header http.Header) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NewProviderError(provider, ProviderErrorKindCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(provider, ProviderErrorKindTimeout, err)
	}

	pe = NewProviderError(provider, classifyStatus(status), err)
	if header != nil {
		if seconds, convErr := strconv.Atoi(header.Get("Retry-After")); convErr == nil {
			pe.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return pe
}
