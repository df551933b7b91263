package model

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type providerMetrics struct {
	calls        *prometheus.CounterVec
	retries      *prometheus.CounterVec
	outputTokens *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

func newProviderMetrics(registry *prometheus.Registry) *providerMetrics {
	if registry == nil {
		return nil
	}

	metrics := &providerMetrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_calls_total",
				Help: "Total number of provider calls by provider, mode and outcome",
			},
			[]string{"provider", "mode", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_call_retries_total",
				Help: "Total number of retried provider calls by error kind",
			},
			[]string{"provider", "kind"},
		),
		outputTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_output_tokens_total",
				Help: "Total number of output tokens reported by providers",
			},
			[]string{"provider", "model"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_call_duration_seconds",
				Help:    "Duration of blocking provider calls including retries",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
			},
			[]string{"provider", "model"},
		),
	}

	// Every provider of a run shares the registry; the first one registers.
	metrics.calls = register(registry, metrics.calls)
	metrics.retries = register(registry, metrics.retries)
	metrics.outputTokens = register(registry, metrics.outputTokens)
	metrics.latency = register(registry, metrics.latency)

	return metrics
}

func register[T prometheus.Collector](registry *prometheus.Registry, collector T) T {
	err := registry.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(err)
}

func (m *providerMetrics) RecordCall(provider ProviderKind, mode string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(string(provider), mode, outcome).Inc()
}

func (m *providerMetrics) RecordRetry(provider ProviderKind, kind ProviderErrorKind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(provider), string(kind)).Inc()
}

func (m *providerMetrics) RecordOutputTokens(provider ProviderKind, model string, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.outputTokens.WithLabelValues(string(provider), model).Add(float64(tokens))
}

func (m *providerMetrics) ObserveLatency(provider ProviderKind, model string, start time.Time) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(string(provider), model).Observe(time.Since(start).Seconds())
}
