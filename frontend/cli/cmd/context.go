package cmd

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/shared/config"
	"github.com/furisto/cadence/shared/keyring"
	"github.com/furisto/cadence/shared/resilience"
)

type contextKey string

const (
	ContextKeyFileSystem      contextKey = "file_system"
	ContextKeyKeyring         contextKey = "keyring"
	ContextKeyProviderFactory contextKey = "provider_factory"
	ContextKeyDisableFileLogs contextKey = "disable_file_logs"
	ContextKeyGlobalOptions   contextKey = "global_options"
	ContextKeyConfig          contextKey = "config"
)

// ProviderFactory connects to a model provider. Tests swap it for mocks.
type ProviderFactory func(ctx context.Context, creds model.Credentials, registry *prometheus.Registry) (model.Provider, error)

func defaultProviderFactory(ctx context.Context, creds model.Credentials, registry *prometheus.Registry) (model.Provider, error) {
	// While the breaker is open calls are held back but still retried.
	breaker := resilience.NewCircuitBreaker(string(creds.Kind), 5, 30*time.Second)
	provider, err := model.New(ctx, creds, model.WithMetrics(registry), model.WithCircuitBreaker(breaker))
	if err != nil {
		return nil, err
	}
	return provider, nil
}

func getFileSystem(ctx context.Context) *afero.Afero {
	if fs, ok := ctx.Value(ContextKeyFileSystem).(*afero.Afero); ok {
		return fs
	}
	return &afero.Afero{Fs: afero.NewOsFs()}
}

func getKeyring(ctx context.Context) keyring.Provider {
	if k, ok := ctx.Value(ContextKeyKeyring).(keyring.Provider); ok {
		return k
	}
	return keyring.NewKeyringProvider()
}

func getProviderFactory(ctx context.Context) ProviderFactory {
	if f, ok := ctx.Value(ContextKeyProviderFactory).(ProviderFactory); ok {
		return f
	}
	return defaultProviderFactory
}

func setGlobalOptions(ctx context.Context, options *globalOptions) context.Context {
	return context.WithValue(ctx, ContextKeyGlobalOptions, options)
}

func getGlobalOptions(ctx context.Context) *globalOptions {
	if options, ok := ctx.Value(ContextKeyGlobalOptions).(*globalOptions); ok {
		return options
	}
	return &globalOptions{}
}

func setConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, ContextKeyConfig, cfg)
}

func getConfig(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(ContextKeyConfig).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func getConfigLoader(ctx context.Context) *config.Loader {
	return config.NewLoader(getFileSystem(ctx), getKeyring(ctx))
}
