// Package app wires the encryption envelope, credential store, token manager and
// request executor together from a validated configuration.
package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"token-relay/internal/apiclient"
	"token-relay/internal/common/logging"
	"token-relay/internal/config"
	"token-relay/internal/credentials"
	"token-relay/internal/crypto"
	"token-relay/internal/exchange"
	"token-relay/internal/locks"
	"token-relay/internal/metrics"
	"token-relay/internal/redis"
	"token-relay/internal/token"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Envelope    *crypto.Envelope
	Sealer      *credentials.Sealer
	Store       credentials.Store
	RedisClient *redis.Client
	Locker      *locks.RedsyncLocker
	Exchanger   *exchange.OAuthExchanger
	Tokens      *token.Manager
	Client      *apiclient.Client
	HTTPClient  *http.Client
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Logger      logging.Logger

	// storeOwnsRedis is set once the Redis store has taken over the client
	storeOwnsRedis bool
}

// New creates a new application instance with all dependencies. cfg must have
// passed Validate.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	app.initializeMetrics()
	app.initializeHTTPClient()

	// Initialize components in order of dependency
	steps := []func(context.Context) error{
		app.initializeEncryption,
		app.initializeRedis,
		app.initializeStorage,
		app.initializeLocker,
		app.initializeExchanger,
		app.initializeTokens,
		app.initializeClient,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.Close()
			return nil, err
		}
	}

	return app, nil
}

func (app *App) initializeMetrics() {
	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = metrics.New(app.Registry)
}

func (app *App) initializeTokens(context.Context) error {
	opts := []token.Option{
		token.WithLogger(app.Logger),
		token.WithMetrics(app.Metrics),
	}
	if app.Exchanger != nil {
		opts = append(opts, token.WithExchanger(app.Exchanger))
	}
	if app.Locker != nil {
		opts = append(opts, token.WithLocker(app.Locker))
	}

	manager, err := token.NewManager(app.Store, opts...)
	if err != nil {
		return err
	}
	app.Tokens = manager
	return nil
}

// Close releases all resources
func (app *App) Close() {
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Failed to close credential store", logging.Err(err))
		}
	}
	if app.RedisClient != nil && !app.storeOwnsRedis {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Failed to close Redis client", logging.Err(err))
		}
	}
}
