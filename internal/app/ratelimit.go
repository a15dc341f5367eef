package app

import (
	"context"

	"golang.org/x/time/rate"

	"token-relay/internal/apiclient"
	"token-relay/internal/common/logging"
	"token-relay/internal/common/http"
)

func (app *App) initializeHTTPClient() {
	app.HTTPClient = http.NewHTTPClient(
		http.WithTimeout(app.Config.HTTPTimeoutDuration()),
		http.WithLogger(app.Logger),
	)
}

// rateLimiter returns nil when RATE_LIMIT_RPS is 0
func (app *App) rateLimiter() *rate.Limiter {
	rps, burst := app.Config.RateLimit()
	if rps <= 0 {
		return nil
	}

	app.Logger.Info("Rate Limiting: Enabled",
		logging.Any("requests_per_second", rps),
		logging.Int("burst", burst))
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (app *App) initializeClient(context.Context) error {
	opts := []apiclient.Option{
		apiclient.WithDoer(app.HTTPClient),
		apiclient.WithMaxAttempts(app.Config.MaxAttempts()),
		apiclient.WithRetryDelay(app.Config.RetryDelayDuration()),
		apiclient.WithLogger(app.Logger),
		apiclient.WithMetrics(app.Metrics),
	}
	if limiter := app.rateLimiter(); limiter != nil {
		opts = append(opts, apiclient.WithRateLimiter(limiter))
	}

	client, err := apiclient.NewClient(app.Tokens, opts...)
	if err != nil {
		return err
	}
	app.Client = client
	return nil
}
