package app

import (
	"context"

	"token-relay/internal/common/logging"
	"token-relay/internal/exchange"
)

func (app *App) initializeExchanger(context.Context) error {
	if !app.Config.OAuthEnabled() {
		app.Logger.Info("OAuth exchange: not configured, tokens must be seeded into the store")
		return nil
	}

	ex, err := exchange.NewOAuthExchanger(exchange.Config{
		TokenURL:      app.Config.OAuthTokenURL,
		ClientID:      app.Config.OAuthClientID,
		ClientSecret:  app.Config.OAuthClientSecret,
		Scopes:        app.Config.Scopes(),
		GrantType:     app.Config.OAuthGrantType,
		Username:      app.Config.OAuthUsername,
		Password:      app.Config.OAuthPassword,
		AuthStyle:     app.Config.OAuthAuthStyle,
		DefaultExpiry: app.Config.OAuthDefaultExpiryDuration(),
	}, exchange.WithHTTPClient(app.HTTPClient), exchange.WithLogger(app.Logger))
	if err != nil {
		return err
	}

	app.Exchanger = ex
	app.Logger.Info("OAuth exchange: enabled",
		logging.String("token_url", app.Config.OAuthTokenURL),
		logging.String("grant_type", app.Config.OAuthGrantType))
	return nil
}
