// Package exchange provides a token.Exchanger backed by golang.org/x/oauth2.
//
// Acquisition uses the client_credentials grant (or the resource-owner password
// grant when a username is configured); renewal uses the refresh_token grant.
package exchange

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"token-relay/internal/common/errors"
	commonhttp "token-relay/internal/common/http"
	"token-relay/internal/common/logging"
	"token-relay/internal/token"
)

const (
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
)

// Config holds the authorization server settings shared by every identifier.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// GrantType is client_credentials (default) or password
	GrantType string
	Username  string
	Password  string
	// AuthStyle is "header", "params" or empty for auto-detection
	AuthStyle string
	// DefaultExpiry applies when the server omits expires_in. Zero keeps the
	// record expiry unset, which forces an exchange on the next lookup.
	DefaultExpiry time.Duration
}

// Validate checks that the exchanger can be built
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return errors.ConfigError("oauth token URL is required")
	}
	if c.ClientID == "" {
		return errors.ConfigError("oauth client ID is required")
	}

	switch c.GrantType {
	case "", GrantClientCredentials:
	case GrantPassword:
		if c.Username == "" {
			return errors.ConfigError("password grant requires a username")
		}
	default:
		return errors.ConfigError(fmt.Sprintf("unsupported grant type: %s", c.GrantType))
	}

	switch c.AuthStyle {
	case "", "header", "params":
	default:
		return errors.ConfigError(fmt.Sprintf("unsupported auth style: %s", c.AuthStyle))
	}
	return nil
}

func (c *Config) authStyle() oauth2.AuthStyle {
	switch c.AuthStyle {
	case "header":
		return oauth2.AuthStyleInHeader
	case "params":
		return oauth2.AuthStyleInParams
	default:
		return oauth2.AuthStyleAutoDetect
	}
}

// OAuthExchanger talks to a single OAuth 2.0 token endpoint.
type OAuthExchanger struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
	now        func() time.Time
}

// Option configures an OAuthExchanger
type Option func(*OAuthExchanger)

// WithHTTPClient sets the client used for token endpoint calls
func WithHTTPClient(c *http.Client) Option {
	return func(e *OAuthExchanger) {
		e.httpClient = c
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(e *OAuthExchanger) {
		e.logger = l
	}
}

// WithClock overrides the time source used for DefaultExpiry
func WithClock(now func() time.Time) Option {
	return func(e *OAuthExchanger) {
		e.now = now
	}
}

// NewOAuthExchanger validates config and builds an exchanger
func NewOAuthExchanger(config Config, opts ...Option) (*OAuthExchanger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.GrantType == "" {
		config.GrantType = GrantClientCredentials
	}

	e := &OAuthExchanger{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrGlobal(e.logger).WithFields(logging.Field{Key: "component", Value: "oauth-exchanger"})
	if e.httpClient == nil {
		e.httpClient = commonhttp.NewHTTPClient(commonhttp.WithLogger(e.logger))
	}

	return e, nil
}

// Acquire obtains a brand-new token without a refresh credential.
func (e *OAuthExchanger) Acquire(ctx context.Context, id string) (*token.Record, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	var (
		tok *oauth2.Token
		err error
	)
	switch e.config.GrantType {
	case GrantPassword:
		tok, err = e.oauthConfig().PasswordCredentialsToken(ctx, e.config.Username, e.config.Password)
	default:
		cc := &clientcredentials.Config{
			ClientID:     e.config.ClientID,
			ClientSecret: e.config.ClientSecret,
			TokenURL:     e.config.TokenURL,
			Scopes:       e.config.Scopes,
			AuthStyle:    e.config.authStyle(),
		}
		tok, err = cc.Token(ctx)
	}
	if err != nil {
		return nil, e.classify("acquire", id, err)
	}

	e.logger.Debug("Token acquired",
		logging.String("identifier", id),
		logging.String("grant_type", e.config.GrantType))

	return e.toRecord(tok), nil
}

// Refresh exchanges current's refresh credential for a new token. Servers that
// do not rotate refresh credentials keep the previous one.
func (e *OAuthExchanger) Refresh(ctx context.Context, id string, current *token.Record) (*token.Record, error) {
	if !current.HasRefreshToken() {
		return nil, errors.ValidationError("refresh token is required").WithContext("id", id)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	// An expired seed forces the token source to hit the endpoint.
	seed := &oauth2.Token{
		RefreshToken: current.RefreshToken,
		Expiry:       time.Unix(1, 0),
	}
	tok, err := e.oauthConfig().TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, e.classify("refresh", id, err)
	}

	e.logger.Debug("Token refreshed", logging.String("identifier", id))

	rec := e.toRecord(tok)
	if rec.RefreshToken == "" {
		rec.RefreshToken = current.RefreshToken
	}
	return rec, nil
}

func (e *OAuthExchanger) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     e.config.ClientID,
		ClientSecret: e.config.ClientSecret,
		Scopes:       e.config.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  e.config.TokenURL,
			AuthStyle: e.config.authStyle(),
		},
	}
}

func (e *OAuthExchanger) toRecord(tok *oauth2.Token) *token.Record {
	expiry := tok.Expiry
	if expiry.IsZero() && e.config.DefaultExpiry > 0 {
		expiry = e.now().Add(e.config.DefaultExpiry)
	}
	return &token.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
	}
}

// classify maps token endpoint failures: a server that answered with a 4xx
// rejected the credentials (validation), anything else is a connection problem.
func (e *OAuthExchanger) classify(op, id string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		e.logger.Warn("Token endpoint rejected request",
			logging.String("identifier", id),
			logging.String("operation", op),
			logging.Int("status", status),
			logging.String("oauth_error", retrieveErr.ErrorCode))

		if status >= 400 && status < 500 {
			appErr := errors.ValidationError(describe(retrieveErr))
			appErr.Cause = err
			return appErr.WithContext("id", id).WithContext("operation", op)
		}
		return errors.ConnectionError(fmt.Sprintf("token endpoint returned status %d", status), err).
			WithContext("id", id).WithContext("operation", op)
	}

	e.logger.Warn("Token endpoint call failed",
		logging.String("identifier", id),
		logging.String("operation", op),
		logging.Err(err))
	return errors.ConnectionError("token endpoint call failed", err).
		WithContext("id", id).WithContext("operation", op)
}

func describe(err *oauth2.RetrieveError) string {
	parts := []string{"token request rejected"}
	if err.ErrorCode != "" {
		parts = append(parts, err.ErrorCode)
	}
	if err.ErrorDescription != "" {
		parts = append(parts, err.ErrorDescription)
	}
	return strings.Join(parts, ": ")
}
