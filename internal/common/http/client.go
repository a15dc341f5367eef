// Package http builds the outbound *http.Client used for API calls and token
// endpoint exchanges.
package http

import (
	"crypto/tls"
	"net/http"
	"time"

	"token-relay/internal/common/logging"
)

// DefaultUserAgent is sent when the caller sets no User-Agent header
const DefaultUserAgent = "token-relay/1.0"

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	InsecureSkipVerify  bool
	UserAgent           string
	Transport           http.RoundTripper
	// Logger receives one debug line per round trip; nil disables it
	Logger logging.Logger
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           DefaultUserAgent,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithMaxIdleConnsPerHost sets the maximum number of idle connections per host
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConnsPerHost = max
	}
}

// WithTransport sets a custom base transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// WithInsecureSkipVerify disables SSL certificate verification
func WithInsecureSkipVerify() ClientOption {
	return func(c *ClientConfig) {
		c.InsecureSkipVerify = true
	}
}

// WithUserAgent overrides the default User-Agent
func WithUserAgent(ua string) ClientOption {
	return func(c *ClientConfig) {
		c.UserAgent = ua
	}
}

// WithLogger enables per round trip debug logging
func WithLogger(l logging.Logger) ClientOption {
	return func(c *ClientConfig) {
		c.Logger = l
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	transport := cfg.Transport
	if transport == nil {
		httpTransport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
		if cfg.InsecureSkipVerify {
			httpTransport.TLSClientConfig = &tls.Config{
				InsecureSkipVerify: true,
			}
		}
		transport = httpTransport
	}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &decoratedTransport{
			base:      transport,
			userAgent: cfg.UserAgent,
			logger:    cfg.Logger,
		},
	}
}

// decoratedTransport stamps the User-Agent and logs each round trip.
type decoratedTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    logging.Logger
}

func (t *decoratedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		// RoundTrippers must not mutate the caller's request
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	if t.logger != nil {
		fields := []logging.Field{
			logging.String("method", req.Method),
			logging.String("host", req.URL.Host),
			logging.Any("duration", time.Since(start)),
		}
		log := t.logger.WithContext(req.Context())
		if err != nil {
			log.Debug("HTTP round trip failed", append(fields, logging.Err(err))...)
		} else {
			log.Debug("HTTP round trip", append(fields, logging.Int("status", resp.StatusCode))...)
		}
	}

	return resp, err
}
