// Package apiclient executes authenticated GET and POST calls against third-party
// APIs, attaching bearer tokens from the token manager and classifying each
// response into a retry, refresh or terminate decision.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"token-relay/internal/common/errors"
	commonhttp "token-relay/internal/common/http"
	"token-relay/internal/common/logging"
	"token-relay/internal/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second

	// RawContentKey holds the body text of responses that are not JSON
	RawContentKey = "raw_content"
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenProvider hands out access tokens. *token.Manager satisfies it.
type TokenProvider interface {
	GetAccessToken(ctx context.Context, id string) (string, error)
	ForceRefreshingToken(ctx context.Context, id string) (string, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Response is the outcome of a call that did not fail.
type Response struct {
	StatusCode int
	// Body is the decoded JSON payload, or {"raw_content": text} for anything else
	Body     interface{}
	RawBody  []byte
	Headers  http.Header
	Attempts int
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client runs the attempt loop. Safe for concurrent use.
type Client struct {
	doer        Doer
	tokens      TokenProvider
	maxAttempts int
	retryDelay  time.Duration
	sleep       Sleeper
	limiter     *rate.Limiter
	logger      logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithDoer sets the HTTP transport
func WithDoer(d Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

// WithMaxAttempts sets the attempt budget per call
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithRetryDelay sets the wait before retrying a 429 or a transport failure
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithSleeper replaces the context-aware timer wait
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// WithRateLimiter throttles attempts client-side
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records attempts, retries and call durations
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a Client around a token provider
func NewClient(tokens TokenProvider, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.ConfigError("token provider is required")
	}

	c := &Client{
		tokens:      tokens,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxAttempts < 1 {
		return nil, errors.ConfigError(fmt.Sprintf("max attempts must be at least 1, got %d", c.maxAttempts))
	}
	if c.retryDelay < 0 {
		return nil, errors.ConfigError("retry delay must not be negative")
	}
	c.logger = logging.OrGlobal(c.logger).WithFields(logging.Field{Key: "component", Value: "api-client"})
	if c.doer == nil {
		c.doer = commonhttp.NewHTTPClient(commonhttp.WithLogger(c.logger))
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}

	return c, nil
}

// Get issues an authenticated GET for id
func (c *Client) Get(ctx context.Context, url, id string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, id, headers)
}

// Post issues an authenticated POST for id. body is sent as-is when it is a
// []byte, a string or a json.RawMessage, and JSON-encoded otherwise; nil sends no body.
func (c *Client) Post(ctx context.Context, url string, body interface{}, id string, headers map[string]string) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, url, payload, id, headers)
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, id string, headers map[string]string) (*Response, error) {
	ctx = context.WithValue(ctx, logging.RequestIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, logging.IdentifierKey, id)
	log := c.logger.WithContext(ctx).WithFields(
		logging.String("method", method),
		logging.String("url", url))

	start := time.Now()
	resp, err := c.run(ctx, log, method, url, payload, id, headers)
	c.metrics.ObserveRequest(method, time.Since(start).Seconds(), err)

	if err != nil {
		log.Error("Request failed", err, logging.String("error_type", string(errors.GetType(err))))
		return nil, err
	}
	return resp, nil
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			appErr := errors.ValidationError("request body is not JSON-encodable")
			appErr.Cause = err
			return nil, appErr
		}
		return data, nil
	}
}

// buildRequest applies headers in precedence order: defaults, caller headers,
// then Authorization, which callers cannot override.
func buildRequest(ctx context.Context, method, url string, payload []byte, headers map[string]string, accessToken string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		appErr := errors.ValidationError("invalid request")
		appErr.Cause = err
		return nil, appErr.WithContext("url", url)
	}

	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return req, nil
}

// send performs one attempt and reads the whole body.
func (c *Client) send(req *http.Request) (*Response, error) {
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       decodeBody(raw),
		RawBody:    raw,
		Headers:    resp.Header,
	}, nil
}

// decodeBody returns the JSON value in raw, or {"raw_content": text} when raw is
// empty or not JSON.
func decodeBody(raw []byte) interface{} {
	var v interface{}
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &v) == nil {
		return v
	}
	return map[string]interface{}{RawContentKey: string(raw)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
