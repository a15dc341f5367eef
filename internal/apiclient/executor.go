package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"token-relay/internal/common/errors"
	"token-relay/internal/common/logging"
)

type state int

const (
	stateAttempting state = iota
	stateAwaitingRefresh
	stateBackoff
	stateSuccess
	stateFailed
)

// Attempt outcomes, also used as metric labels
const (
	outcomeSuccess      = "success"
	outcomeUnauthorized = "unauthorized"
	outcomeThrottled    = "throttled"
	outcomeTerminal     = "terminal"
	outcomeTransport    = "transport_error"
)

// classify maps a status code to the next state.
//
//	2xx        -> success
//	401        -> awaiting refresh, retried without delay
//	429        -> backoff
//	503, other -> returned to the caller as an ordinary response
func classify(status int) (state, string) {
	switch {
	case status >= 200 && status < 300:
		return stateSuccess, outcomeSuccess
	case status == http.StatusUnauthorized:
		return stateAwaitingRefresh, outcomeUnauthorized
	case status == http.StatusTooManyRequests:
		return stateBackoff, outcomeThrottled
	default:
		return stateSuccess, outcomeTerminal
	}
}

// run drives one call through the attempt loop until it reaches success or failure.
func (c *Client) run(ctx context.Context, log logging.Logger, method, url string, payload []byte, id string, headers map[string]string) (*Response, error) {
	accessToken, err := c.tokens.GetAccessToken(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		resp    *Response
		lastErr error
		attempt int
	)

	st := stateAttempting
	for {
		switch st {
		case stateAttempting:
			if attempt >= c.maxAttempts {
				st = stateFailed
				continue
			}
			attempt++

			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					appErr := errors.RateLimitError(url)
					appErr.Cause = err
					return nil, appErr.WithContext("attempts", attempt)
				}
			}

			req, err := buildRequest(ctx, method, url, payload, headers, accessToken)
			if err != nil {
				return nil, err
			}

			var outcome string
			resp, err = c.send(req)
			if err != nil {
				outcome = outcomeTransport
				lastErr = errors.ConnectionError("request failed", err).
					WithContext("url", url).
					WithContext("attempts", attempt)
				if ctx.Err() != nil || attempt >= c.maxAttempts {
					c.metrics.ObserveAttempt(method, outcome)
					return nil, lastErr
				}
				log.Warn("Transport error, retrying",
					logging.Int("attempt", attempt),
					logging.Err(err))
				st = stateBackoff
			} else {
				resp.Attempts = attempt
				st, outcome = classify(resp.StatusCode)
				switch outcome {
				case outcomeUnauthorized:
					log.Warn("Unauthorized response, token may have expired", logging.Int("attempt", attempt))
					lastErr = statusError(resp, url, attempt)
				case outcomeThrottled:
					log.Warn("Rate limited by server", logging.Int("attempt", attempt))
					lastErr = statusError(resp, url, attempt)
				case outcomeTerminal:
					if resp.StatusCode == http.StatusServiceUnavailable {
						log.Warn("Service unavailable", logging.Int("attempt", attempt))
					}
				}
			}
			c.metrics.ObserveAttempt(method, outcome)

		case stateAwaitingRefresh:
			c.metrics.ObserveRetry(outcomeUnauthorized)
			refreshed, err := c.tokens.ForceRefreshingToken(ctx, id)
			if err != nil {
				return nil, err
			}
			accessToken = refreshed
			st = stateAttempting

		case stateBackoff:
			if attempt >= c.maxAttempts {
				st = stateFailed
				continue
			}
			c.metrics.ObserveRetry(string(errors.GetType(lastErr)))
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return nil, fmt.Errorf("retry cancelled: %w", err)
			}
			st = stateAttempting

		case stateSuccess:
			log.Debug("Request completed",
				logging.Int("status", resp.StatusCode),
				logging.Int("attempts", resp.Attempts))
			return resp, nil

		case stateFailed:
			return nil, errors.MaxRetriesError(attempt, lastErr).WithContext("url", url)
		}
	}
}

func statusError(resp *Response, url string, attempt int) error {
	var appErr *errors.AppError
	if resp.StatusCode == http.StatusTooManyRequests {
		appErr = errors.RateLimitError(url)
	} else {
		appErr = errors.ValidationError(fmt.Sprintf("HTTP %d: unauthorized", resp.StatusCode))
	}
	return appErr.WithCode(fmt.Sprintf("%d", resp.StatusCode)).WithContext("attempts", attempt)
}
