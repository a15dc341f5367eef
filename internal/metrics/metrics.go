// Package metrics provides Prometheus metrics for token resolution and request execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "token_relay"

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Token resolution sources.
const (
	SourceCache   = "cache"
	SourceStore   = "store"
	SourceRefresh = "refresh"
	SourceAcquire = "acquire"
)

// Metrics groups the collectors shared by the token manager and the API client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TokenResolutions *prometheus.CounterVec
	TokenExchanges   *prometheus.CounterVec
	RequestAttempts  *prometheus.CounterVec
	RequestRetries   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "resolutions_total",
				Help:      "Access tokens handed out, by the tier that produced them",
			},
			[]string{"source"},
		),
		TokenExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "exchanges_total",
				Help:      "Calls to the authorization server, by grant and result",
			},
			[]string{"grant", "result"},
		),
		RequestAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "attempts_total",
				Help:      "HTTP attempts issued by the API client, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RequestRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "retries_total",
				Help:      "Retries scheduled by the API client, by reason",
			},
			[]string{"reason"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Wall time of a Get/Post call including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.TokenResolutions,
			m.TokenExchanges,
			m.RequestAttempts,
			m.RequestRetries,
			m.RequestDuration,
		)
	}

	return m
}

// ObserveResolution counts a token handed out from source.
func (m *Metrics) ObserveResolution(source string) {
	if m == nil {
		return
	}
	m.TokenResolutions.WithLabelValues(source).Inc()
}

// ObserveExchange counts a refresh or acquire call against the authorization server.
func (m *Metrics) ObserveExchange(grant string, err error) {
	if m == nil {
		return
	}
	m.TokenExchanges.WithLabelValues(grant, result(err)).Inc()
}

// ObserveAttempt counts one HTTP attempt and its classified outcome.
func (m *Metrics) ObserveAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.RequestAttempts.WithLabelValues(method, outcome).Inc()
}

// ObserveRetry counts a retry scheduled for reason.
func (m *Metrics) ObserveRetry(reason string) {
	if m == nil {
		return
	}
	m.RequestRetries.WithLabelValues(reason).Inc()
}

// ObserveRequest records the duration of a whole call.
func (m *Metrics) ObserveRequest(method string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, result(err)).Observe(seconds)
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
