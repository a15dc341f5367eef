package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveResolution(t *testing.T) {
	m := New(nil)

	m.ObserveResolution(SourceCache)
	m.ObserveResolution(SourceCache)
	m.ObserveResolution(SourceRefresh)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokenResolutions.WithLabelValues(SourceCache)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenResolutions.WithLabelValues(SourceRefresh)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TokenResolutions.WithLabelValues(SourceStore)))
}

func TestObserveExchange(t *testing.T) {
	m := New(nil)

	m.ObserveExchange("refresh", nil)
	m.ObserveExchange("refresh", errors.New("invalid_grant"))
	m.ObserveExchange("acquire", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenExchanges.WithLabelValues("refresh", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenExchanges.WithLabelValues("refresh", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenExchanges.WithLabelValues("acquire", ResultSuccess)))
}

func TestObserveAttemptAndRetry(t *testing.T) {
	m := New(nil)

	m.ObserveAttempt("GET", "unauthorized")
	m.ObserveAttempt("GET", "success")
	m.ObserveRetry("rate_limited")
	m.ObserveRetry("rate_limited")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestAttempts.WithLabelValues("GET", "unauthorized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestAttempts.WithLabelValues("GET", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestRetries.WithLabelValues("rate_limited")))
}

func TestObserveRequest(t *testing.T) {
	m := New(nil)

	m.ObserveRequest("POST", 0.25, nil)
	m.ObserveRequest("POST", 1.5, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestDuration))
}

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveResolution(SourceStore)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "token_relay_token_resolutions_total")

	assert.Panics(t, func() { New(reg) }, "registering twice should panic")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveResolution(SourceCache)
		m.ObserveExchange("refresh", nil)
		m.ObserveAttempt("GET", "success")
		m.ObserveRetry("transport")
		m.ObserveRequest("GET", 1, nil)
	})
}
