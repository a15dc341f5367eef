package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-relay/internal/common/errors"
	commonhttp "token-relay/internal/common/http"
	"token-relay/internal/common/logging"
	"token-relay/internal/token"
)

type tokenServer struct {
	*httptest.Server
	calls    atomic.Int32
	lastForm atomic.Value
}

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		assert.NoError(t, r.ParseForm())
		ts.lastForm.Store(r.PostForm)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) form() url.Values {
	v, _ := ts.lastForm.Load().(url.Values)
	return v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func newTestExchanger(t *testing.T, tokenURL string, mutate func(*Config)) *OAuthExchanger {
	t.Helper()
	cfg := Config{
		TokenURL:     tokenURL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Scopes:       []string{"read", "write"},
		AuthStyle:    "params",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ex, err := NewOAuthExchanger(cfg, WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	return ex
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"client credentials", Config{TokenURL: "http://x/token", ClientID: "c"}, false},
		{"password grant", Config{TokenURL: "http://x/token", ClientID: "c", GrantType: GrantPassword, Username: "u"}, false},
		{"missing token url", Config{ClientID: "c"}, true},
		{"missing client id", Config{TokenURL: "http://x/token"}, true},
		{"password grant without username", Config{TokenURL: "http://x/token", ClientID: "c", GrantType: GrantPassword}, true},
		{"unknown grant", Config{TokenURL: "http://x/token", ClientID: "c", GrantType: "implicit"}, true},
		{"unknown auth style", Config{TokenURL: "http://x/token", ClientID: "c", AuthStyle: "cookie"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOAuthExchanger_AcquireClientCredentials(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "acquired",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	ex := newTestExchanger(t, ts.URL, nil)

	before := time.Now()
	rec, err := ex.Acquire(context.Background(), "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, "acquired", rec.AccessToken)
	assert.Empty(t, rec.RefreshToken)
	assert.True(t, rec.Expiry.After(before.Add(59*time.Minute)))

	form := ts.form()
	assert.Equal(t, []string{"client_credentials"}, form["grant_type"])
	assert.Equal(t, []string{"client-1"}, form["client_id"])
	assert.Equal(t, []string{"secret-1"}, form["client_secret"])
	assert.Equal(t, []string{"read write"}, form["scope"])
}

func TestOAuthExchanger_DefaultHTTPClient(t *testing.T) {
	var userAgent atomic.Value
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "acquired",
			"token_type":   "bearer",
			"expires_in":   60,
		})
	})

	ex := newTestExchanger(t, ts.URL, nil)
	_, err := ex.Acquire(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, commonhttp.DefaultUserAgent, userAgent.Load())
}

func TestOAuthExchanger_AcquirePassword(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "user-token",
			"refresh_token": "user-refresh",
			"token_type":    "bearer",
			"expires_in":    60,
		})
	})
	ex := newTestExchanger(t, ts.URL, func(c *Config) {
		c.GrantType = GrantPassword
		c.Username = "alice"
		c.Password = "pw"
	})

	rec, err := ex.Acquire(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "user-token", rec.AccessToken)
	assert.Equal(t, "user-refresh", rec.RefreshToken)

	form := ts.form()
	assert.Equal(t, []string{"password"}, form["grant_type"])
	assert.Equal(t, []string{"alice"}, form["username"])
	assert.Equal(t, []string{"pw"}, form["password"])
}

func TestOAuthExchanger_Refresh(t *testing.T) {
	t.Run("rotated refresh credential", func(t *testing.T) {
		ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token":  "renewed",
				"refresh_token": "rotated",
				"token_type":    "bearer",
				"expires_in":    120,
			})
		})
		ex := newTestExchanger(t, ts.URL, nil)

		rec, err := ex.Refresh(context.Background(), "tenant-a", &token.Record{AccessToken: "old", RefreshToken: "r-1"})
		require.NoError(t, err)
		assert.Equal(t, "renewed", rec.AccessToken)
		assert.Equal(t, "rotated", rec.RefreshToken)

		form := ts.form()
		assert.Equal(t, []string{"refresh_token"}, form["grant_type"])
		assert.Equal(t, []string{"r-1"}, form["refresh_token"])
		assert.Equal(t, int32(1), ts.calls.Load())
	})

	t.Run("refresh credential kept when not rotated", func(t *testing.T) {
		ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": "renewed",
				"token_type":   "bearer",
				"expires_in":   120,
			})
		})
		ex := newTestExchanger(t, ts.URL, nil)

		rec, err := ex.Refresh(context.Background(), "tenant-a", &token.Record{RefreshToken: "r-1"})
		require.NoError(t, err)
		assert.Equal(t, "r-1", rec.RefreshToken)
	})

	t.Run("missing refresh credential", func(t *testing.T) {
		ex := newTestExchanger(t, "http://127.0.0.1:0/token", nil)

		_, err := ex.Refresh(context.Background(), "tenant-a", &token.Record{AccessToken: "old"})
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

		_, err = ex.Refresh(context.Background(), "tenant-a", nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})
}

func TestOAuthExchanger_DefaultExpiry(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "no-expiry",
			"token_type":   "bearer",
		})
	})

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unset", func(t *testing.T) {
		ex := newTestExchanger(t, ts.URL, nil)
		rec, err := ex.Acquire(context.Background(), "tenant-a")
		require.NoError(t, err)
		assert.True(t, rec.Expiry.IsZero())
	})

	t.Run("applied", func(t *testing.T) {
		ex, err := NewOAuthExchanger(Config{
			TokenURL:      ts.URL,
			ClientID:      "client-1",
			AuthStyle:     "params",
			DefaultExpiry: 10 * time.Minute,
		}, WithClock(func() time.Time { return fixed }), WithLogger(logging.NewNopLogger()))
		require.NoError(t, err)

		rec, err := ex.Acquire(context.Background(), "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, fixed.Add(10*time.Minute), rec.Expiry)
	})
}

func TestOAuthExchanger_Errors(t *testing.T) {
	t.Run("rejected credentials are validation errors", func(t *testing.T) {
		ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_client",
				"error_description": "unknown client",
			})
		})
		ex := newTestExchanger(t, ts.URL, nil)

		_, err := ex.Acquire(context.Background(), "tenant-a")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		assert.Contains(t, err.Error(), "invalid_client")
	})

	t.Run("server errors are connection errors", func(t *testing.T) {
		ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		})
		ex := newTestExchanger(t, ts.URL, nil)

		_, err := ex.Refresh(context.Background(), "tenant-a", &token.Record{RefreshToken: "r-1"})
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		endpoint := ts.URL
		ts.Close()

		ex := newTestExchanger(t, endpoint, nil)
		_, err := ex.Acquire(context.Background(), "tenant-a")
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})
}
