// Package token manages the lifecycle of OAuth access tokens: an in-memory cache,
// validity evaluation, refresh coordination and re-acquisition when no refresh
// credential is stored.
package token

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"token-relay/internal/circuitbreaker"
	"token-relay/internal/common/errors"
	"token-relay/internal/common/logging"
	"token-relay/internal/metrics"
)

const (
	grantRefresh = "refresh"
	grantAcquire = "acquire"

	// flightTimeout bounds a shared exchange once it no longer follows any caller's context
	flightTimeout = 2 * time.Minute
)

// Manager hands out valid access tokens per identifier.
//
// Resolution order for GetAccessToken:
//  1. a valid cache entry
//  2. a valid stored record, promoted into the cache
//  3. a stored record with a refresh credential: refresh, persist, cache
//  4. no refresh credential: full acquisition, persist, cache
//
// A failed refresh fails the call; it does not fall through to acquisition.
//
// Each Manager owns its cache. Refresh and acquisition for the same identifier
// are collapsed into a single exchange when callers race. The shared exchange
// runs detached from the callers' cancellation, and each caller stops waiting
// when its own context is done.
type Manager struct {
	// store persists records across restarts
	store Store
	// exchanger talks to the authorization server; nil until wired
	exchanger Exchanger
	// cache maps identifier -> *Record, no time-based eviction
	cache *gocache.Cache
	// group de-duplicates concurrent exchanges per identifier
	group singleflight.Group
	// breaker protects the authorization server from repeated failing exchanges
	breaker *circuitbreaker.GoBreakerAdapter
	// locker serializes exchanges across processes sharing the store; optional
	locker  Locker
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Locker serializes refreshes of one identifier across processes
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// Option configures a Manager
type Option func(*Manager)

// WithExchanger wires the OAuth exchange used for refresh and acquisition
func WithExchanger(e Exchanger) Option {
	return func(m *Manager) {
		m.exchanger = e
	}
}

// WithLogger sets the logger; defaults to the global logger
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithBreaker replaces the default circuit breaker around exchanges
func WithBreaker(b *circuitbreaker.GoBreakerAdapter) Option {
	return func(m *Manager) {
		m.breaker = b
	}
}

// WithLocker holds a distributed lock around each exchange
func WithLocker(l Locker) Option {
	return func(m *Manager) {
		m.locker = l
	}
}

// WithMetrics records token resolutions and exchanges
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock overrides the time source used for validity checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.ConfigError("token manager requires a credentials store")
	}

	m := &Manager{
		store: store,
		cache: gocache.New(gocache.NoExpiration, 0),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = logging.OrGlobal(m.logger).WithFields(logging.Field{Key: "component", Value: "token-manager"})
	if m.breaker == nil {
		m.breaker = circuitbreaker.NewGoBreaker("token-exchange", circuitbreaker.OAuthConfig, m.logger)
	}

	return m, nil
}

// GetAccessToken returns a valid access token for id.
// Any failure is reported as an acquisition error wrapping the cause.
func (m *Manager) GetAccessToken(ctx context.Context, id string) (string, error) {
	log := m.logger.WithContext(ctx).WithFields(logging.Field{Key: "id", Value: id})

	if rec, ok := m.cached(id); ok {
		m.metrics.ObserveResolution(metrics.SourceCache)
		return rec.AccessToken, nil
	}

	stored, err := m.store.GetCredentials(ctx, id)
	if err != nil {
		log.Error("Failed to load stored credentials", err)
		return "", errors.AcquisitionError("failed to load stored credentials", err).WithContext("id", id)
	}

	if stored.Valid(m.now()) {
		m.cache.Set(id, stored, gocache.NoExpiration)
		m.metrics.ObserveResolution(metrics.SourceStore)
		log.Debug("Promoted stored token into cache")
		return stored.AccessToken, nil
	}

	rec, shared, err := m.shared(ctx, id, func(ctx context.Context) (*Record, error) {
		// Another caller may have finished an exchange while this one read the store.
		if rec, ok := m.cached(id); ok {
			return rec, nil
		}
		return m.renew(ctx, id, stored)
	})
	if err != nil {
		log.Error("Failed to obtain access token", err)
		return "", errors.AcquisitionError("could not obtain a valid access token", err).WithContext("id", id)
	}

	if shared {
		log.Debug("Shared in-flight token exchange")
	}

	return rec.AccessToken, nil
}

// shared runs fn once per key among concurrent callers. fn gets a context that
// keeps ctx's values but not its cancellation; the caller returns ctx.Err() as
// soon as its own ctx is done while the exchange completes for the others.
func (m *Manager) shared(ctx context.Context, key string, fn func(context.Context) (*Record, error)) (*Record, bool, error) {
	ch := m.group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return fn(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*Record), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// renew runs tiers 3 and 4: refresh when a refresh credential is stored, acquire otherwise.
func (m *Manager) renew(ctx context.Context, id string, stored *Record) (*Record, error) {
	log := m.logger.WithContext(ctx).WithFields(logging.Field{Key: "id", Value: id})

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, id)
		if err != nil {
			return nil, err
		}
		defer unlock()

		// Another process may have renewed while this one waited for the lock.
		latest, err := m.store.GetCredentials(ctx, id)
		if err != nil {
			return nil, err
		}
		if latest.Valid(m.now()) {
			m.cache.Set(id, latest, gocache.NoExpiration)
			m.metrics.ObserveResolution(metrics.SourceStore)
			return latest, nil
		}
		stored = latest
	}

	if stored.HasRefreshToken() {
		refreshed, err := m.RefreshToken(ctx, id, stored)
		if err != nil {
			log.Warn("Token refresh failed", logging.Err(err))
			return nil, err
		}
		if err := m.install(ctx, id, refreshed); err != nil {
			return nil, err
		}
		m.metrics.ObserveResolution(metrics.SourceRefresh)
		log.Info("Refreshed access token")
		return refreshed, nil
	}

	acquired, err := m.obtainNewToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.install(ctx, id, acquired); err != nil {
		return nil, err
	}

	m.metrics.ObserveResolution(metrics.SourceAcquire)
	log.Info("Acquired new access token")
	return acquired, nil
}

// IsTokenValid reports whether the textual expiry is strictly in the future.
// Malformed input yields false.
func (m *Manager) IsTokenValid(expiry string) bool {
	return IsTokenValid(expiry, m.now())
}

// RefreshToken exchanges current's refresh credential for a new record.
//
// The result is neither persisted nor cached; callers outside the Manager must
// do both. Without a wired exchanger it returns a not-implemented error.
func (m *Manager) RefreshToken(ctx context.Context, id string, current *Record) (*Record, error) {
	if m.exchanger == nil {
		return nil, errors.NotImplementedError(grantRefresh)
	}
	return m.exchange(grantRefresh, func() (*Record, error) {
		return m.exchanger.Refresh(ctx, id, current)
	})
}

// ForceRefreshingToken refreshes id's stored record regardless of its local validity,
// persists and caches the result and returns the new access token.
//
// A missing record, a missing refresh credential and a failed refresh all surface
// as the same acquisition error.
func (m *Manager) ForceRefreshingToken(ctx context.Context, id string) (string, error) {
	log := m.logger.WithContext(ctx).WithFields(logging.Field{Key: "id", Value: id})

	rec, _, err := m.shared(ctx, "force:"+id, func(ctx context.Context) (*Record, error) {
		if m.locker != nil {
			unlock, err := m.locker.Lock(ctx, id)
			if err != nil {
				return nil, err
			}
			defer unlock()
		}

		stored, err := m.store.GetCredentials(ctx, id)
		if err != nil {
			return nil, err
		}
		if !stored.HasRefreshToken() {
			return nil, errors.NotFoundError("refresh credential")
		}

		refreshed, err := m.RefreshToken(ctx, id, stored)
		if err != nil {
			return nil, err
		}
		if err := m.install(ctx, id, refreshed); err != nil {
			return nil, err
		}
		return refreshed, nil
	})
	if err != nil {
		log.Error("Forced token refresh failed", err)
		return "", errors.AcquisitionError("forced token refresh failed", err).WithContext("id", id)
	}

	m.metrics.ObserveResolution(metrics.SourceRefresh)
	log.Info("Forced token refresh succeeded")
	return rec.AccessToken, nil
}

// GetTokenInRepository returns the stored record for id; store errors are returned unchanged.
func (m *Manager) GetTokenInRepository(ctx context.Context, id string) (*Record, error) {
	return m.store.GetCredentials(ctx, id)
}

// Invalidate drops id's cache entry. The stored record is untouched.
func (m *Manager) Invalidate(id string) {
	m.cache.Delete(id)
}

func (m *Manager) obtainNewToken(ctx context.Context, id string) (*Record, error) {
	if m.exchanger == nil {
		return nil, errors.NotImplementedError(grantAcquire)
	}
	return m.exchange(grantAcquire, func() (*Record, error) {
		return m.exchanger.Acquire(ctx, id)
	})
}

// exchange runs fn behind the circuit breaker and rejects empty results.
func (m *Manager) exchange(grant string, fn func() (*Record, error)) (*Record, error) {
	var rec *Record
	err := m.breaker.Execute(func() error {
		var err error
		rec, err = fn()
		if err != nil {
			return err
		}
		if rec == nil || rec.AccessToken == "" {
			return errors.ValidationError(grant + " returned no access token")
		}
		return nil
	})

	m.metrics.ObserveExchange(grant, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// install persists rec and makes it the cache entry for id.
func (m *Manager) install(ctx context.Context, id string, rec *Record) error {
	if err := m.store.SaveToken(ctx, id, rec); err != nil {
		return errors.InternalError("failed to persist token", err).WithContext("id", id)
	}
	m.cache.Set(id, rec, gocache.NoExpiration)
	return nil
}

// cached returns id's cache entry when it is still valid.
func (m *Manager) cached(id string) (*Record, bool) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false
	}
	rec, ok := v.(*Record)
	if !ok || !rec.Valid(m.now()) {
		return nil, false
	}
	return rec, true
}
