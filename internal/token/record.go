package token

import (
	"context"
	"strings"
	"time"
)

// Record is an access credential together with its optional refresh credential and expiry.
// Records are replaced, never mutated, when a refresh or re-acquisition succeeds.
type Record struct {
	// AccessToken is the bearer credential attached to API requests
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain a new access token without full re-acquisition (optional)
	RefreshToken string `json:"refresh_token,omitempty"`
	// Expiry is the instant after which AccessToken must not be used
	Expiry time.Time `json:"expires_at"`
}

// Valid reports whether the record's expiry is strictly after now.
// A nil record or a zero expiry is never valid.
func (r *Record) Valid(now time.Time) bool {
	if r == nil || r.Expiry.IsZero() {
		return false
	}
	return r.Expiry.After(now)
}

// HasRefreshToken reports whether the record carries a refresh credential
func (r *Record) HasRefreshToken() bool {
	return r != nil && r.RefreshToken != ""
}

// Store persists token records by identifier.
//
// GetCredentials returns (nil, nil) when nothing is stored for id.
type Store interface {
	GetCredentials(ctx context.Context, id string) (*Record, error)
	SaveToken(ctx context.Context, id string, record *Record) error
}

// Exchanger performs the OAuth exchanges with the authorization server.
// The Manager ships without one; integrators wire their provider in.
type Exchanger interface {
	// Refresh trades the current record's refresh credential for a new record
	Refresh(ctx context.Context, id string, current *Record) (*Record, error)
	// Acquire performs a full acquisition for id
	Acquire(ctx context.Context, id string) (*Record, error)
}

// zoneless layouts are interpreted in the local time zone.
var expiryLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02 15:04:05.999999999Z07:00", true},
	{"2006-01-02 15:04:05.999999999", false},
}

// ParseExpiry parses the textual expiry forms stores and providers emit:
// RFC 3339 with or without fractional seconds, RFC 3339 without a zone, and
// "2006-01-02 15:04:05". The boolean is false for anything else.
func ParseExpiry(expiry string) (time.Time, bool) {
	expiry = strings.TrimSpace(expiry)
	if expiry == "" {
		return time.Time{}, false
	}

	for _, l := range expiryLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, expiry)
		} else {
			t, err = time.ParseInLocation(l.layout, expiry, time.Local)
		}
		if err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// FormatExpiry renders an expiry the way stores persist it.
// The zero time formats as the empty string.
func FormatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// IsTokenValid reports whether the textual expiry is strictly after now.
// Empty or unparseable input yields false.
func IsTokenValid(expiry string, now time.Time) bool {
	t, ok := ParseExpiry(expiry)
	if !ok || t.IsZero() {
		return false
	}
	return t.After(now)
}
