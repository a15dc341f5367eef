package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTokenValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	localNow := now.In(time.Local)

	tests := []struct {
		name   string
		expiry string
		want   bool
	}{
		{"future RFC3339", "2026-03-01T13:00:00Z", true},
		{"future with offset", "2026-03-01T14:00:00+01:00", true},
		{"future fractional seconds", "2026-03-01T12:00:00.5Z", true},
		{"past RFC3339", "2026-03-01T11:59:59Z", false},
		{"exactly now", "2026-03-01T12:00:00Z", false},
		{"future without zone", localNow.Add(time.Hour).Format("2006-01-02T15:04:05"), true},
		{"past without zone", localNow.Add(-time.Hour).Format("2006-01-02T15:04:05"), false},
		{"future space separated", localNow.Add(time.Hour).Format("2006-01-02 15:04:05"), true},
		{"surrounding whitespace", "  2026-03-01T13:00:00Z ", true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"garbage", "tomorrow", false},
		{"date only", "2026-03-02", false},
		{"unix seconds", "1772366400", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTokenValid(tt.expiry, now))
		})
	}
}

func TestRecord_Valid(t *testing.T) {
	now := time.Now()

	var nilRecord *Record
	assert.False(t, nilRecord.Valid(now))
	assert.False(t, (&Record{AccessToken: "a"}).Valid(now), "zero expiry is never valid")
	assert.False(t, (&Record{AccessToken: "a", Expiry: now}).Valid(now))
	assert.False(t, (&Record{AccessToken: "a", Expiry: now.Add(-time.Second)}).Valid(now))
	assert.True(t, (&Record{AccessToken: "a", Expiry: now.Add(time.Second)}).Valid(now))
}

func TestRecord_HasRefreshToken(t *testing.T) {
	var nilRecord *Record
	assert.False(t, nilRecord.HasRefreshToken())
	assert.False(t, (&Record{AccessToken: "a"}).HasRefreshToken())
	assert.True(t, (&Record{RefreshToken: "r"}).HasRefreshToken())
}

func TestFormatExpiry(t *testing.T) {
	assert.Equal(t, "", FormatExpiry(time.Time{}))

	ts := time.Date(2026, 3, 1, 13, 0, 0, 250000000, time.FixedZone("CET", 3600))
	formatted := FormatExpiry(ts)
	assert.Equal(t, "2026-03-01T12:00:00.25Z", formatted)

	parsed, ok := ParseExpiry(formatted)
	assert.True(t, ok)
	assert.True(t, parsed.Equal(ts))
}
