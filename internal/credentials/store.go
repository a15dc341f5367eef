// Package credentials persists token records with their sensitive fields sealed
// by the encryption envelope.
//
// Three backends are provided:
//   - MemoryStore: process-local, for tests and single-shot CLI use
//   - RedisStore: shared across instances (go-redis)
//   - SQLStore: SQLite (mattn/go-sqlite3) or PostgreSQL (pgx stdlib)
//
// Every backend stores the access and refresh credentials as base64 envelopes
// and the expiry as RFC 3339 text.
package credentials

import (
	"context"
	"time"

	"token-relay/internal/common/errors"
	"token-relay/internal/crypto"
	"token-relay/internal/token"
)

// Store is the persistence contract the token manager depends on, plus the
// housekeeping operations the CLI and the app factory need.
//
// GetCredentials returns (nil, nil) when nothing is stored for id.
type Store interface {
	token.Store
	// DeleteToken removes id's record; deleting a missing record is not an error
	DeleteToken(ctx context.Context, id string) error
	// Close releases the backend's connections
	Close() error
}

// Sealer routes credential fields through the encryption envelope.
type Sealer struct {
	envelope *crypto.Envelope
}

// NewSealer creates a Sealer around env
func NewSealer(env *crypto.Envelope) (*Sealer, error) {
	if env == nil {
		return nil, errors.ConfigError("sealer requires an encryption envelope")
	}
	return &Sealer{envelope: env}, nil
}

// SealField encrypts a single field and encodes it as base64 text
func (s *Sealer) SealField(plaintext string) (string, error) {
	return s.envelope.EncryptString(plaintext)
}

// OpenField decodes and decrypts a field sealed by SealField
func (s *Sealer) OpenField(sealed string) (string, error) {
	return s.envelope.DecryptString(sealed)
}

// row is the at-rest representation shared by all backends.
type row struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    string `json:"expires_at"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

func (s *Sealer) seal(rec *token.Record, now time.Time) (row, error) {
	if rec == nil {
		return row{}, errors.ValidationError("token record is required")
	}

	access, err := s.SealField(rec.AccessToken)
	if err != nil {
		return row{}, err
	}

	refresh, err := s.SealField(rec.RefreshToken)
	if err != nil {
		return row{}, err
	}

	return row{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    token.FormatExpiry(rec.Expiry),
		UpdatedAt:    now.UTC().Format(time.RFC3339),
	}, nil
}

// open reverses seal. An unparseable expiry yields a zero Expiry, which is never valid.
func (s *Sealer) open(r row) (*token.Record, error) {
	access, err := s.OpenField(r.AccessToken)
	if err != nil {
		return nil, err
	}

	refresh, err := s.OpenField(r.RefreshToken)
	if err != nil {
		return nil, err
	}

	expiry, _ := token.ParseExpiry(r.ExpiresAt)

	return &token.Record{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       expiry,
	}, nil
}
