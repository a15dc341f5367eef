// Package crypto provides the AES-256-GCM envelope used to protect access and
// refresh credentials at rest.
//
// An envelope is laid out as
//
//	nonce (12 bytes) || tag (16 bytes) || ciphertext (N bytes)
//
// The layout is fixed so previously written rows stay readable. Each Encrypt call
// draws a fresh random nonce, so encrypting the same plaintext twice produces
// different envelopes.
//
// Example usage:
//
//	env, err := crypto.NewEnvelopeFromBase64(os.Getenv("ENCRYPTION_KEY"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sealed, err := env.EncryptString("access-token")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	plain, err := env.DecryptString(sealed)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"token-relay/internal/common/errors"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes
	TagSize = 16
	// MinEnvelopeSize is the length of an envelope with an empty ciphertext
	MinEnvelopeSize = NonceSize + TagSize

	passphraseSalt       = "token-relay-salt"
	passphraseIterations = 10000
)

// Envelope encrypts and decrypts credential fields with AES-256-GCM.
//
// The envelope holds only its key and is safe for concurrent use by multiple goroutines.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope creates an Envelope from raw key material, which must be exactly 32 bytes.
func NewEnvelope(key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, errors.ConfigError(fmt.Sprintf("encryption key must be %d bytes, got %d", KeySize, len(key)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}

	return &Envelope{aead: aead}, nil
}

// NewEnvelopeFromBase64 creates an Envelope from a base64-encoded 32-byte key,
// the form operators put in ENCRYPTION_KEY.
func NewEnvelopeFromBase64(encoded string) (*Envelope, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.ConfigError("encryption key is required")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		appErr := errors.ConfigError("encryption key is not valid base64")
		appErr.Cause = err
		return nil, appErr
	}

	return NewEnvelope(key)
}

// NewEnvelopeFromPassphrase derives a 32-byte key from a passphrase with
// PBKDF2-SHA256 and creates an Envelope from it.
//
// The salt is static so the same passphrase always opens the same rows.
func NewEnvelopeFromPassphrase(passphrase string) (*Envelope, error) {
	if passphrase == "" {
		return nil, errors.ConfigError("encryption passphrase cannot be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(passphraseSalt), passphraseIterations, KeySize, sha256.New)
	return NewEnvelope(key)
}

// Encrypt seals plaintext into a nonce || tag || ciphertext envelope.
//
// An empty plaintext yields an empty envelope.
func (e *Envelope) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return []byte{}, nil
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.InternalError("failed to create nonce", err)
	}

	// Seal appends the tag after the ciphertext; the stored layout puts it first.
	sealed := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ctLen := len(sealed) - TagSize

	out := make([]byte, 0, MinEnvelopeSize+ctLen)
	out = append(out, nonce...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)
	return out, nil
}

// Decrypt opens an envelope produced by Encrypt.
//
// Decryption fails closed: a truncated envelope, a modified byte anywhere in it,
// or the wrong key all return a decryption error and no plaintext.
func (e *Envelope) Decrypt(envelope []byte) (string, error) {
	if len(envelope) == 0 {
		return "", nil
	}

	if len(envelope) < MinEnvelopeSize {
		return "", errors.DecryptionError(
			fmt.Sprintf("envelope too short: %d bytes, need at least %d", len(envelope), MinEnvelopeSize), nil)
	}

	nonce := envelope[:NonceSize]
	tag := envelope[NonceSize:MinEnvelopeSize]
	ciphertext := envelope[MinEnvelopeSize:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.DecryptionError("envelope authentication failed", err)
	}

	return string(plaintext), nil
}

// EncryptString seals plaintext and returns the envelope as standard base64 text.
func (e *Envelope) EncryptString(plaintext string) (string, error) {
	envelope, err := e.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecryptString opens a base64 envelope produced by EncryptString.
func (e *Envelope) DecryptString(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	envelope, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.DecryptionError("envelope is not valid base64", err)
	}

	return e.Decrypt(envelope)
}
