// Package config loads token-relay settings from environment variables with
// sensible defaults and validates them before anything is constructed.
//
// Environment Variables:
//
// Logging:
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: "console" or "json" (default: console)
//
// Encryption (one of the two is required):
//   - ENCRYPTION_KEY: base64-encoded 32-byte AES-256 key
//   - ENCRYPTION_PASSPHRASE: passphrase stretched with PBKDF2 when no key is given
//
// Request execution:
//   - MAX_RETRIES: attempts per call (default: 3)
//   - RETRY_DELAY: wait before retrying a 429 or transport error (default: 1s)
//   - HTTP_TIMEOUT: per-attempt HTTP timeout (default: 30s)
//   - RATE_LIMIT_RPS: client-side requests per second, 0 disables (default: 0)
//   - RATE_LIMIT_BURST: limiter burst (default: 1)
//
// Credential store:
//   - STORE_TYPE: memory, redis, sqlite or postgres (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./token_relay.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//   - REDIS_LOCKS: serialize token exchanges across processes with Redis locks (default: false)
//   - LOCK_EXPIRY: lifetime of an exchange lock (default: 30s)
//
// OAuth exchange (optional, enabled by OAUTH_TOKEN_URL):
//   - OAUTH_TOKEN_URL, OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET
//   - OAUTH_SCOPES: comma or space separated scopes
//   - OAUTH_GRANT_TYPE: client_credentials or password (default: client_credentials)
//   - OAUTH_USERNAME, OAUTH_PASSWORD: resource owner credentials for the password grant
//   - OAUTH_AUTH_STYLE: header, params or empty for auto-detection
//   - OAUTH_DEFAULT_EXPIRY: lifetime assumed when the server omits expires_in
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"token-relay/internal/common/errors"
)

// Store types
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all configuration values. String fields mirror their environment
// variables; the typed accessors parse them and assume Validate succeeded.
type Config struct {
	LogLevel  string
	LogFormat string

	EncryptionKey        string
	EncryptionPassphrase string

	MaxRetries     string
	RetryDelay     string
	HTTPTimeout    string
	RateLimitRPS   string
	RateLimitBurst string

	StoreType    string
	DatabasePath string

	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string
	RedisLocks    bool
	LockExpiry    string

	OAuthTokenURL      string
	OAuthClientID      string
	OAuthClientSecret  string
	OAuthScopes        string
	OAuthGrantType     string
	OAuthUsername      string
	OAuthPassword      string
	OAuthAuthStyle     string
	OAuthDefaultExpiry string
}

// Load creates a Config from environment variables. It does not validate.
func Load() *Config {
	return &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		EncryptionPassphrase: getEnv("ENCRYPTION_PASSPHRASE", ""),

		MaxRetries:     getEnv("MAX_RETRIES", "3"),
		RetryDelay:     getEnv("RETRY_DELAY", "1s"),
		HTTPTimeout:    getEnv("HTTP_TIMEOUT", "30s"),
		RateLimitRPS:   getEnv("RATE_LIMIT_RPS", "0"),
		RateLimitBurst: getEnv("RATE_LIMIT_BURST", "1"),

		StoreType:    strings.ToLower(getEnv("STORE_TYPE", StoreSQLite)),
		DatabasePath: getEnv("DATABASE_PATH", "./token_relay.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "token_relay"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),
		RedisLocks:    getBoolEnv("REDIS_LOCKS", false),
		LockExpiry:    getEnv("LOCK_EXPIRY", "30s"),

		OAuthTokenURL:      getEnv("OAUTH_TOKEN_URL", ""),
		OAuthClientID:      getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret:  getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthScopes:        getEnv("OAUTH_SCOPES", ""),
		OAuthGrantType:     getEnv("OAUTH_GRANT_TYPE", "client_credentials"),
		OAuthUsername:      getEnv("OAUTH_USERNAME", ""),
		OAuthPassword:      getEnv("OAUTH_PASSWORD", ""),
		OAuthAuthStyle:     getEnv("OAUTH_AUTH_STYLE", ""),
		OAuthDefaultExpiry: getEnv("OAUTH_DEFAULT_EXPIRY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field dependencies.
// Every failure is a config AppError naming the offending variable.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" && c.EncryptionPassphrase == "" {
		return errors.ConfigError("ENCRYPTION_KEY or ENCRYPTION_PASSPHRASE is required")
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.ConfigError("LOG_FORMAT must be 'console' or 'json'")
	}

	if n, err := strconv.Atoi(c.MaxRetries); err != nil || n < 1 {
		return errors.ConfigError("MAX_RETRIES must be a positive number")
	}
	if d, err := time.ParseDuration(c.RetryDelay); err != nil || d < 0 {
		return errors.ConfigError("RETRY_DELAY must be a non-negative duration (e.g. '1s', '500ms')")
	}
	if d, err := time.ParseDuration(c.HTTPTimeout); err != nil || d <= 0 {
		return errors.ConfigError("HTTP_TIMEOUT must be a positive duration")
	}
	if rps, err := strconv.ParseFloat(c.RateLimitRPS, 64); err != nil || rps < 0 {
		return errors.ConfigError("RATE_LIMIT_RPS must be a non-negative number")
	}
	if burst, err := strconv.Atoi(c.RateLimitBurst); err != nil || burst < 1 {
		return errors.ConfigError("RATE_LIMIT_BURST must be a positive number")
	}

	switch c.StoreType {
	case StoreMemory:
	case StoreSQLite:
		if c.DatabasePath == "" {
			return errors.ConfigError("DATABASE_PATH is required when using SQLite")
		}
	case StorePostgres:
		if c.PostgresHost == "" {
			return errors.ConfigError("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return errors.ConfigError("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return errors.ConfigError("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return errors.ConfigError("POSTGRES_PORT must be a valid port number")
		}
	case StoreRedis:
	default:
		return errors.ConfigError("STORE_TYPE must be 'memory', 'redis', 'sqlite' or 'postgres'")
	}

	if c.UsesRedis() {
		if c.RedisAddress == "" {
			return errors.ConfigError("REDIS_ADDRESS is required when using Redis")
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return errors.ConfigError("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return errors.ConfigError("REDIS_POOL_SIZE must be a positive number")
		}
	}
	if c.RedisLocks {
		if d, err := time.ParseDuration(c.LockExpiry); err != nil || d <= 0 {
			return errors.ConfigError("LOCK_EXPIRY must be a positive duration")
		}
	}

	if c.OAuthEnabled() {
		if _, err := url.ParseRequestURI(c.OAuthTokenURL); err != nil {
			return errors.ConfigError("OAUTH_TOKEN_URL must be an absolute URL")
		}
		if c.OAuthClientID == "" {
			return errors.ConfigError("OAUTH_CLIENT_ID is required when OAUTH_TOKEN_URL is set")
		}
		if c.OAuthDefaultExpiry != "" {
			if d, err := time.ParseDuration(c.OAuthDefaultExpiry); err != nil || d < 0 {
				return errors.ConfigError("OAUTH_DEFAULT_EXPIRY must be a non-negative duration")
			}
		}
	}

	return nil
}

// UsesRedis reports whether a Redis connection is needed
func (c *Config) UsesRedis() bool {
	return c.StoreType == StoreRedis || c.RedisLocks
}

// OAuthEnabled reports whether an OAuth exchanger should be wired
func (c *Config) OAuthEnabled() bool {
	return c.OAuthTokenURL != ""
}

// MaxAttempts returns MAX_RETRIES as an int
func (c *Config) MaxAttempts() int {
	n, _ := strconv.Atoi(c.MaxRetries)
	return n
}

// RetryDelayDuration returns RETRY_DELAY
func (c *Config) RetryDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryDelay)
	return d
}

// HTTPTimeoutDuration returns HTTP_TIMEOUT
func (c *Config) HTTPTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.HTTPTimeout)
	return d
}

// RateLimit returns requests per second and burst; rps 0 means disabled
func (c *Config) RateLimit() (float64, int) {
	rps, _ := strconv.ParseFloat(c.RateLimitRPS, 64)
	burst, _ := strconv.Atoi(c.RateLimitBurst)
	return rps, burst
}

// RedisDBNumber returns REDIS_DB as an int
func (c *Config) RedisDBNumber() int {
	n, _ := strconv.Atoi(c.RedisDB)
	return n
}

// RedisPoolSizeNumber returns REDIS_POOL_SIZE as an int
func (c *Config) RedisPoolSizeNumber() int {
	n, _ := strconv.Atoi(c.RedisPoolSize)
	return n
}

// LockExpiryDuration returns LOCK_EXPIRY
func (c *Config) LockExpiryDuration() time.Duration {
	d, _ := time.ParseDuration(c.LockExpiry)
	return d
}

// Scopes splits OAUTH_SCOPES on commas and whitespace
func (c *Config) Scopes() []string {
	return strings.FieldsFunc(c.OAuthScopes, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// OAuthDefaultExpiryDuration returns OAUTH_DEFAULT_EXPIRY, zero when unset
func (c *Config) OAuthDefaultExpiryDuration() time.Duration {
	d, _ := time.ParseDuration(c.OAuthDefaultExpiry)
	return d
}

// PostgresDSN builds a postgres:// connection URL from the POSTGRES_* settings
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   net.JoinHostPort(c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDB,
	}
	if c.PostgresSSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.PostgresSSLMode}}.Encode()
	}
	return u.String()
}

// String renders the configuration with secrets masked
func (c *Config) String() string {
	return fmt.Sprintf("store=%s log_level=%s max_retries=%s retry_delay=%s http_timeout=%s rate_limit_rps=%s redis_locks=%t oauth=%t encryption_key=%s",
		c.StoreType, c.LogLevel, c.MaxRetries, c.RetryDelay, c.HTTPTimeout, c.RateLimitRPS, c.RedisLocks, c.OAuthEnabled(), mask(c.EncryptionKey))
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
