package credentials

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"token-relay/internal/common/errors"
	"token-relay/internal/redis"
	"token-relay/internal/token"
)

// DefaultRedisPrefix namespaces credential keys
const DefaultRedisPrefix = "token-relay:credentials:"

// RedisClient is the subset of the Redis client the store uses
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// RedisStore keeps one JSON row per identifier, shared by every instance using the same Redis.
//
// Keys carry no TTL: an expired record still holds the refresh credential needed
// to renew it.
type RedisStore struct {
	client RedisClient
	sealer *Sealer
	prefix string
}

// NewRedisStore creates a Redis-backed store. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client RedisClient, sealer *Sealer, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if sealer == nil {
		return nil, errors.ConfigError("sealer is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisStore{
		client: client,
		sealer: sealer,
		prefix: prefix,
	}, nil
}

func (s *RedisStore) GetCredentials(ctx context.Context, id string) (*token.Record, error) {
	data, err := s.client.Get(ctx, s.prefix+id)
	if err != nil {
		if stderrors.Is(err, redis.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.ConnectionError("failed to read credentials from redis", err).WithContext("id", id)
	}

	var r row
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, errors.InternalError("failed to deserialize credentials", err).WithContext("id", id)
	}

	return s.sealer.open(r)
}

func (s *RedisStore) SaveToken(ctx context.Context, id string, record *token.Record) error {
	r, err := s.sealer.seal(record, time.Now())
	if err != nil {
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return errors.InternalError("failed to serialize credentials", err)
	}

	if err := s.client.Set(ctx, s.prefix+id, string(data), 0); err != nil {
		return errors.ConnectionError("failed to write credentials to redis", err).WithContext("id", id)
	}
	return nil
}

func (s *RedisStore) DeleteToken(ctx context.Context, id string) error {
	if err := s.client.Delete(ctx, s.prefix+id); err != nil {
		return errors.ConnectionError("failed to delete credentials from redis", err).WithContext("id", id)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
