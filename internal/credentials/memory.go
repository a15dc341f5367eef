package credentials

import (
	"context"
	"sync"
	"time"

	"token-relay/internal/common/errors"
	"token-relay/internal/token"
)

// MemoryStore keeps sealed rows in a map. All records are lost when the process exits.
type MemoryStore struct {
	sealer *Sealer
	rows   map[string]row
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(sealer *Sealer) (*MemoryStore, error) {
	if sealer == nil {
		return nil, errors.ConfigError("sealer is required")
	}
	return &MemoryStore{
		sealer: sealer,
		rows:   make(map[string]row),
	}, nil
}

func (s *MemoryStore) GetCredentials(_ context.Context, id string) (*token.Record, error) {
	s.mu.RLock()
	r, ok := s.rows[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return s.sealer.open(r)
}

func (s *MemoryStore) SaveToken(_ context.Context, id string, record *token.Record) error {
	r, err := s.sealer.seal(record, time.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.rows[id] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteToken(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.rows, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
