package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionStore persists exactly one value per principal-device: the last
// selected current organization. Impersonation state is deliberately never
// persisted, so a fresh session always starts in direct mode.
type SessionStore interface {
	LoadCurrentOrg(ctx context.Context, principalID uuid.UUID, deviceID string) (uuid.UUID, error)
	SaveCurrentOrg(ctx context.Context, principalID uuid.UUID, deviceID string, orgID uuid.UUID) error
}

// RedisSessionStore keeps the selection in redis.
type RedisSessionStore struct {
	rdb *redis.Client
}

func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

var _ SessionStore = (*RedisSessionStore)(nil)

func sessionKey(principalID uuid.UUID, deviceID string) string {
	return fmt.Sprintf("session:current_org:%s:%s", principalID, deviceID)
}

func (s *RedisSessionStore) LoadCurrentOrg(ctx context.Context, principalID uuid.UUID, deviceID string) (uuid.UUID, error) {
	val, err := s.rdb.Get(ctx, sessionKey(principalID, deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		// Corrupt value: treat as no selection rather than failing the session.
		return uuid.Nil, nil
	}
	return id, nil
}

func (s *RedisSessionStore) SaveCurrentOrg(ctx context.Context, principalID uuid.UUID, deviceID string, orgID uuid.UUID) error {
	return s.rdb.Set(ctx, sessionKey(principalID, deviceID), orgID.String(), 0).Err()
}

// MemorySessionStore is the in-process fallback used in tests and when redis
// is absent.
type MemorySessionStore struct {
	mu   sync.Mutex
	vals map[string]uuid.UUID
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{vals: make(map[string]uuid.UUID)}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func (s *MemorySessionStore) LoadCurrentOrg(_ context.Context, principalID uuid.UUID, deviceID string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[sessionKey(principalID, deviceID)], nil
}

func (s *MemorySessionStore) SaveCurrentOrg(_ context.Context, principalID uuid.UUID, deviceID string, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[sessionKey(principalID, deviceID)] = orgID
	return nil
}
