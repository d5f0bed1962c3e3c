package services

import (
	"context"
	"sync"
	"time"

	"github.com/amirphl/orgsync/utils"
	"github.com/redis/go-redis/v9"
)

// RevocationStore remembers revoked token ids until they expire
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type redisRevocationStore struct {
	rc     *redis.Client
	prefix string
}

// NewRedisRevocationStore keeps revoked ids in redis so every instance sees them
func NewRedisRevocationStore(rc *redis.Client, prefix string) RevocationStore {
	return &redisRevocationStore{rc: rc, prefix: prefix}
}

func (s *redisRevocationStore) key(tokenID string) string {
	return s.prefix + utils.RevokedTokenPrefix + tokenID
}

func (s *redisRevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return s.rc.Set(ctx, s.key(tokenID), "1", ttl).Err()
}

func (s *redisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.rc.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryRevocationStore is used when the cache is disabled. It only covers this process.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{revoked: make(map[string]time.Time)}
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := utils.UTCNow()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
	s.revoked[tokenID] = now.Add(ttl)
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if utils.IsExpired(exp) {
		delete(s.revoked, tokenID)
		return false, nil
	}
	return true, nil
}
