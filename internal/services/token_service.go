package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenService caches per-tenant bank API bearer tokens with an explicit
// expiry. Tokens are keyed by (tenant, provider) so one tenant's credentials
// never leak into another's requests. Redis carries the cache when available;
// otherwise an in-process map serves a single instance.
type TokenService struct {
	redis *redis.Client

	mu    sync.Mutex
	local map[string]localToken
}

type localToken struct {
	value  string
	expiry time.Time
}

func NewTokenService(redisClient *redis.Client) *TokenService {
	return &TokenService{
		redis: redisClient,
		local: map[string]localToken{},
	}
}

func tokenKey(tenantID int, provider string) string {
	return fmt.Sprintf("banktoken:%d:%s", tenantID, provider)
}

// Get returns the cached token, or "" when absent or expired.
func (s *TokenService) Get(ctx context.Context, tenantID int, provider string) (string, error) {
	key := tokenKey(tenantID, provider)
	if s.redis != nil {
		token, err := s.redis.Get(ctx, key).Result()
		if err == redis.Nil {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.local[key]
	if !ok || time.Now().After(entry.expiry) {
		delete(s.local, key)
		return "", nil
	}
	return entry.value, nil
}

// Set stores a token with a TTL shortened by one minute so a token is never
// served right at its provider-side expiry.
func (s *TokenService) Set(ctx context.Context, tenantID int, provider, token string, expiresIn time.Duration) error {
	ttl := expiresIn - time.Minute
	if ttl <= 0 {
		ttl = expiresIn
	}
	key := tokenKey(tenantID, provider)
	if s.redis != nil {
		return s.redis.Set(ctx, key, token, ttl).Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[key] = localToken{value: token, expiry: time.Now().Add(ttl)}
	return nil
}
