package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReleaseFunc releases a held lock. Safe to call once.
type ReleaseFunc func(context.Context)

// Service serialises background jobs across horizontally scaled instances.
// Acquire returns ok=false when another holder owns the key; the TTL bounds
// how long a crashed holder can block the job.
type Service interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error)
}

// RedisService implements Service on top of Redis SET NX.
type RedisService struct {
	client *redis.Client
	prefix string
}

// NewRedisService constructs a Redis-backed lock service.
func NewRedisService(client *redis.Client, prefix string) *RedisService {
	if prefix == "" {
		prefix = "lock"
	}
	return &RedisService{client: client, prefix: prefix}
}

// Acquire takes the named lock with the given TTL.
func (s *RedisService) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	token := uuid.NewString()
	full := fmt.Sprintf("%s:%s", s.prefix, key)

	ok, err := s.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		// Delete only if we still hold it; an expired lock may have been
		// re-acquired by another instance.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		_ = s.client.Eval(ctx, script, []string{full}, token).Err()
	}
	return release, true, nil
}

// LocalService is an in-process fallback for single-instance deployments.
type LocalService struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocalService constructs the in-process lock service.
func NewLocalService() *LocalService {
	return &LocalService{held: make(map[string]time.Time)}
}

// Acquire takes the named lock unless it is held and unexpired.
func (s *LocalService) Acquire(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if expiry, ok := s.held[key]; ok && now.Before(expiry) {
		return nil, false, nil
	}
	s.held[key] = now.Add(ttl)

	release := func(context.Context) {
		s.mu.Lock()
		delete(s.held, key)
		s.mu.Unlock()
	}
	return release, true, nil
}
