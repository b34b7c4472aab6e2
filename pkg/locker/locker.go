package locker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock serialises batch processing runs across service instances.
// Acquire is non-blocking; the TTL bounds how long a crashed holder can
// wedge the lock.
type RunLock interface {
	Acquire(name string, ttl time.Duration) (bool, error)
	Release(name string) error
}

// MemoryRunLock is an in-process RunLock (single instance only).
type MemoryRunLock struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

// NewMemoryRunLock builds an in-memory run lock.
func NewMemoryRunLock() *MemoryRunLock {
	return &MemoryRunLock{locks: make(map[string]time.Time)}
}

// Acquire takes the named lock unless it is already held and not expired.
func (l *MemoryRunLock) Acquire(name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, held := l.locks[name]
	if held && time.Now().Before(expiry) {
		return false, nil
	}
	l.locks[name] = time.Now().Add(ttl)
	return true, nil
}

// Release frees the named lock.
func (l *MemoryRunLock) Release(name string) error {
	l.mu.Lock()
	delete(l.locks, name)
	l.mu.Unlock()
	return nil
}

// RedisRunLock is a Redis-backed RunLock for multi-instance deployments.
type RedisRunLock struct {
	client *redis.Client
}

// NewRedisRunLock builds a Redis-backed run lock.
func NewRedisRunLock(addr, password string) *RedisRunLock {
	return &RedisRunLock{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Acquire takes the named lock via SET NX with a TTL.
func (l *RedisRunLock) Acquire(name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return l.client.SetNX(ctx, lockKey(name), "1", ttl).Result()
}

// Release frees the named lock.
func (l *RedisRunLock) Release(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return l.client.Del(ctx, lockKey(name)).Err()
}

func lockKey(name string) string {
	return "docsync:runlock:" + name
}
