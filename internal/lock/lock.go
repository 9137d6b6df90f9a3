// Package lock provides short-lived mutual exclusion keyed by string, used to
// keep several server instances from refreshing the same credential at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block other instances.
const DefaultTTL = 30 * time.Second

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("lock already held")

// Handle releases an acquired lock. Unlock is idempotent.
type Handle interface {
	Unlock(ctx context.Context) error
}

// Locker acquires a lock for key that expires after ttl unless released.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Handle, error)
}

// releaseScript deletes the key only while it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a per-acquisition token.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker builds a locker whose keys are namespaced by prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "reservo:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Handle, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	token := uuid.NewString()
	fullKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	return &redisHandle{client: l.client, key: fullKey, token: token}, nil
}

type redisHandle struct {
	client redis.UniversalClient
	key    string
	token  string
	once   sync.Once
	err    error
}

func (h *redisHandle) Unlock(ctx context.Context) error {
	h.once.Do(func() {
		if err := releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			h.err = fmt.Errorf("release lock %s: %w", h.key, err)
		}
	})
	return h.err
}

// MemoryLocker is an in-process Locker for single-instance deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	seq   uint64
	now   func() time.Time
}

type memoryEntry struct {
	until time.Time
	token uint64
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Handle, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.locks[key]; ok && now.Before(entry.until) {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}

	l.seq++
	l.locks[key] = memoryEntry{until: now.Add(ttl), token: l.seq}
	return &memoryHandle{locker: l, key: key, token: l.seq}, nil
}

type memoryHandle struct {
	locker *MemoryLocker
	key    string
	token  uint64
	once   sync.Once
}

func (h *memoryHandle) Unlock(_ context.Context) error {
	h.once.Do(func() {
		h.locker.mu.Lock()
		defer h.locker.mu.Unlock()
		if entry, ok := h.locker.locks[h.key]; ok && entry.token == h.token {
			delete(h.locker.locks, h.key)
		}
	})
	return nil
}
