// Package cache implements domain.Cache as a two-tier cache: an in-process
// FIFO-with-TTL local tier in front of a shared Redis tier, so repeated
// embedding/extraction lookups within one process avoid a network round
// trip while still sharing hits across worker processes.
package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cvmatch/matching-engine/internal/domain"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e localEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// localTier is an in-process cache with FIFO eviction once capacity is
// reached and passive TTL expiry on read.
type localTier struct {
	mu       sync.RWMutex
	entries  map[string]localEntry
	order    []string
	capacity int
}

func newLocalTier(capacity int) *localTier {
	if capacity <= 0 {
		capacity = 1
	}
	return &localTier{entries: make(map[string]localEntry), capacity: capacity}
}

func (t *localTier) get(key string) ([]byte, bool) {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.expired() {
		t.mu.Lock()
		delete(t.entries, key)
		t.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (t *localTier) set(key string, value []byte, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if _, exists := t.entries[key]; !exists {
		if len(t.order) >= t.capacity {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.entries, oldest)
		}
		t.order = append(t.order, key)
	}
	t.entries[key] = localEntry{value: value, expiresAt: expiresAt}
}

func (t *localTier) del(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// luaGetAndTouchScript fetches a key and slides its TTL forward in one round
// trip, so a hot entry in the shared tier never expires mid-burst just
// because no writer has refreshed it recently.
const luaGetAndTouchScript = `
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return v
`

// Cache implements domain.Cache.
type Cache struct {
	local       *localTier
	redis       *redis.Client
	getAndTouch *redis.Script
	localTTL    time.Duration
	sharedTTL   time.Duration
}

// New constructs a two-tier Cache. rdb may be nil, in which case the cache
// operates local-only (useful for tests and single-process deployments).
func New(rdb *redis.Client, localCapacity int, localTTL, sharedTTL time.Duration) *Cache {
	return &Cache{
		local:       newLocalTier(localCapacity),
		redis:       rdb,
		getAndTouch: redis.NewScript(luaGetAndTouchScript),
		localTTL:    localTTL,
		sharedTTL:   sharedTTL,
	}
}

func nsKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get implements domain.Cache.
func (c *Cache) Get(ctx domain.Context, namespace, key string) ([]byte, bool, error) {
	full := nsKey(namespace, key)
	if v, ok := c.local.get(full); ok {
		return v, true, nil
	}
	if c.redis == nil {
		return nil, false, nil
	}
	ttlSec := int(c.sharedTTL.Seconds())
	if ttlSec <= 0 {
		ttlSec = 1
	}
	res, err := c.getAndTouch.Run(ctx, c.redis, []string{full}, ttlSec).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		return nil, false, nil
	}
	v, ok := res.(string)
	if !ok {
		return nil, false, nil
	}
	c.local.set(full, []byte(v), c.localTTL)
	return []byte(v), true, nil
}

// Set implements domain.Cache. ttlSeconds <= 0 means the configured localTTL
// on the local tier and the configured sharedTTL default on Redis.
func (c *Cache) Set(ctx domain.Context, namespace, key string, value []byte, ttlSeconds int) error {
	full := nsKey(namespace, key)
	local := c.localTTL
	shared := c.sharedTTL
	if ttlSeconds > 0 {
		ttl := time.Duration(ttlSeconds) * time.Second
		if local == 0 || ttl < local {
			local = ttl
		}
		shared = ttl
	}
	c.local.set(full, value, local)
	if c.redis == nil {
		return nil
	}
	return c.redis.Set(ctx, full, value, shared).Err()
}

// Del implements domain.Cache.
func (c *Cache) Del(ctx domain.Context, namespace, key string) error {
	full := nsKey(namespace, key)
	c.local.del(full)
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, full).Err(); err != nil {
		return err
	}
	return nil
}
