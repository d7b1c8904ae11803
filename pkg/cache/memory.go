package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
	access   time.Time
}

// MemoryCache implements Service in process. Values are stored JSON encoded so Get behaves
// like the Redis implementation.
type MemoryCache struct {
	mu      sync.Mutex
	data    map[string]*memoryItem
	maxSize int
	now     func() time.Time
}

var _ Service = (*MemoryCache)(nil)

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000, Now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &MemoryCache{data: make(map[string]*memoryItem), maxSize: cfg.MaxSize, now: cfg.Now}
}

// Set stores value. A non-positive expiration never expires.
func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.data[key]; !ok && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
	mc.data[key] = mc.item(data, expiration)
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.liveLocked(key)
	if ok {
		item.access = mc.now()
	}
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return unmarshal(item.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.liveLocked(key); ok {
		return false, nil
	}
	mc.data[key] = mc.item([]byte("locked"), ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

func (mc *MemoryCache) Close() error { return nil }

// Len returns the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

func (mc *MemoryCache) item(data []byte, ttl time.Duration) *memoryItem {
	now := mc.now()
	it := &memoryItem{data: data, access: now}
	if ttl > 0 {
		it.expireAt = now.Add(ttl)
	}
	return it
}

func (mc *MemoryCache) liveLocked(key string) (*memoryItem, bool) {
	item, ok := mc.data[key]
	if !ok {
		return nil, false
	}
	if !item.expireAt.IsZero() && !mc.now().Before(item.expireAt) {
		delete(mc.data, key)
		return nil, false
	}
	return item, true
}

func (mc *MemoryCache) evictLRU() {
	var oldest string
	var at time.Time
	for key, item := range mc.data {
		if oldest == "" || item.access.Before(at) {
			oldest, at = key, item.access
		}
	}
	if oldest != "" {
		delete(mc.data, oldest)
	}
}
