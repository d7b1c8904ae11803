package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type point struct {
	Step int64   `json:"step"`
	PnL  float64 `json:"pnl"`
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	mc := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := mc.Set(ctx, "state", point{Step: 7, PnL: 1.5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got point
	if err := mc.Get(ctx, "state", &got); err != nil || got.Step != 7 || got.PnL != 1.5 {
		t.Fatalf("get = %+v, %v", got, err)
	}

	now = now.Add(time.Minute)
	if err := mc.Get(ctx, "state", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	now := time.Unix(0, 0)
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	mc.Set(ctx, "a", "1", 0)
	now = now.Add(time.Second)
	mc.Set(ctx, "b", "2", 0)
	now = now.Add(time.Second)
	var s string
	mc.Get(ctx, "a", &s)
	now = now.Add(time.Second)
	mc.Set(ctx, "c", "3", 0)

	if mc.Len() != 2 {
		t.Fatalf("len = %d", mc.Len())
	}
	if err := mc.Get(ctx, "b", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("b should have been evicted")
	}
	if err := mc.Get(ctx, "a", &s); err != nil || s != "1" {
		t.Fatalf("a = %q, %v", s, err)
	}
}

func TestMemoryCacheLock(t *testing.T) {
	now := time.Unix(0, 0)
	mc := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	if ok, _ := mc.TryLock(ctx, "lock:s1", time.Minute); !ok {
		t.Fatalf("first lock should succeed")
	}
	if ok, _ := mc.TryLock(ctx, "lock:s1", time.Minute); ok {
		t.Fatalf("second lock should fail")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := mc.TryLock(ctx, "lock:s1", time.Minute); !ok {
		t.Fatalf("expired lock should be reacquired")
	}
	mc.Unlock(ctx, "lock:s1")
	if ok, _ := mc.TryLock(ctx, "lock:s1", time.Minute); !ok {
		t.Fatalf("unlocked key should be lockable")
	}
}
