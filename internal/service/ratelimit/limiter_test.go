package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(3, 2, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		if !l.Allow("orders") {
			t.Fatalf("burst token %d refused", i)
		}
	}
	if l.Allow("orders") {
		t.Fatalf("empty bucket allowed a request")
	}
	if !l.Allow("cancels") {
		t.Fatalf("keys must not share buckets")
	}

	now = now.Add(500 * time.Millisecond)
	if !l.Allow("orders") {
		t.Fatalf("one token should refill after 500ms at 2/s")
	}
	if l.Allow("orders") {
		t.Fatalf("only one token should have refilled")
	}

	now = now.Add(10 * time.Second)
	if got := l.Tokens("orders"); got != 3 {
		t.Fatalf("tokens = %v, want capacity 3", got)
	}
}
