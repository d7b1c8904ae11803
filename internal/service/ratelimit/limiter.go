package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. Every key gets the same capacity and refill rate.
type Limiter struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	now        func() time.Time
	m          map[string]*bucket
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter allowing bursts of capacity refilled at perSecond tokens per second.
func New(capacity, perSecond float64, opts ...Option) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	l := &Limiter{capacity: capacity, refillRate: perSecond, now: time.Now, m: make(map[string]*bucket)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the tokens currently available for key.
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refill(key).tokens
}

func (l *Limiter) refill(key string) *bucket {
	now := l.now()
	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
		return b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.refillRate)
		b.last = now
	}
	return b
}
