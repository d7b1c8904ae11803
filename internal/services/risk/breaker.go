package risk

import (
	"sync"

	"MarketMaker/internal/domain/models"
)

// BreakerState is a snapshot of the circuit breaker.
type BreakerState struct {
	Tripped     bool   `json:"tripped"`
	Consecutive int    `json:"consecutive_adverse"`
	TrippedAt   int64  `json:"tripped_at_step,omitempty"`
	Trips       int64  `json:"trips"`
	LastReason  string `json:"last_reason,omitempty"`
}

// Breaker suppresses non-emergency orders after a run of adverse fills.
// Observe and Tick run on the engine loop; Reset may come from the HTTP API.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  int64
	state     BreakerState
	lastStep  int64
}

// NewBreaker creates a breaker that trips after threshold consecutive adverse fills and clears
// itself cooldown steps later. A zero cooldown disables auto-clear.
func NewBreaker(threshold int, cooldown int64) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Observe records a graded fill and reports whether this fill tripped the breaker.
func (b *Breaker) Observe(q models.FillQuality) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q == models.FillGood {
		b.state.Consecutive = 0
		return false
	}
	b.state.Consecutive++
	if b.state.Tripped || b.state.Consecutive < b.threshold {
		return false
	}
	b.state.Tripped = true
	b.state.TrippedAt = b.lastStep
	b.state.Trips++
	b.state.LastReason = "consecutive adverse fills"
	return true
}

// Tick advances the breaker clock and reports whether it auto-cleared on this step.
func (b *Breaker) Tick(step int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastStep = step
	if !b.state.Tripped || b.cooldown == 0 {
		return false
	}
	if step-b.state.TrippedAt >= b.cooldown {
		b.clear("cooldown elapsed")
		return true
	}
	return false
}

// Reset clears the breaker manually.
func (b *Breaker) Reset(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clear(reason)
}

func (b *Breaker) clear(reason string) {
	b.state.Tripped = false
	b.state.Consecutive = 0
	b.state.TrippedAt = 0
	b.state.LastReason = reason
}

// Tripped reports whether orders are suppressed.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Tripped
}

// Allow reports whether intent may pass. Emergency intents always pass.
func (b *Breaker) Allow(intent models.OrderIntent) bool {
	return intent.Emergency || !b.Tripped()
}

// State returns a copy of the breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
