package risk

import (
	"MarketMaker/internal/domain/models"
	"MarketMaker/pkg/pricing"
)

const (
	// DefaultHardLimit is the near-limit inventory that forces an unwind regardless of regime.
	DefaultHardLimit = 4800
	skewDivisor      = 500.0
)

// Limits are the inventory tier thresholds.
type Limits struct {
	Warning  int
	Danger   int
	Critical int
}

// Option configures a Manager.
type Option func(*Manager)

// WithHardLimit overrides the near-limit threshold.
func WithHardLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.hardLimit = n
		}
	}
}

// Manager maps inventory to risk tiers and produces emergency unwinds. It holds no position state.
type Manager struct {
	limits    Limits
	tick      float64
	hardLimit int
}

// NewManager creates a risk manager.
func NewManager(limits Limits, tick float64, opts ...Option) *Manager {
	m := &Manager{limits: limits, tick: tick, hardLimit: DefaultHardLimit}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FromProfile builds limits from profile base params.
func FromProfile(p *models.BaseParams) Limits {
	return Limits{Warning: p.InventoryWarning, Danger: p.InventoryDanger, Critical: p.InventoryCritical}
}

// Reconfigure applies new limits and tick size.
func (m *Manager) Reconfigure(limits Limits, tick float64) {
	m.limits = limits
	m.tick = tick
}

// Limits returns the active thresholds.
func (m *Manager) Limits() Limits { return m.limits }

// Tick returns the active tick size.
func (m *Manager) Tick() float64 { return m.tick }

// Tier classifies |inv| against the thresholds.
func (m *Manager) Tier(inv int) models.RiskTier {
	a := abs(inv)
	switch {
	case a >= m.limits.Critical:
		return models.TierEmergency
	case a >= m.limits.Danger:
		return models.TierUnwindOnly
	case a >= m.limits.Warning:
		return models.TierUnwindBias
	default:
		return models.TierNormal
	}
}

// Skew returns the quote adjustment in ticks. Long positions skew down.
func (m *Manager) Skew(inv int) float64 {
	return -float64(inv) / skewDivisor
}

// SkewPrice returns the skew in price units.
func (m *Manager) SkewPrice(inv int) float64 {
	return m.Skew(inv) * m.tick
}

// NearLimit reports whether |inv| reached the hard limit.
func (m *Manager) NearLimit(inv int) bool {
	return abs(inv) >= m.hardLimit
}

// EmergencyUnwind returns a spread-crossing order that reduces the position.
// It returns false for a flat position or a book without the needed side.
func (m *Manager) EmergencyUnwind(inv int, bid, ask float64) (models.OrderIntent, bool) {
	if inv == 0 {
		return models.OrderIntent{}, false
	}
	qty := pricing.RoundLot(float64(min(pricing.MaxLot, abs(inv))))
	if inv > 0 {
		if bid <= 0 {
			return models.OrderIntent{}, false
		}
		return models.OrderIntent{
			Side:      models.SideSell,
			Price:     pricing.FloorToTick(bid, m.tick),
			Qty:       qty,
			Reason:    "emergency unwind long",
			Emergency: true,
		}, true
	}
	if ask <= 0 {
		return models.OrderIntent{}, false
	}
	return models.OrderIntent{
		Side:      models.SideBuy,
		Price:     pricing.CeilToTick(ask, m.tick),
		Qty:       qty,
		Reason:    "emergency unwind short",
		Emergency: true,
	}, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
