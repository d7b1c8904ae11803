package execution

import (
	"MarketMaker/internal/domain/models"
	"MarketMaker/pkg/pricing"
)

// Risk is the part of the risk manager the router needs.
type Risk interface {
	NearLimit(inv int) bool
	EmergencyUnwind(inv int, bid, ask float64) (models.OrderIntent, bool)
	SkewPrice(inv int) float64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDeadMarket sets the spread and depth floors below which no order is generated.
func WithDeadMarket(spread float64, depth int) RouterOption {
	return func(r *Router) {
		r.deadSpread = spread
		r.depthFloor = depth
	}
}

// Router dispatches on the confirmed regime to one policy per step.
type Router struct {
	risk       Risk
	tick       float64
	deadSpread float64
	depthFloor int

	normal   Policy
	hft      Policy
	stressed Policy
	crash    Policy
}

// NewRouter builds the policies from the strategy table.
func NewRouter(risk Risk, strategies *models.RegimeStrategies, tick float64, opts ...RouterOption) *Router {
	r := &Router{risk: risk, deadSpread: 0.01, depthFloor: 200}
	for _, opt := range opts {
		opt(r)
	}
	r.Reconfigure(strategies, tick)
	return r
}

// Reconfigure rebuilds the policies for a new profile.
func (r *Router) Reconfigure(strategies *models.RegimeStrategies, tick float64) {
	r.tick = tick
	r.normal = &normalPolicy{p: newParams(strategies.Normal, tick)}
	r.hft = &hftPolicy{p: newParams(strategies.HFT, tick)}
	r.stressed = &stressedPolicy{p: newParams(strategies.Stressed, tick)}
	r.crash = &crashPolicy{p: newParams(strategies.Crash, tick)}
}

// Decide returns the order for this step, if any. resting is the quantity already working on
// the side that reduces inv; reduce-only intents are capped so the two never exceed |inv|.
func (r *Router) Decide(regime models.Regime, snap *models.MarketSnapshot, inv, resting int, tier models.RiskTier) (models.OrderIntent, bool) {
	spread, ok := snap.Spread()
	if !ok || regime == models.RegimeCalibrating {
		return models.OrderIntent{}, false
	}
	if r.risk.NearLimit(inv) {
		return r.emergency(inv, snap)
	}
	if r.dead(spread, snap.TotalDepth()) {
		return models.OrderIntent{}, false
	}
	if tier == models.TierEmergency {
		return r.emergency(inv, snap)
	}

	var policy Policy
	switch regime {
	case models.RegimeHFT:
		policy = r.hft
	case models.RegimeStressed:
		policy = r.stressed
	case models.RegimeCrash, models.RegimeSpike:
		policy = r.crash
	default:
		policy = r.normal
	}

	out, ok := policy.Decide(Context{
		Step:      snap.Step,
		Bid:       snap.Bid,
		Ask:       snap.Ask,
		Inventory: inv,
		Tier:      tier,
		Skew:      r.risk.SkewPrice(inv),
	})
	if !ok {
		return models.OrderIntent{}, false
	}
	if out.ReduceOnly {
		room := reduceRoom(inv, resting)
		if room < pricing.MinLot {
			return models.OrderIntent{}, false
		}
		out.Qty = min(pricing.RoundLot(float64(out.Qty)), room)
	}
	return r.guard(out, snap)
}

func (r *Router) emergency(inv int, snap *models.MarketSnapshot) (models.OrderIntent, bool) {
	out, ok := r.risk.EmergencyUnwind(inv, snap.Bid, snap.Ask)
	if !ok {
		return out, false
	}
	out.Anchor = anchor(out.Side, snap)
	return out, true
}

// reduceRoom is the lot-aligned quantity that can still be added on the reducing side.
func reduceRoom(inv, resting int) int {
	room := max(inv, -inv) - max(resting, 0)
	if room <= 0 {
		return 0
	}
	return room - room%pricing.LotSize
}

func anchor(side models.Side, snap *models.MarketSnapshot) float64 {
	if side == models.SideBuy {
		return snap.Bid
	}
	return snap.Ask
}

// dead reports a near-zero spread or a book thinner than the floor. A snapshot without any
// depth information only gets the spread check.
func (r *Router) dead(spread float64, depth int) bool {
	if spread <= r.deadSpread {
		return true
	}
	return depth > 0 && depth < r.depthFloor
}

// guard aligns price and quantity and keeps non-emergency orders passive.
func (r *Router) guard(in models.OrderIntent, snap *models.MarketSnapshot) (models.OrderIntent, bool) {
	in.Qty = pricing.RoundLot(float64(in.Qty))
	if in.Qty == 0 {
		return models.OrderIntent{}, false
	}
	in.Anchor = anchor(in.Side, snap)
	if in.Emergency {
		return in, true
	}

	in.Price = pricing.RoundToTick(in.Price, r.tick)
	switch in.Side {
	case models.SideBuy:
		if in.Price >= snap.Ask {
			in.Price = pricing.FloorToTick(snap.Ask-r.tick, r.tick)
		}
	case models.SideSell:
		if in.Price <= snap.Bid {
			in.Price = pricing.CeilToTick(snap.Bid+r.tick, r.tick)
		}
	}
	if in.Price <= 0 {
		return models.OrderIntent{}, false
	}
	return in, true
}
