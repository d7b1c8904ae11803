package execution

import (
	"math"

	"MarketMaker/internal/domain/models"
	"MarketMaker/pkg/pricing"
)

// Context is the per-step input of a policy.
type Context struct {
	Step      int64
	Bid       float64
	Ask       float64
	Inventory int
	Tier      models.RiskTier
	// Skew is the inventory skew in price units; negative when long.
	Skew float64
}

func (c Context) spread() float64 { return c.Ask - c.Bid }

// Policy decides at most one order for a step.
type Policy interface {
	Decide(c Context) (models.OrderIntent, bool)
}

var (
	_ Policy = (*normalPolicy)(nil)
	_ Policy = (*hftPolicy)(nil)
	_ Policy = (*stressedPolicy)(nil)
	_ Policy = (*crashPolicy)(nil)
)

type params struct {
	freq    int64
	size    int
	maxInv  float64
	join    bool
	compete bool
	short   bool
	tick    float64
}

func newParams(p *models.StrategyParams, tick float64) params {
	freq := p.TradeFrequency
	if freq <= 0 {
		freq = 1
	}
	return params{
		freq:    freq,
		size:    p.OrderSize,
		maxInv:  float64(p.MaxInventory),
		join:    p.AggressiveJoin == nil || *p.AggressiveJoin,
		compete: p.Competes(),
		short:   p.ShortBias,
		tick:    tick,
	}
}

func (p params) onFrequency(step int64) bool { return step%p.freq == 0 }

// touch returns the joining price for side, improved by one tick when improve is set.
func (p params) touch(side models.Side, c Context, improve bool) float64 {
	if side == models.SideBuy {
		if improve {
			return c.Bid + p.tick
		}
		return c.Bid
	}
	if improve {
		return c.Ask - p.tick
	}
	return c.Ask
}

func (p params) wide(c Context) bool { return c.spread() > 2*p.tick }

func reducing(inv int) models.Side {
	if inv > 0 {
		return models.SideSell
	}
	return models.SideBuy
}

func intent(side models.Side, price float64, qty int, reason string) (models.OrderIntent, bool) {
	return models.OrderIntent{Side: side, Price: price, Qty: qty, Reason: reason}, true
}

func reduce(side models.Side, price float64, qty int, reason string) (models.OrderIntent, bool) {
	out, ok := intent(side, price, qty, reason)
	out.ReduceOnly = true
	return out, ok
}

// alternate picks a side from the trade cycle, overridden by a skew beyond bias.
func alternate(c Context, freq int64, bias float64) models.Side {
	side := models.SideBuy
	if (c.Step/freq)%2 == 1 {
		side = models.SideSell
	}
	switch {
	case c.Skew < -bias:
		side = models.SideSell
	case c.Skew > bias:
		side = models.SideBuy
	}
	return side
}

// normalPolicy quotes at the touch and alternates sides.
type normalPolicy struct{ p params }

func (n *normalPolicy) Decide(c Context) (models.OrderIntent, bool) {
	p := n.p
	inv := c.Inventory
	if c.Tier == models.TierUnwindOnly {
		if inv == 0 {
			return models.OrderIntent{}, false
		}
		side := reducing(inv)
		return reduce(side, p.touch(side, c, p.wide(c)), p.size, "normal unwind")
	}
	if !p.onFrequency(c.Step) {
		return models.OrderIntent{}, false
	}

	qty := p.size
	if math.Abs(float64(inv)) >= 0.5*p.maxInv {
		qty = pricing.RoundLot(0.67 * float64(p.size))
	}
	improve := p.join && p.wide(c)
	threshold := 0.15 * p.maxInv

	var side models.Side
	switch {
	case float64(inv) > threshold:
		side = models.SideSell
	case float64(inv) < -threshold:
		side = models.SideBuy
	default:
		side = alternate(c, p.freq, 0.005)
	}
	return intent(side, p.touch(side, c, improve), qty, "normal quote")
}

// hftPolicy competes at the touch only when configured to.
type hftPolicy struct{ p params }

func (h *hftPolicy) Decide(c Context) (models.OrderIntent, bool) {
	p := h.p
	if !p.onFrequency(c.Step) {
		return models.OrderIntent{}, false
	}
	inv := float64(c.Inventory)
	improve := p.compete && p.wide(c)

	var side models.Side
	switch {
	case inv > 0.3*p.maxInv:
		side = models.SideSell
	case inv < -0.3*p.maxInv:
		side = models.SideBuy
	default:
		side = alternate(c, p.freq, 0.01)
	}
	return intent(side, p.touch(side, c, improve), p.size, "hft quote")
}

// stressedPolicy trades rarely and only to reduce inventory, unless short-biased.
type stressedPolicy struct{ p params }

func (s *stressedPolicy) Decide(c Context) (models.OrderIntent, bool) {
	p := s.p
	inv := c.Inventory

	if c.Tier == models.TierUnwindOnly && inv != 0 && c.Step%max(1, p.freq/3) == 0 {
		return s.reduce(reducing(inv), c, "stressed unwind")
	}
	if !p.onFrequency(c.Step) {
		return models.OrderIntent{}, false
	}

	threshold := 0.5 * p.maxInv
	abs := math.Abs(float64(inv))
	if abs > threshold {
		return s.reduce(reducing(inv), c, "stressed reduce")
	}
	if p.short && abs < threshold && c.Step%(2*p.freq) == 0 {
		return s.passive(models.SideSell, c, "stressed short bias")
	}
	return models.OrderIntent{}, false
}

func (s *stressedPolicy) passive(side models.Side, c Context, reason string) (models.OrderIntent, bool) {
	price := c.Bid + c.Skew
	if side == models.SideSell {
		price = c.Ask + c.Skew
	}
	return intent(side, pricing.RoundToTick(price, s.p.tick), s.p.size, reason)
}

func (s *stressedPolicy) reduce(side models.Side, c Context, reason string) (models.OrderIntent, bool) {
	out, ok := s.passive(side, c, reason)
	out.ReduceOnly = true
	return out, ok
}

// crashPolicy stays flat and reduces passively above its inventory allowance.
type crashPolicy struct{ p params }

func (k *crashPolicy) Decide(c Context) (models.OrderIntent, bool) {
	p := k.p
	inv := c.Inventory
	abs := int(math.Abs(float64(inv)))
	if inv == 0 || float64(abs) < p.maxInv {
		return models.OrderIntent{}, false
	}
	side := reducing(inv)
	qty := pricing.RoundLot(float64(min(p.size, abs)))
	return reduce(side, p.touch(side, c, false), qty, "crash reduce")
}
