package models

// Position tracks signed inventory and cash. Only fills change Inventory and CashFlow.
type Position struct {
	Inventory int     `json:"inventory"`
	CashFlow  float64 `json:"cash_flow"`
	LastMid   float64 `json:"last_mid"`
}

// Apply books a fill.
func (p *Position) Apply(side Side, qty int, price float64) {
	notional := float64(qty) * price
	if side == SideBuy {
		p.Inventory += qty
		p.CashFlow -= notional
		return
	}
	p.Inventory -= qty
	p.CashFlow += notional
}

// Mark records the latest mid used for mark-to-market.
func (p *Position) Mark(mid float64) {
	if mid > 0 {
		p.LastMid = mid
	}
}

// PnL returns cash flow plus inventory marked at the last mid.
func (p *Position) PnL() float64 {
	return p.CashFlow + float64(p.Inventory)*p.LastMid
}
