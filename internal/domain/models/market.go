package models

// BookLevel is one price level of the order book.
type BookLevel struct {
	Price float64 `json:"price"`
	Qty   int     `json:"qty"`
}

// MarketSnapshot is the per-step market state delivered by the exchange.
type MarketSnapshot struct {
	Step    int64       `json:"step"`
	Bid     float64     `json:"bid"`
	Ask     float64     `json:"ask"`
	BidSize int         `json:"bid_size,omitempty"`
	AskSize int         `json:"ask_size,omitempty"`
	Bids    []BookLevel `json:"bids,omitempty"`
	Asks    []BookLevel `json:"asks,omitempty"`
}

const (
	depthLevels     = 10
	imbalanceLevels = 3
)

// Spread returns ask-bid. ok is false when either side is missing or the book is crossed.
func (s *MarketSnapshot) Spread() (float64, bool) {
	if s.Bid <= 0 || s.Ask <= 0 || s.Ask < s.Bid {
		return 0, false
	}
	return s.Ask - s.Bid, true
}

// Valid reports whether the snapshot carries a usable touch.
func (s *MarketSnapshot) Valid() bool {
	_, ok := s.Spread()
	return ok
}

// Mid returns the midpoint, or whichever side is present, or 0.
func (s *MarketSnapshot) Mid() float64 {
	switch {
	case s.Bid > 0 && s.Ask > 0:
		return (s.Bid + s.Ask) / 2
	case s.Bid > 0:
		return s.Bid
	case s.Ask > 0:
		return s.Ask
	default:
		return 0
	}
}

// BidDepth returns the best bid size, falling back to the summed book levels.
func (s *MarketSnapshot) BidDepth() int {
	if s.BidSize > 0 {
		return s.BidSize
	}
	return sumLevels(s.Bids, depthLevels)
}

// AskDepth returns the best ask size, falling back to the summed book levels.
func (s *MarketSnapshot) AskDepth() int {
	if s.AskSize > 0 {
		return s.AskSize
	}
	return sumLevels(s.Asks, depthLevels)
}

// TotalDepth returns the best sizes on both sides. When both are absent it sums the top book
// levels instead.
func (s *MarketSnapshot) TotalDepth() int {
	if total := s.BidSize + s.AskSize; total > 0 {
		return total
	}
	return sumLevels(s.Bids, depthLevels) + sumLevels(s.Asks, depthLevels)
}

// Imbalance returns (bid-ask)/(bid+ask) over the top levels, 0 when empty.
func (s *MarketSnapshot) Imbalance() float64 {
	bid := sumLevels(s.Bids, imbalanceLevels)
	ask := sumLevels(s.Asks, imbalanceLevels)
	if bid+ask == 0 {
		bid, ask = s.BidSize, s.AskSize
	}
	if bid+ask == 0 {
		return 0
	}
	return float64(bid-ask) / float64(bid+ask)
}

func sumLevels(levels []BookLevel, n int) int {
	total := 0
	for i, l := range levels {
		if i >= n {
			break
		}
		if l.Qty > 0 {
			total += l.Qty
		}
	}
	return total
}
