package pricing

import "github.com/shopspring/decimal"

const (
	// LotSize is the quantity increment every order aligns to.
	LotSize = 100
	// MinLot and MaxLot bound a single order quantity.
	MinLot = 100
	MaxLot = 500
)

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick float64) float64 {
	return toTick(price, tick, func(d decimal.Decimal) decimal.Decimal { return d.Round(0) })
}

// FloorToTick rounds price down to a multiple of tick.
func FloorToTick(price, tick float64) float64 {
	return toTick(price, tick, decimal.Decimal.Floor)
}

// CeilToTick rounds price up to a multiple of tick.
func CeilToTick(price, tick float64) float64 {
	return toTick(price, tick, decimal.Decimal.Ceil)
}

func toTick(price, tick float64, round func(decimal.Decimal) decimal.Decimal) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	steps := round(decimal.NewFromFloat(price).Div(t))
	f, _ := steps.Mul(t).Float64()
	return f
}

// RoundLot rounds qty to the nearest lot and clamps it to [MinLot, MaxLot].
// Non-positive quantities return 0.
func RoundLot(qty float64) int {
	if qty <= 0 {
		return 0
	}
	lots := decimal.NewFromFloat(qty).Div(decimal.NewFromInt(LotSize)).Round(0).IntPart()
	q := int(lots) * LotSize
	if q < MinLot {
		q = MinLot
	}
	if q > MaxLot {
		q = MaxLot
	}
	return q
}

// Ticks converts a price distance into a number of ticks.
func Ticks(distance, tick float64) float64 {
	if tick <= 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(distance).Div(decimal.NewFromFloat(tick)).Float64()
	return f
}
