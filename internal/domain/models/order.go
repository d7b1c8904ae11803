package models

import "time"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderIntent is a policy decision before admission.
type OrderIntent struct {
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	Qty       int     `json:"qty"`
	Reason    string  `json:"reason"`
	Emergency bool    `json:"emergency"`
	// ReduceOnly intents may only shrink the position, counting what already rests on their side.
	ReduceOnly bool `json:"reduce_only,omitempty"`
	// Anchor is the touch the price was set against. Zero means Price.
	Anchor float64 `json:"anchor,omitempty"`
}

// OpenOrder is an admitted order that has not been filled or cancelled.
type OpenOrder struct {
	ID     string    `json:"id"`
	Side   Side      `json:"side"`
	Price  float64   `json:"price"`
	Qty    int       `json:"qty"`
	Step   int64     `json:"step"`
	SentAt time.Time `json:"sent_at"`
	Anchor float64   `json:"anchor,omitempty"`
}

// DriftRef returns the price drift is measured from.
func (o OpenOrder) DriftRef() float64 {
	if o.Anchor > 0 {
		return o.Anchor
	}
	return o.Price
}

// OrderSubmit is the wire message for a new order.
type OrderSubmit struct {
	OrderID string  `json:"order_id"`
	Side    Side    `json:"side"`
	Price   float64 `json:"price"`
	Qty     int     `json:"qty"`
}

// OrderCancel is the wire message for a cancellation.
type OrderCancel struct {
	Action  string `json:"action"`
	OrderID string `json:"order_id"`
}

// StepDone signals readiness for the next snapshot.
type StepDone struct {
	Action string `json:"action"`
}

const (
	ActionCancel = "CANCEL"
	ActionDone   = "DONE"

	EventFill  = "FILL"
	EventError = "ERROR"
)

// OrderEvent is an asynchronous message from the order session.
type OrderEvent struct {
	Type    string  `json:"type"`
	OrderID string  `json:"order_id,omitempty"`
	Side    Side    `json:"side,omitempty"`
	Qty     int     `json:"qty,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Message string  `json:"message,omitempty"`
}

// IsFill reports whether the event carries a usable fill.
func (e *OrderEvent) IsFill() bool {
	return e.Type == EventFill && e.Qty > 0 && e.Price > 0 && (e.Side == SideBuy || e.Side == SideSell)
}

// FillQuality grades a fill against the mid at the time it was applied.
type FillQuality string

const (
	FillGood FillQuality = "GOOD"
	FillPoor FillQuality = "POOR"
)

// GradeFill returns GOOD when the fill beat mid. A dead mid is always POOR.
func GradeFill(side Side, price, mid float64) (FillQuality, float64) {
	if mid <= 0 {
		return FillPoor, 0
	}
	edge := price - mid
	if side == SideBuy {
		edge = mid - price
	}
	if edge > 0 {
		return FillGood, edge
	}
	return FillPoor, edge
}
