package models

import "time"

// CalibrationSummary aggregates the calibration period for scenario matching.
type CalibrationSummary struct {
	MeanSpread     float64 `json:"mean_spread"`
	MeanDepth      float64 `json:"mean_depth"`
	SpreadStd      float64 `json:"spread_std"`
	Volatility     float64 `json:"volatility"`
	PriceDrift     float64 `json:"price_drift"`
	DepthCV        float64 `json:"depth_cv"`
	DepthAvailable bool    `json:"depth_available"`
	Samples        int     `json:"samples"`
}

// SpreadCV returns the spread coefficient of variation.
func (c CalibrationSummary) SpreadCV() float64 {
	if c.MeanSpread <= 0 {
		return 0
	}
	return c.SpreadStd / c.MeanSpread
}

// Event kinds published by the engine.
const (
	KindRegimeChange = "regime_change"
	KindOrder        = "order"
	KindCancel       = "cancel"
	KindFill         = "fill"
	KindProfile      = "profile"
	KindSummary      = "summary"
)

// EngineEvent is the envelope published on the event bus.
type EngineEvent struct {
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
	Step      int64       `json:"step"`
	Time      time.Time   `json:"time"`
	Payload   interface{} `json:"payload"`
}

// RegimeChange records a confirmed transition.
type RegimeChange struct {
	SessionID string    `json:"session_id"`
	Step      int64     `json:"step"`
	From      Regime    `json:"from"`
	To        Regime    `json:"to"`
	Instant   Regime    `json:"instant"`
	Reason    string    `json:"reason"`
	Spread    float64   `json:"spread"`
	Time      time.Time `json:"time"`
}

// FillRecord is a fill as booked by the engine.
type FillRecord struct {
	SessionID string        `json:"session_id"`
	Step      int64         `json:"step"`
	OrderID   string        `json:"order_id"`
	Side      Side          `json:"side"`
	Qty       int           `json:"qty"`
	Price     float64       `json:"price"`
	Mid       float64       `json:"mid"`
	Quality   FillQuality   `json:"quality"`
	Edge      float64       `json:"edge"`
	Tracked   bool          `json:"tracked"`
	Latency   time.Duration `json:"latency"`
	Lifetime  int64         `json:"lifetime_steps"`
	Inventory int           `json:"inventory"`
	PnL       float64       `json:"pnl"`
	Regime    Regime        `json:"regime"`
	Time      time.Time     `json:"time"`
}

// SessionSummary is written once at teardown.
type SessionSummary struct {
	SessionID      string    `json:"session_id"`
	Scenario       string    `json:"scenario"`
	Profile        string    `json:"profile"`
	Steps          int64     `json:"steps"`
	DeadTicks      int64     `json:"dead_ticks"`
	Fills          int64     `json:"fills"`
	OrdersSent     int64     `json:"orders_sent"`
	Transitions    int64     `json:"transitions"`
	FinalInventory int       `json:"final_inventory"`
	PnL            float64   `json:"pnl"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// EngineState is the persisted and reported engine snapshot.
type EngineState struct {
	SessionID  string      `json:"session_id"`
	Step       int64       `json:"step"`
	Regime     Regime      `json:"regime"`
	Tier       RiskTier    `json:"tier"`
	Profile    string      `json:"profile"`
	Position   Position    `json:"position"`
	PnL        float64     `json:"pnl"`
	OpenOrders []OpenOrder `json:"open_orders"`
	Breaker    bool        `json:"breaker_tripped"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
