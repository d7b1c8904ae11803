package features

import "math"

// Signal is the output of the CUSUM change-point detector.
type Signal string

const (
	SignalNone       Signal = ""
	SignalStressUp   Signal = "STRESS_UP"
	SignalStressDown Signal = "STRESS_DOWN"
)

// CusumState is a two-sided CUSUM accumulator. Pos and Neg never go negative.
type CusumState struct {
	Pos       float64
	Neg       float64
	Slack     float64
	Threshold float64
}

// Detect feeds one observation against baseline and returns a signal when an accumulator crosses
// the threshold. The accumulator that fired is reset.
func (c *CusumState) Detect(value, baseline float64) Signal {
	if baseline <= 0 || math.IsNaN(value) {
		return SignalNone
	}
	dev := (value - baseline) / math.Max(0.1, baseline)
	c.Pos = math.Max(0, c.Pos+dev-c.Slack)
	c.Neg = math.Max(0, c.Neg-dev-c.Slack)

	if c.Pos > c.Threshold {
		c.Pos = 0
		return SignalStressUp
	}
	if c.Neg > c.Threshold {
		c.Neg = 0
		return SignalStressDown
	}
	return SignalNone
}

// Reset zeroes both accumulators.
func (c *CusumState) Reset() {
	c.Pos = 0
	c.Neg = 0
}
