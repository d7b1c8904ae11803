package scenario

import (
	"errors"
	"fmt"
	"math"

	"MarketMaker/internal/domain/models"
	"MarketMaker/pkg/window"
)

// ErrInsufficientCalibration is returned when too few spreads were collected to match a profile.
var ErrInsufficientCalibration = errors.New("insufficient calibration data")

const (
	minCalibrationSpreads = 50
	minVolatilityMids     = 10

	// DefaultBaselineSpread and DefaultBaselineDepth are used when calibration is unusable.
	DefaultBaselineSpread = 0.5
	DefaultBaselineDepth  = 10000.0
)

// Calibrator collects market samples while the session calibrates.
type Calibrator struct {
	spreads []float64
	depths  []float64
	mids    []float64
}

// NewCalibrator creates a calibrator sized for the expected number of steps.
func NewCalibrator(steps int64) *Calibrator {
	n := int(steps)
	if n < 0 {
		n = 0
	}
	return &Calibrator{
		spreads: make([]float64, 0, n),
		depths:  make([]float64, 0, n),
		mids:    make([]float64, 0, n),
	}
}

// Add records one observation. Non-positive values are ignored per series.
func (c *Calibrator) Add(spread, depth, mid float64) {
	if spread > 0 && !math.IsInf(spread, 0) {
		c.spreads = append(c.spreads, spread)
	}
	if depth > 0 && !math.IsInf(depth, 0) {
		c.depths = append(c.depths, depth)
	}
	if mid > 0 && !math.IsInf(mid, 0) {
		c.mids = append(c.mids, mid)
	}
}

// Len returns the number of spread samples.
func (c *Calibrator) Len() int { return len(c.spreads) }

// Summary aggregates the collected samples.
func (c *Calibrator) Summary() (models.CalibrationSummary, error) {
	if len(c.spreads) < minCalibrationSpreads {
		return models.CalibrationSummary{Samples: len(c.spreads)},
			fmt.Errorf("%w: %d spreads, need %d", ErrInsufficientCalibration, len(c.spreads), minCalibrationSpreads)
	}

	s := models.CalibrationSummary{
		MeanSpread: window.Mean(c.spreads),
		SpreadStd:  window.StdDev(c.spreads),
		MeanDepth:  DefaultBaselineDepth,
		Samples:    len(c.spreads),
	}
	if len(c.depths) > 0 {
		s.MeanDepth = window.Mean(c.depths)
		s.DepthAvailable = true
		if s.MeanDepth > 0 {
			s.DepthCV = window.StdDev(c.depths) / s.MeanDepth
		}
	}
	if len(c.mids) > minVolatilityMids {
		changes := make([]float64, 0, len(c.mids)-1)
		for i := 1; i < len(c.mids); i++ {
			changes = append(changes, math.Abs(c.mids[i]-c.mids[i-1]))
		}
		s.Volatility = window.Mean(changes)
	}
	if len(c.mids) > 1 && c.mids[0] > 0 {
		s.PriceDrift = (c.mids[len(c.mids)-1] - c.mids[0]) / c.mids[0]
	}
	return s, nil
}

// Baseline returns the reference spread and depth for a summary, or the defaults when the
// summary is unusable.
func Baseline(s models.CalibrationSummary, err error) (spread, depth float64) {
	if err != nil || s.MeanSpread <= 0 {
		return DefaultBaselineSpread, DefaultBaselineDepth
	}
	depth = s.MeanDepth
	if depth <= 0 {
		depth = DefaultBaselineDepth
	}
	return s.MeanSpread, depth
}
