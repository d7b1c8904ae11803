package features

import (
	"math"

	"MarketMaker/pkg/window"
)

// Timeframe names one of the rolling windows.
type Timeframe int

const (
	Short Timeframe = iota
	Medium
	Long
)

func (t Timeframe) String() string {
	switch t {
	case Short:
		return "short"
	case Medium:
		return "medium"
	default:
		return "long"
	}
}

// Timeframes lists the windows in ascending length.
var Timeframes = []Timeframe{Short, Medium, Long}

// Baseline is the reference spread and depth captured when calibration ends.
type Baseline struct {
	Spread float64 `json:"spread"`
	Depth  float64 `json:"depth"`
	Set    bool    `json:"set"`
}

// TimeframeStats are the statistics of one window.
type TimeframeStats struct {
	SpreadMean    float64
	SpreadStd     float64
	SpreadMax     float64
	SpreadMin     float64
	DepthMean     float64
	DepthStd      float64
	DepthMin      float64
	PriceChange   float64
	Volatility    float64
	PriceVelocity float64
}

// Features is the output of one extraction.
type Features struct {
	Short  TimeframeStats
	Medium TimeframeStats
	Long   TimeframeStats

	SpreadVelocity     float64
	DepthCollapseRatio float64
	SpreadAcceleration float64

	CurrentSpread    float64
	CurrentDepth     float64
	CurrentMid       float64
	CurrentImbalance float64
}

// Stats returns the stats of a timeframe.
func (f *Features) Stats(tf Timeframe) TimeframeStats {
	switch tf {
	case Short:
		return f.Short
	case Medium:
		return f.Medium
	default:
		return f.Long
	}
}

// Map flattens the features for logs and journals.
func (f *Features) Map() map[string]float64 {
	m := map[string]float64{
		"spread_velocity":      f.SpreadVelocity,
		"depth_collapse_ratio": f.DepthCollapseRatio,
		"spread_acceleration":  f.SpreadAcceleration,
		"current_spread":       f.CurrentSpread,
		"current_depth":        f.CurrentDepth,
		"current_imbalance":    f.CurrentImbalance,
	}
	for _, tf := range Timeframes {
		s := f.Stats(tf)
		p := tf.String() + "_"
		m[p+"spread_mean"] = s.SpreadMean
		m[p+"spread_std"] = s.SpreadStd
		m[p+"depth_mean"] = s.DepthMean
		m[p+"volatility"] = s.Volatility
		m[p+"price_velocity"] = s.PriceVelocity
	}
	return m
}

type series struct {
	windows [3]*window.Window[float64]
}

func newSeries(sizes [3]int) *series {
	s := &series{}
	for i, n := range sizes {
		s.windows[i] = window.New[float64](n)
	}
	return s
}

func (s *series) push(v float64) {
	for _, w := range s.windows {
		w.Push(v)
	}
}

func (s *series) get(tf Timeframe) *window.Window[float64] { return s.windows[tf] }

// ExtractorOption configures an Extractor.
type ExtractorOption func(*ExtractorConfig)

// ExtractorConfig holds extractor tunables.
type ExtractorConfig struct {
	Sizes          [3]int
	CusumSlack     float64
	CusumThreshold float64
	SpikeRatio     float64
	SpikeDuration  int
}

// WithWindowSizes sets the short, medium and long window capacities.
func WithWindowSizes(short, medium, long int) ExtractorOption {
	return func(c *ExtractorConfig) {
		if short > 0 && medium >= short && long >= medium {
			c.Sizes = [3]int{short, medium, long}
		}
	}
}

// WithCusum sets CUSUM slack and threshold.
func WithCusum(slack, threshold float64) ExtractorOption {
	return func(c *ExtractorConfig) {
		if slack >= 0 && threshold > 0 {
			c.CusumSlack = slack
			c.CusumThreshold = threshold
		}
	}
}

// WithSpike sets the spike ratio and its duration in updates.
func WithSpike(ratio float64, duration int) ExtractorOption {
	return func(c *ExtractorConfig) {
		if ratio > 1 && duration > 0 {
			c.SpikeRatio = ratio
			c.SpikeDuration = duration
		}
	}
}

// Extractor maintains the rolling windows and derives multi-timeframe features.
// It is owned by a single control flow and is not safe for concurrent use.
type Extractor struct {
	cfg ExtractorConfig

	spread    *series
	depth     *series
	mid       *series
	imbalance *series

	cusum    CusumState
	spike    SpikeState
	baseline Baseline

	current struct {
		spread, depth, mid, imbalance float64
	}
}

// NewExtractor creates an extractor with 10/100/500 windows by default.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	cfg := ExtractorConfig{
		Sizes:          [3]int{10, 100, 500},
		CusumSlack:     0.5,
		CusumThreshold: 3.0,
		SpikeRatio:     1.5,
		SpikeDuration:  4,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Extractor{
		cfg:       cfg,
		spread:    newSeries(cfg.Sizes),
		depth:     newSeries(cfg.Sizes),
		mid:       newSeries(cfg.Sizes),
		imbalance: newSeries(cfg.Sizes),
		cusum:     CusumState{Slack: cfg.CusumSlack, Threshold: cfg.CusumThreshold},
	}
}

// Update appends one observation. Non-positive or NaN values are skipped per series.
func (e *Extractor) Update(spread, depth, mid, imbalance float64) {
	if valid(spread) {
		e.spread.push(spread)
		e.current.spread = spread
	}
	if valid(depth) {
		e.depth.push(depth)
		e.current.depth = depth
	}
	if valid(mid) {
		e.mid.push(mid)
		e.current.mid = mid
	}
	if !math.IsNaN(imbalance) && !math.IsInf(imbalance, 0) {
		e.imbalance.push(imbalance)
		e.current.imbalance = imbalance
	}
	e.spike.tick()
}

func valid(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Extract computes features from the current windows.
func (e *Extractor) Extract() Features {
	f := Features{
		Short:              e.timeframe(Short),
		Medium:             e.timeframe(Medium),
		Long:               e.timeframe(Long),
		SpreadVelocity:     e.spreadVelocity(),
		DepthCollapseRatio: 1.0,
		SpreadAcceleration: 1.0,
		CurrentSpread:      e.current.spread,
		CurrentDepth:       e.current.depth,
		CurrentMid:         e.current.mid,
		CurrentImbalance:   e.current.imbalance,
	}
	if e.baseline.Set && e.baseline.Depth > 0 {
		f.DepthCollapseRatio = f.Medium.DepthMean / e.baseline.Depth
	}
	if f.Long.SpreadMean > 0 {
		f.SpreadAcceleration = f.Short.SpreadMean / f.Long.SpreadMean
	}
	return f
}

func (e *Extractor) timeframe(tf Timeframe) TimeframeStats {
	st := TimeframeStats{
		SpreadMean: e.current.spread,
		SpreadMax:  e.current.spread,
		SpreadMin:  e.current.spread,
		DepthMean:  e.current.depth,
		DepthMin:   e.current.depth,
	}

	if w := e.spread.get(tf); w.Full() {
		xs := w.Values()
		st.SpreadMean = window.Mean(xs)
		st.SpreadStd = window.StdDev(xs)
		st.SpreadMin, st.SpreadMax = window.MinMax(xs)
	}
	if w := e.depth.get(tf); w.Full() {
		xs := w.Values()
		st.DepthMean = window.Mean(xs)
		st.DepthStd = window.StdDev(xs)
		st.DepthMin, _ = window.MinMax(xs)
	}
	if w := e.mid.get(tf); w.Full() {
		xs := w.Values()
		st.PriceChange = xs[len(xs)-1] - xs[0]
		st.Volatility = window.StdDev(xs)
		st.PriceVelocity = math.Abs(st.PriceChange) / float64(len(xs))
	}
	return st
}

// spreadVelocity is the relative change between the last 5 spread samples and the 5 before.
func (e *Extractor) spreadVelocity() float64 {
	tail := e.spread.get(Medium).Tail(10)
	if len(tail) < 10 {
		return 0
	}
	prev := window.Mean(tail[:5])
	if prev <= 0 {
		return 0
	}
	return (window.Mean(tail[5:]) - prev) / prev
}

// CusumDetect runs one CUSUM step for value against baseline.
func (e *Extractor) CusumDetect(value, baseline float64) Signal {
	return e.cusum.Detect(value, baseline)
}

// ResetCusum zeroes the CUSUM accumulators.
func (e *Extractor) ResetCusum() { e.cusum.Reset() }

// Cusum returns a copy of the CUSUM state.
func (e *Extractor) Cusum() CusumState { return e.cusum }

// DetectSpike evaluates the spike condition and reports whether a spike is active.
func (e *Extractor) DetectSpike() (bool, int) {
	e.spike.evaluate(e.spread.get(Medium), e.cfg.SpikeRatio, e.cfg.SpikeDuration)
	return e.spike.Active, e.spike.Remaining
}

// IsSpike reports whether a spike is active without evaluating.
func (e *Extractor) IsSpike() bool { return e.spike.Active }

// SetBaseline fixes the reference spread and depth.
func (e *Extractor) SetBaseline(spread, depth float64) {
	e.baseline = Baseline{Spread: spread, Depth: depth, Set: true}
}

// Baseline returns the current baseline.
func (e *Extractor) Baseline() Baseline { return e.baseline }

// Samples returns how many spread observations the long window holds.
func (e *Extractor) Samples() int { return e.spread.get(Long).Len() }
