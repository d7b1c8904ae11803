package regime

import (
	"fmt"

	"MarketMaker/internal/domain/models"
	"MarketMaker/internal/services/features"
)

// CusumResetter is notified when a regime change is confirmed.
type CusumResetter interface {
	ResetCusum()
}

// Input is everything the classifier consumes for one step.
type Input struct {
	Step        int64
	Spread      float64
	TotalDepth  float64
	Features    features.Features
	Signal      features.Signal
	SpikeActive bool
	Baseline    features.Baseline
}

// Decision is the classifier output for one step.
type Decision struct {
	Regime   models.Regime `json:"regime"`
	Previous models.Regime `json:"previous"`
	Instant  models.Regime `json:"instant"`
	Changed  bool          `json:"changed"`
	Reason   string        `json:"reason"`
}

// State is the hysteresis state of the classifier.
type State struct {
	Current       models.Regime `json:"current"`
	Pending       models.Regime `json:"pending,omitempty"`
	PendingCount  int           `json:"pending_count"`
	Cooldown      int           `json:"cooldown"`
	StepsInRegime int64         `json:"steps_in_regime"`
	Transitions   int64         `json:"transitions"`
}

// Option configures a Classifier.
type Option func(*Config)

// Config holds the classifier tunables.
type Config struct {
	CalibrationSteps    int64
	Cooldown            int
	Persistence         int
	ExitCrashPersist    int
	ExitStressedPersist int
	DeadSpread          float64
	DeadDepth           float64
	ShortWindow         int
	Thresholds          models.RegimeThresholds
}

// WithCalibrationSteps sets the length of the CALIBRATING phase.
func WithCalibrationSteps(n int64) Option {
	return func(c *Config) {
		if n >= 0 {
			c.CalibrationSteps = n
		}
	}
}

// WithCooldown sets the quiet period after a confirmed change.
func WithCooldown(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.Cooldown = n
		}
	}
}

// WithPersistence sets the default, exit-CRASH and STRESSED->NORMAL confirmation lengths.
func WithPersistence(base, exitCrash, exitStressed int) Option {
	return func(c *Config) {
		if base > 0 {
			c.Persistence = base
		}
		if exitCrash > 0 {
			c.ExitCrashPersist = exitCrash
		}
		if exitStressed > 0 {
			c.ExitStressedPersist = exitStressed
		}
	}
}

// WithDeadMarket sets the dead-market guard floors.
func WithDeadMarket(spread, depth float64) Option {
	return func(c *Config) {
		c.DeadSpread = spread
		c.DeadDepth = depth
	}
}

// WithThresholds sets the profile thresholds.
func WithThresholds(t models.RegimeThresholds) Option {
	return func(c *Config) { c.Thresholds = t }
}

// WithShortWindow sets the short window length used to scale the price velocity threshold.
func WithShortWindow(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ShortWindow = n
		}
	}
}

// Classifier turns features into a confirmed regime. All regime transitions happen here.
type Classifier struct {
	cfg      Config
	state    State
	resetter CusumResetter
}

// New creates a classifier starting in CALIBRATING.
func New(resetter CusumResetter, opts ...Option) *Classifier {
	cfg := Config{
		CalibrationSteps:    300,
		Cooldown:            50,
		Persistence:         15,
		ExitCrashPersist:    20,
		ExitStressedPersist: 20,
		DeadSpread:          0.01,
		DeadDepth:           200,
		ShortWindow:         10,
		Thresholds: models.RegimeThresholds{
			CrashSpreadMultiplier:    3.0,
			StressedSpreadMultiplier: 1.8,
			HFTDepthRatio:            0.5,
			CrashPriceVelocity:       2.0,
			CrashSpreadVelocity:      1.0,
			CrashDepthCollapse:       0.3,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Classifier{
		cfg:      cfg,
		state:    State{Current: models.RegimeCalibrating},
		resetter: resetter,
	}
}

// Reconfigure swaps the thresholds after scenario selection. Hysteresis state is kept.
func (c *Classifier) Reconfigure(t models.RegimeThresholds) {
	c.cfg.Thresholds = t
}

// State returns a copy of the hysteresis state.
func (c *Classifier) State() State { return c.state }

// Current returns the confirmed regime.
func (c *Classifier) Current() models.Regime { return c.state.Current }

// Step classifies one observation and applies hysteresis.
func (c *Classifier) Step(in Input) Decision {
	prev := c.state.Current
	d := Decision{Regime: prev, Previous: prev, Instant: prev}

	if in.Step < c.cfg.CalibrationSteps {
		c.state.Current = models.RegimeCalibrating
		c.state.StepsInRegime++
		d.Regime, d.Instant = models.RegimeCalibrating, models.RegimeCalibrating
		d.Reason = "calibrating"
		return d
	}
	if prev == models.RegimeCalibrating {
		c.force(models.RegimeNormal)
		d.Regime, d.Instant, d.Changed = models.RegimeNormal, models.RegimeNormal, true
		d.Reason = "calibration complete"
		return d
	}

	if in.Spread <= c.cfg.DeadSpread && in.TotalDepth < c.cfg.DeadDepth {
		d.Reason = "dead market"
		return d
	}

	switch {
	case in.SpikeActive && c.state.Current == models.RegimeNormal:
		c.force(models.RegimeSpike)
		d.Regime, d.Instant, d.Changed = models.RegimeSpike, models.RegimeSpike, true
		d.Reason = "spread spike"
		return d
	case c.state.Current == models.RegimeSpike:
		if !in.SpikeActive {
			c.force(models.RegimeNormal)
			d.Regime, d.Instant, d.Changed = models.RegimeNormal, models.RegimeNormal, true
			d.Reason = "spike cleared"
		}
		return d
	}

	instant, reason := c.Instant(in)
	d.Instant = instant
	if c.apply(instant) {
		d.Changed = true
		d.Reason = reason
	}
	d.Regime = c.state.Current
	return d
}

// Instant applies the instantaneous rules in priority order and returns the first match.
func (c *Classifier) Instant(in Input) (models.Regime, string) {
	t := c.cfg.Thresholds
	f := in.Features
	base := in.Baseline
	spread := in.Spread
	depth := in.TotalDepth

	crashSpread := base.Set && base.Spread > 0 && spread > base.Spread*t.CrashSpreadMultiplier

	if in.Signal == features.SignalStressUp {
		if crashSpread {
			return models.RegimeCrash, "cusum stress with crash spread"
		}
		return models.RegimeStressed, "cusum stress"
	}
	if f.SpreadVelocity > t.CrashSpreadVelocity {
		return models.RegimeCrash, fmt.Sprintf("spread velocity %.2f", f.SpreadVelocity)
	}
	if f.SpreadAcceleration > 2.0 {
		return models.RegimeCrash, fmt.Sprintf("spread acceleration %.2f", f.SpreadAcceleration)
	}
	if f.DepthCollapseRatio < t.CrashDepthCollapse {
		return models.RegimeCrash, fmt.Sprintf("depth collapse %.2f", f.DepthCollapseRatio)
	}
	if spread > 5.0 || crashSpread || f.Short.PriceVelocity > t.CrashPriceVelocity/float64(c.cfg.ShortWindow) {
		return models.RegimeCrash, "crash spread or price velocity"
	}

	hftDepth := base.Set && base.Depth > 0 && depth < base.Depth*t.HFTDepthRatio
	if (depth < 500 && spread < 0.3) || (hftDepth && spread < 0.3) || (f.Short.DepthMean < 300 && spread < 0.25) {
		return models.RegimeHFT, "thin depth with tight spread"
	}

	if spread > 2.5 || (base.Set && base.Spread > 0 && f.Medium.SpreadMean > base.Spread*t.StressedSpreadMultiplier) {
		return models.RegimeStressed, "wide spread"
	}
	return models.RegimeNormal, "normal"
}

// apply runs the cooldown and persistence gate and reports whether the regime changed.
func (c *Classifier) apply(instant models.Regime) bool {
	s := &c.state
	s.StepsInRegime++

	if s.Cooldown > 0 {
		s.Cooldown--
		c.clearPending()
		return false
	}
	if instant == s.Current {
		c.clearPending()
		return false
	}
	if instant == s.Pending {
		s.PendingCount++
	} else {
		s.Pending = instant
		s.PendingCount = 1
	}
	if s.PendingCount < c.required(s.Current, instant) {
		return false
	}

	s.Current = instant
	s.StepsInRegime = 0
	s.Cooldown = c.cfg.Cooldown
	s.Transitions++
	c.clearPending()
	if c.resetter != nil {
		c.resetter.ResetCusum()
	}
	return true
}

func (c *Classifier) required(from, to models.Regime) int {
	switch {
	case from == models.RegimeCrash:
		return c.cfg.ExitCrashPersist
	case from == models.RegimeStressed && to == models.RegimeNormal:
		return c.cfg.ExitStressedPersist
	default:
		return c.cfg.Persistence
	}
}

// force sets the regime without the hysteresis gate.
func (c *Classifier) force(r models.Regime) {
	if c.state.Current != r {
		c.state.Transitions++
	}
	c.state.Current = r
	c.state.StepsInRegime = 0
	c.clearPending()
}

func (c *Classifier) clearPending() {
	c.state.Pending = ""
	c.state.PendingCount = 0
}

// SetState overrides the hysteresis state, used when restoring a session.
func (c *Classifier) SetState(s State) { c.state = s }
