package models

// Range is a closed [lo, hi] interval loaded as a two-element list.
type Range []float64

// Lo returns the lower bound.
func (r Range) Lo() float64 {
	if len(r) == 0 {
		return 0
	}
	return r[0]
}

// Hi returns the upper bound.
func (r Range) Hi() float64 {
	if len(r) < 2 {
		return r.Lo()
	}
	return r[1]
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Lo() && v <= r.Hi()
}

// WithinBand reports whether v lies inside [lo*loMul, hi*hiMul].
func (r Range) WithinBand(v, loMul, hiMul float64) bool {
	return v >= r.Lo()*loMul && v <= r.Hi()*hiMul
}

// ScenarioProfile is a named parameter bundle selected after calibration.
type ScenarioProfile struct {
	ScenarioID         string              `yaml:"scenario_id" json:"scenario_id" validate:"required"`
	Description        string              `yaml:"description" json:"description,omitempty"`
	DetectionSignature *DetectionSignature `yaml:"detection_signature" json:"detection_signature" validate:"required"`
	BaseParams         *BaseParams         `yaml:"base_params" json:"base_params" validate:"required"`
	RegimeThresholds   *RegimeThresholds   `yaml:"regime_thresholds" json:"regime_thresholds" validate:"required"`
	RegimeStrategies   *RegimeStrategies   `yaml:"regime_strategies" json:"regime_strategies" validate:"required"`
}

// DetectionSignature holds the calibration ranges used for matching.
type DetectionSignature struct {
	SpreadRange     Range `yaml:"spread_range" json:"spread_range" validate:"required,len=2"`
	DepthRange      Range `yaml:"depth_range" json:"depth_range" validate:"required,len=2"`
	VolatilityRange Range `yaml:"volatility_range" json:"volatility_range" validate:"required,len=2"`
}

// BaseParams are session-wide parameters.
type BaseParams struct {
	TickSize          float64 `yaml:"tick_size" json:"tick_size" validate:"required,gt=0"`
	CalibrationSteps  int64   `yaml:"calibration_steps" json:"calibration_steps" validate:"required,gt=0"`
	InventoryWarning  int     `yaml:"inventory_warning" json:"inventory_warning" validate:"required,gt=0,ltfield=InventoryDanger"`
	InventoryDanger   int     `yaml:"inventory_danger" json:"inventory_danger" validate:"required,gt=0,ltfield=InventoryCritical"`
	InventoryCritical int     `yaml:"inventory_critical" json:"inventory_critical" validate:"required,gt=0"`
}

// RegimeThresholds parameterize the instantaneous classifier rules.
type RegimeThresholds struct {
	CrashSpreadMultiplier    float64 `yaml:"crash_spread_multiplier" json:"crash_spread_multiplier" validate:"required,gt=0"`
	StressedSpreadMultiplier float64 `yaml:"stressed_spread_multiplier" json:"stressed_spread_multiplier" validate:"required,gt=0"`
	HFTDepthRatio            float64 `yaml:"hft_depth_ratio" json:"hft_depth_ratio" validate:"required,gt=0"`
	CrashPriceVelocity       float64 `yaml:"crash_price_velocity" json:"crash_price_velocity" validate:"required,gt=0"`
	CrashSpreadVelocity      float64 `yaml:"crash_spread_velocity" json:"crash_spread_velocity" default:"1.0" validate:"gt=0"`
	CrashDepthCollapse       float64 `yaml:"crash_depth_collapse" json:"crash_depth_collapse" default:"0.3" validate:"gt=0,lt=1"`
}

// StrategyParams configure the execution policy of one regime.
type StrategyParams struct {
	TradeFrequency int64 `yaml:"trade_frequency" json:"trade_frequency" validate:"required,gt=0"`
	OrderSize      int   `yaml:"order_size" json:"order_size" validate:"required,gte=100,lte=500"`
	MaxInventory   int   `yaml:"max_inventory" json:"max_inventory" validate:"required,gt=0"`
	SpreadCapture  *bool `yaml:"spread_capture" json:"spread_capture" validate:"required"`
	Compete        *bool `yaml:"compete" json:"compete" validate:"required"`
	AggressiveJoin *bool `yaml:"aggressive_join" json:"aggressive_join" default:"true"`
	UnwindOnly     bool  `yaml:"unwind_only" json:"unwind_only"`
	ShortBias      bool  `yaml:"short_bias" json:"short_bias"`
}

// Competes reports whether the policy may improve the touch.
func (p *StrategyParams) Competes() bool {
	return deref(p.Compete) && deref(p.AggressiveJoin)
}

// CapturesSpread reports whether the policy quotes for spread capture.
func (p *StrategyParams) CapturesSpread() bool {
	return deref(p.SpreadCapture)
}

func deref(b *bool) bool {
	return b != nil && *b
}

// RegimeStrategies is the per-regime strategy table.
type RegimeStrategies struct {
	Normal   *StrategyParams `yaml:"NORMAL" json:"NORMAL" validate:"required"`
	HFT      *StrategyParams `yaml:"HFT" json:"HFT" validate:"required"`
	Stressed *StrategyParams `yaml:"STRESSED" json:"STRESSED" validate:"required"`
	Crash    *StrategyParams `yaml:"CRASH" json:"CRASH" validate:"required"`
}

// For returns the parameters used for a regime. SPIKE borrows CRASH.
func (s *RegimeStrategies) For(r Regime) *StrategyParams {
	switch r {
	case RegimeHFT:
		return s.HFT
	case RegimeStressed:
		return s.Stressed
	case RegimeCrash, RegimeSpike:
		return s.Crash
	default:
		return s.Normal
	}
}

// Bool returns a pointer to v, for building profiles in code.
func Bool(v bool) *bool { return &v }
