package scenario

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"MarketMaker/internal/domain/models"
)

func profile(id string, spread, depth, vol models.Range) *models.ScenarioProfile {
	p := DefaultProfile()
	p.ScenarioID = id
	p.DetectionSignature = &models.DetectionSignature{
		SpreadRange:     spread,
		DepthRange:      depth,
		VolatilityRange: vol,
	}
	return p
}

func packProfiles() []*models.ScenarioProfile {
	return []*models.ScenarioProfile{
		profile("stressed_market", models.Range{0.5, 2.5}, models.Range{1000, 5000}, models.Range{0.001, 0.004}),
		profile("hft_dominated", models.Range{0.05, 0.3}, models.Range{500, 3000}, models.Range{0.0003, 0.0015}),
		profile("normal_market", models.Range{0.25, 0.75}, models.Range{5000, 15000}, models.Range{0.0005, 0.002}),
		profile("flash_crash", models.Range{0.25, 1.0}, models.Range{6000, 20000}, models.Range{0.0005, 0.002}),
		profile("mini_flash_crash", models.Range{0.25, 1.0}, models.Range{4000, 15000}, models.Range{0.001, 0.004}),
	}
}

func TestCalibratorNeedsFiftySpreads(t *testing.T) {
	c := NewCalibrator(300)
	for i := 0; i < 49; i++ {
		c.Add(0.5, 1000, 100)
	}
	c.Add(-1, 0, 0)
	if _, err := c.Summary(); !errors.Is(err, ErrInsufficientCalibration) {
		t.Fatalf("expected ErrInsufficientCalibration, got %v", err)
	}
	if c.Len() != 49 {
		t.Fatalf("non-positive spread must be ignored, len=%d", c.Len())
	}
}

func TestCalibratorSummary(t *testing.T) {
	c := NewCalibrator(60)
	for i := 0; i < 60; i++ {
		c.Add(0.5, 8000, 100+float64(i)*0.5)
	}
	s, err := c.Summary()
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.MeanSpread != 0.5 || s.SpreadStd != 0 || s.MeanDepth != 8000 || !s.DepthAvailable {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if math.Abs(s.Volatility-0.5) > 1e-9 {
		t.Fatalf("volatility = %v", s.Volatility)
	}
	if want := 29.5 / 100; math.Abs(s.PriceDrift-want) > 1e-9 {
		t.Fatalf("price drift = %v want %v", s.PriceDrift, want)
	}
	if s.Samples != 60 {
		t.Fatalf("samples = %d", s.Samples)
	}
}

func TestCalibratorWithoutDepth(t *testing.T) {
	c := NewCalibrator(60)
	for i := 0; i < 60; i++ {
		c.Add(0.5, 0, 100)
	}
	s, err := c.Summary()
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.DepthAvailable || s.MeanDepth != DefaultBaselineDepth {
		t.Fatalf("expected default depth without samples, got %+v", s)
	}
}

func TestBaselineFallsBackToDefaults(t *testing.T) {
	spread, depth := Baseline(models.CalibrationSummary{}, ErrInsufficientCalibration)
	if spread != DefaultBaselineSpread || depth != DefaultBaselineDepth {
		t.Fatalf("got %v %v", spread, depth)
	}
	spread, depth = Baseline(models.CalibrationSummary{MeanSpread: 0.3, MeanDepth: 7000}, nil)
	if spread != 0.3 || depth != 7000 {
		t.Fatalf("got %v %v", spread, depth)
	}
}

func TestMatchNormalMarket(t *testing.T) {
	m := NewMatcher(packProfiles(), nil)
	s := models.CalibrationSummary{
		MeanSpread: 0.5, MeanDepth: 10000, SpreadStd: 0.1,
		Volatility: 0.001, DepthAvailable: true, Samples: 300,
	}
	res := m.Match(s)
	if res.ID != "normal_market" || res.Fallback {
		t.Fatalf("expected normal_market, got %+v", res)
	}
	if res.Scores["normal_market"] != 18 || res.Scores["flash_crash"] != 12 {
		t.Fatalf("unexpected scores: %v", res.Scores)
	}
	again := m.Match(s)
	if again.ID != res.ID || again.Score != res.Score {
		t.Fatalf("match is not deterministic: %+v vs %+v", res, again)
	}
}

func TestMatchHFT(t *testing.T) {
	m := NewMatcher(packProfiles(), nil)
	res := m.Match(models.CalibrationSummary{
		MeanSpread: 0.15, MeanDepth: 2000, SpreadStd: 0.05,
		Volatility: 0.0008, DepthAvailable: true,
	})
	if res.ID != "hft_dominated" {
		t.Fatalf("expected hft_dominated, got %s (%v)", res.ID, res.Scores)
	}
}

func TestMatchFallsBackBelowMinimum(t *testing.T) {
	m := NewMatcher([]*models.ScenarioProfile{
		profile("hft_dominated", models.Range{0.05, 0.3}, models.Range{500, 3000}, models.Range{0.0003, 0.0015}),
	}, nil)
	res := m.Match(models.CalibrationSummary{MeanSpread: 2.0, MeanDepth: 10000, Volatility: 0.01, DepthAvailable: true})
	if !res.Fallback || res.ID != DefaultProfileID || res.Profile == nil {
		t.Fatalf("expected default fallback, got %+v", res)
	}
	if res.Scores["hft_dominated"] != -5 {
		t.Fatalf("hft score = %d", res.Scores["hft_dominated"])
	}
}

func TestMatchTieGoesToFirstByName(t *testing.T) {
	sig := []models.Range{{0.25, 0.75}, {5000, 15000}, {0.0005, 0.002}}
	m := NewMatcher([]*models.ScenarioProfile{
		profile("beta", sig[0], sig[1], sig[2]),
		profile("alpha", sig[0], sig[1], sig[2]),
		profile(DefaultProfileID, sig[0], sig[1], sig[2]),
	}, nil)
	res := m.Match(models.CalibrationSummary{MeanSpread: 0.5, MeanDepth: 8000, Volatility: 0.001, DepthAvailable: true})
	if res.ID != "alpha" {
		t.Fatalf("expected alpha on a tie, got %s", res.ID)
	}
	if _, ok := res.Scores[DefaultProfileID]; ok {
		t.Fatalf("default must not be scored")
	}
	if m.Default().ScenarioID != DefaultProfileID {
		t.Fatalf("default profile from the set must become the fallback")
	}
}

func TestMatchIgnoresDepthWhenUnavailable(t *testing.T) {
	m := NewMatcher(nil, nil)
	p := profile("custom", models.Range{0.25, 0.75}, models.Range{5000, 15000}, models.Range{0.0005, 0.002})
	with := m.Score(p, models.CalibrationSummary{MeanSpread: 0.5, MeanDepth: 8000, Volatility: 0.001, DepthAvailable: true})
	without := m.Score(p, models.CalibrationSummary{MeanSpread: 0.5, MeanDepth: 8000, Volatility: 0.001})
	if with-without != 3 {
		t.Fatalf("depth weight = %d", with-without)
	}
}

const validProfileYAML = `
scenario_id: normal_market
detection_signature:
  spread_range: [0.25, 0.75]
  depth_range: [5000, 15000]
  volatility_range: [0.0005, 0.002]
base_params:
  tick_size: 0.25
  calibration_steps: 300
  inventory_warning: 2000
  inventory_danger: 3500
  inventory_critical: 4500
regime_thresholds:
  crash_spread_multiplier: 3.0
  stressed_spread_multiplier: 1.8
  hft_depth_ratio: 0.5
  crash_price_velocity: 2.0
regime_strategies:
  NORMAL: {trade_frequency: 50, order_size: 200, max_inventory: 2500, spread_capture: true, compete: true}
  HFT: {trade_frequency: 150, order_size: 100, max_inventory: 1000, spread_capture: true, compete: false}
  STRESSED: {trade_frequency: 100, order_size: 200, max_inventory: 2000, spread_capture: true, compete: true}
  CRASH: {trade_frequency: 1, order_size: 500, max_inventory: 200, spread_capture: false, compete: false, unwind_only: true}
`

func TestParseProfileAppliesDefaults(t *testing.T) {
	p, err := ParseProfile([]byte(validProfileYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.RegimeThresholds.CrashSpreadVelocity != 1.0 || p.RegimeThresholds.CrashDepthCollapse != 0.3 {
		t.Fatalf("threshold defaults not applied: %+v", p.RegimeThresholds)
	}
	if p.RegimeStrategies.HFT.AggressiveJoin == nil || !*p.RegimeStrategies.HFT.AggressiveJoin {
		t.Fatalf("aggressive_join must default to true")
	}
	if p.RegimeStrategies.HFT.Competes() {
		t.Fatalf("HFT compete=false must not compete")
	}
	if !p.RegimeStrategies.Crash.UnwindOnly {
		t.Fatalf("unwind_only lost")
	}
}

func TestParseProfileRejectsMissingKeys(t *testing.T) {
	cases := map[string]string{
		"no crash strategy": `
scenario_id: x
detection_signature: {spread_range: [0.1, 0.2], depth_range: [1, 2], volatility_range: [0.1, 0.2]}
base_params: {tick_size: 0.25, calibration_steps: 300, inventory_warning: 1, inventory_danger: 2, inventory_critical: 3}
regime_thresholds: {crash_spread_multiplier: 3, stressed_spread_multiplier: 1.8, hft_depth_ratio: 0.5, crash_price_velocity: 2}
regime_strategies:
  NORMAL: {trade_frequency: 50, order_size: 200, max_inventory: 2500, spread_capture: true, compete: true}
  HFT: {trade_frequency: 150, order_size: 100, max_inventory: 1000, spread_capture: true, compete: false}
  STRESSED: {trade_frequency: 100, order_size: 200, max_inventory: 2000, spread_capture: true, compete: true}
`,
		"no compete flag": `
scenario_id: x
detection_signature: {spread_range: [0.1, 0.2], depth_range: [1, 2], volatility_range: [0.1, 0.2]}
base_params: {tick_size: 0.25, calibration_steps: 300, inventory_warning: 1, inventory_danger: 2, inventory_critical: 3}
regime_thresholds: {crash_spread_multiplier: 3, stressed_spread_multiplier: 1.8, hft_depth_ratio: 0.5, crash_price_velocity: 2}
regime_strategies:
  NORMAL: {trade_frequency: 50, order_size: 200, max_inventory: 2500, spread_capture: true}
  HFT: {trade_frequency: 150, order_size: 100, max_inventory: 1000, spread_capture: true, compete: false}
  STRESSED: {trade_frequency: 100, order_size: 200, max_inventory: 2000, spread_capture: true, compete: true}
  CRASH: {trade_frequency: 1, order_size: 500, max_inventory: 200, spread_capture: false, compete: false}
`,
		"no signature": `
scenario_id: x
base_params: {tick_size: 0.25, calibration_steps: 300, inventory_warning: 1, inventory_danger: 2, inventory_critical: 3}
`,
		"malformed": `scenario_id: [`,
	}
	for name, doc := range cases {
		if _, err := ParseProfile([]byte(doc)); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("%s: expected ErrInvalidProfile, got %v", name, err)
		}
	}
}

func TestLoadDirKeepsValidProfiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("normal_market.yaml", validProfileYAML)
	write("broken.yml", "scenario_id: broken\n")
	write("notes.txt", "ignored")

	profiles, errs := LoadDir(dir)
	if len(profiles) != 1 || profiles[0].ScenarioID != "normal_market" {
		t.Fatalf("expected one valid profile, got %d", len(profiles))
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrInvalidProfile) {
		t.Fatalf("expected one ErrInvalidProfile, got %v", errs)
	}
}

func TestDefaultProfileIsValid(t *testing.T) {
	if err := validate.Struct(DefaultProfile()); err != nil {
		t.Fatalf("default profile invalid: %v", err)
	}
}

func TestShippedProfilesLoad(t *testing.T) {
	profiles, errs := LoadDir(filepath.Join("..", "..", "..", "configs", "profiles"))
	if len(errs) != 0 {
		t.Fatalf("profile errors: %v", errs)
	}
	want := map[string]bool{
		"default": true, "normal_market": true, "hft_dominated": true,
		"stressed_market": true, "flash_crash": true, "mini_flash_crash": true,
	}
	for _, p := range profiles {
		delete(want, p.ScenarioID)
		if p.RegimeThresholds.CrashSpreadVelocity <= 0 || !p.RegimeStrategies.Crash.UnwindOnly {
			t.Fatalf("%s: crash settings not applied: %+v", p.ScenarioID, p.RegimeThresholds)
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing profiles: %v", want)
	}

	m := NewMatcher(profiles, nil)
	if m.Default().ScenarioID != DefaultProfileID || len(m.Profiles()) != 5 {
		t.Fatalf("default = %s, scored = %d", m.Default().ScenarioID, len(m.Profiles()))
	}
}
