package regime

import (
	"testing"

	"MarketMaker/internal/domain/models"
	"MarketMaker/internal/services/features"
)

type countingResetter struct{ n int }

func (r *countingResetter) ResetCusum() { r.n++ }

func input(step int64, spread, depth float64) Input {
	f := features.Features{DepthCollapseRatio: 1, SpreadAcceleration: 1}
	f.Short.DepthMean = depth
	f.Medium.SpreadMean = spread
	return Input{Step: step, Spread: spread, TotalDepth: depth, Features: f}
}

func started(t *testing.T, opts ...Option) (*Classifier, *countingResetter) {
	t.Helper()
	r := &countingResetter{}
	c := New(r, append([]Option{WithCalibrationSteps(0)}, opts...)...)
	if d := c.Step(input(0, 1.0, 5000)); d.Regime != models.RegimeNormal || !d.Changed {
		t.Fatalf("expected NORMAL after calibration, got %+v", d)
	}
	return c, r
}

func TestCalibrationThenNormal(t *testing.T) {
	c := New(nil, WithCalibrationSteps(3))
	for step := int64(0); step < 3; step++ {
		if d := c.Step(input(step, 3.0, 5000)); d.Regime != models.RegimeCalibrating {
			t.Fatalf("step %d: expected CALIBRATING, got %s", step, d.Regime)
		}
	}
	d := c.Step(input(3, 3.0, 5000))
	if d.Regime != models.RegimeNormal || !d.Changed || d.Previous != models.RegimeCalibrating {
		t.Fatalf("expected forced NORMAL on the first post-calibration step, got %+v", d)
	}
}

func TestShortStressDoesNotChangeRegime(t *testing.T) {
	c, r := started(t)
	for i := int64(1); i <= 10; i++ {
		if d := c.Step(input(i, 3.0, 5000)); d.Changed {
			t.Fatalf("step %d changed regime too early", i)
		}
	}
	d := c.Step(input(11, 1.0, 5000))
	if d.Regime != models.RegimeNormal || d.Changed {
		t.Fatalf("expected NORMAL unchanged, got %+v", d)
	}
	if s := c.State(); s.PendingCount != 0 {
		t.Fatalf("pending must clear when instant matches current, got %d", s.PendingCount)
	}
	if r.n != 0 {
		t.Fatalf("cusum must not reset without a transition")
	}
}

func TestPersistenceConfirmsThenCooldownBlocks(t *testing.T) {
	c, r := started(t)
	step := int64(1)
	for i := 1; i <= 15; i++ {
		d := c.Step(input(step, 3.0, 5000))
		step++
		if i < 15 && d.Changed {
			t.Fatalf("changed after %d steps", i)
		}
		if i == 15 && (!d.Changed || d.Regime != models.RegimeStressed) {
			t.Fatalf("expected STRESSED on the 15th step, got %+v", d)
		}
	}
	if r.n != 1 {
		t.Fatalf("expected one cusum reset, got %d", r.n)
	}
	if s := c.State(); s.Cooldown != 50 || s.StepsInRegime != 0 {
		t.Fatalf("unexpected state after confirmation: %+v", s)
	}

	for i := 0; i < 50; i++ {
		if d := c.Step(input(step, 1.0, 5000)); d.Changed || d.Regime != models.RegimeStressed {
			t.Fatalf("cooldown step %d allowed a change: %+v", i, d)
		}
		step++
	}
	for i := 1; i <= 20; i++ {
		d := c.Step(input(step, 1.0, 5000))
		step++
		if i < 20 && d.Changed {
			t.Fatalf("STRESSED->NORMAL confirmed after only %d steps", i)
		}
		if i == 20 && d.Regime != models.RegimeNormal {
			t.Fatalf("expected NORMAL after 20 steps, got %s", d.Regime)
		}
	}
}

func TestExitCrashNeedsTwentySteps(t *testing.T) {
	c, _ := started(t, WithCooldown(0))
	step := int64(1)
	for i := 0; i < 15; i++ {
		c.Step(input(step, 6.0, 5000))
		step++
	}
	if c.Current() != models.RegimeCrash {
		t.Fatalf("expected CRASH, got %s", c.Current())
	}
	for i := 1; i <= 20; i++ {
		d := c.Step(input(step, 1.0, 5000))
		step++
		if i == 19 && d.Regime != models.RegimeCrash {
			t.Fatalf("left CRASH after 19 steps")
		}
		if i == 20 && d.Regime != models.RegimeNormal {
			t.Fatalf("expected NORMAL after 20 steps, got %s", d.Regime)
		}
	}
}

func TestDeadMarketLeavesStateUntouched(t *testing.T) {
	c, _ := started(t)
	for i := int64(1); i <= 5; i++ {
		c.Step(input(i, 3.0, 5000))
	}
	before := c.State()
	d := c.Step(input(6, 0.01, 100))
	if d.Changed || d.Regime != models.RegimeNormal {
		t.Fatalf("dead tick changed regime: %+v", d)
	}
	if after := c.State(); after != before {
		t.Fatalf("dead tick mutated state: %+v -> %+v", before, after)
	}
}

func TestSpikePreemptsOnlyFromNormal(t *testing.T) {
	c, _ := started(t)
	in := input(1, 1.0, 5000)
	in.SpikeActive = true
	if d := c.Step(in); d.Regime != models.RegimeSpike || !d.Changed {
		t.Fatalf("expected immediate SPIKE, got %+v", d)
	}
	in.Step = 2
	if d := c.Step(in); d.Regime != models.RegimeSpike || d.Changed {
		t.Fatalf("expected SPIKE to hold, got %+v", d)
	}
	in.Step, in.SpikeActive = 3, false
	if d := c.Step(in); d.Regime != models.RegimeNormal || !d.Changed {
		t.Fatalf("expected NORMAL after the spike cleared, got %+v", d)
	}

	c2, _ := started(t, WithCooldown(0))
	for i := int64(1); i <= 15; i++ {
		c2.Step(input(i, 3.0, 5000))
	}
	in = input(16, 3.0, 5000)
	in.SpikeActive = true
	if d := c2.Step(in); d.Regime != models.RegimeStressed {
		t.Fatalf("spike must not pre-empt STRESSED, got %s", d.Regime)
	}
}

func TestInstantRulePriority(t *testing.T) {
	c := New(nil)
	base := features.Baseline{Spread: 1.0, Depth: 4000, Set: true}

	cases := []struct {
		name string
		mod  func(in *Input)
		want models.Regime
	}{
		{"cusum with crash spread", func(in *Input) { in.Signal = features.SignalStressUp; in.Spread = 3.5 }, models.RegimeCrash},
		{"cusum alone", func(in *Input) { in.Signal = features.SignalStressUp; in.Spread = 2.0 }, models.RegimeStressed},
		{"spread velocity", func(in *Input) { in.Features.SpreadVelocity = 1.5 }, models.RegimeCrash},
		{"acceleration", func(in *Input) { in.Features.SpreadAcceleration = 2.5 }, models.RegimeCrash},
		{"depth collapse", func(in *Input) { in.Features.DepthCollapseRatio = 0.2 }, models.RegimeCrash},
		{"price velocity", func(in *Input) { in.Features.Short.PriceVelocity = 0.25 }, models.RegimeCrash},
		{"thin book", func(in *Input) { in.Spread = 0.2; in.TotalDepth = 400 }, models.RegimeHFT},
		{"depth under baseline ratio", func(in *Input) { in.Spread = 0.2; in.TotalDepth = 1500 }, models.RegimeHFT},
		{"medium spread over baseline", func(in *Input) { in.Features.Medium.SpreadMean = 2.0 }, models.RegimeStressed},
		{"quiet", func(in *Input) {}, models.RegimeNormal},
	}
	for _, tc := range cases {
		in := input(400, 1.0, 5000)
		in.Baseline = base
		tc.mod(&in)
		if got, _ := c.Instant(in); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}
