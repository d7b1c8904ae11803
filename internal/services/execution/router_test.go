package execution

import (
	"math"
	"testing"

	"MarketMaker/internal/domain/models"
	"MarketMaker/internal/services/risk"
	"MarketMaker/internal/services/scenario"
)

const tick = 0.25

func newTestRouter() (*Router, *risk.Manager) {
	rm := risk.NewManager(risk.Limits{Warning: 2000, Danger: 3500, Critical: 4500}, tick)
	return NewRouter(rm, scenario.DefaultProfile().RegimeStrategies, tick), rm
}

func snap(step int64, bid, ask float64) *models.MarketSnapshot {
	return &models.MarketSnapshot{Step: step, Bid: bid, Ask: ask, BidSize: 1000, AskSize: 1000}
}

func TestRouterSuppressesInvalidAndCalibrating(t *testing.T) {
	r, _ := newTestRouter()
	if _, ok := r.Decide(models.RegimeCalibrating, snap(50, 100, 100.25), 4900, 0, models.TierEmergency); ok {
		t.Fatalf("calibrating must not trade")
	}
	if _, ok := r.Decide(models.RegimeNormal, snap(50, 100.25, 100), 0, 0, models.TierNormal); ok {
		t.Fatalf("crossed book must not trade")
	}
}

func TestRouterNearLimitOverridesDeadMarket(t *testing.T) {
	r, _ := newTestRouter()
	got, ok := r.Decide(models.RegimeNormal, snap(7, 100, 100), 4800, 0, models.TierEmergency)
	if !ok || !got.Emergency || got.Side != models.SideSell || got.Price != 100 || got.Qty != 500 {
		t.Fatalf("expected emergency SELL 500 @ 100, got %+v ok=%v", got, ok)
	}
}

func TestRouterDeadMarket(t *testing.T) {
	r, _ := newTestRouter()
	if _, ok := r.Decide(models.RegimeNormal, snap(50, 100, 100.005), 0, 0, models.TierNormal); ok {
		t.Fatalf("near-zero spread must not trade")
	}
	thin := &models.MarketSnapshot{Step: 50, Bid: 100, Ask: 100.25, BidSize: 50, AskSize: 50}
	if _, ok := r.Decide(models.RegimeNormal, thin, 0, 0, models.TierNormal); ok {
		t.Fatalf("depth below floor must not trade")
	}
	if _, ok := r.Decide(models.RegimeNormal, thin, 4600, 0, models.TierEmergency); ok {
		t.Fatalf("dead market suppresses the tier-based unwind")
	}
}

func TestRouterEmergencyTier(t *testing.T) {
	r, _ := newTestRouter()
	got, ok := r.Decide(models.RegimeStressed, snap(3, 100, 100.25), -4600, 0, models.TierEmergency)
	if !ok || !got.Emergency || got.Side != models.SideBuy || got.Price != 100.25 {
		t.Fatalf("expected emergency BUY @ ask, got %+v", got)
	}
}

func TestNormalPolicy(t *testing.T) {
	r, _ := newTestRouter()
	cases := []struct {
		name  string
		s     *models.MarketSnapshot
		inv   int
		tier  models.RiskTier
		ok    bool
		side  models.Side
		price float64
		qty   int
	}{
		{"off frequency", snap(51, 100, 100.25), 0, models.TierNormal, false, "", 0, 0},
		{"odd cycle sells", snap(50, 100, 100.25), 0, models.TierNormal, true, models.SideSell, 100.25, 200},
		{"even cycle buys", snap(100, 100, 100.25), 0, models.TierNormal, true, models.SideBuy, 100, 200},
		{"wide spread improves", snap(100, 100, 101), 0, models.TierNormal, true, models.SideBuy, 100.25, 200},
		{"long reduces", snap(100, 100, 100.25), 500, models.TierNormal, true, models.SideSell, 100.25, 200},
		{"large long shrinks size", snap(100, 100, 100.25), 1300, models.TierNormal, true, models.SideSell, 100.25, 100},
		{"short reduces", snap(50, 100, 100.25), -500, models.TierNormal, true, models.SideBuy, 100, 200},
		{"unwind only ignores frequency", snap(7, 100, 100.25), 3600, models.TierUnwindOnly, true, models.SideSell, 100.25, 200},
	}
	for _, tc := range cases {
		got, ok := r.Decide(models.RegimeNormal, tc.s, tc.inv, 0, tc.tier)
		if ok != tc.ok {
			t.Errorf("%s: ok=%v want %v", tc.name, ok, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if got.Side != tc.side || got.Price != tc.price || got.Qty != tc.qty || got.Emergency {
			t.Errorf("%s: got %+v", tc.name, got)
		}
	}
}

func TestHFTPolicyJoinsWithoutCompeting(t *testing.T) {
	r, _ := newTestRouter()
	got, ok := r.Decide(models.RegimeHFT, snap(150, 100, 101), 400, 0, models.TierNormal)
	if !ok || got.Side != models.SideSell || got.Price != 101 || got.Qty != 100 {
		t.Fatalf("expected SELL 100 @ ask, got %+v", got)
	}
	if _, ok := r.Decide(models.RegimeHFT, snap(149, 100, 101), 0, 0, models.TierNormal); ok {
		t.Fatalf("hft must respect its frequency")
	}
}

func TestStressedPolicyStaysPassive(t *testing.T) {
	r, _ := newTestRouter()
	// ask + skew lands below the bid, so the guard pulls it back above the bid
	got, ok := r.Decide(models.RegimeStressed, snap(100, 100, 100.25), 1500, 0, models.TierNormal)
	if !ok || got.Side != models.SideSell || got.Price != 100.25 {
		t.Fatalf("expected passive SELL @ 100.25, got %+v", got)
	}
	if _, ok := r.Decide(models.RegimeStressed, snap(100, 100, 100.25), 0, 0, models.TierNormal); ok {
		t.Fatalf("flat stressed book without short bias must not trade")
	}
	got, ok = r.Decide(models.RegimeStressed, snap(33, 100, 100.25), -3600, 0, models.TierUnwindOnly)
	if !ok || got.Side != models.SideBuy || got.Price >= 100.25 {
		t.Fatalf("expected passive BUY unwind, got %+v", got)
	}
}

func TestCrashPolicyUsedForSpike(t *testing.T) {
	r, _ := newTestRouter()
	if _, ok := r.Decide(models.RegimeSpike, snap(5, 100, 100.25), 100, 0, models.TierNormal); ok {
		t.Fatalf("crash policy stays flat under its allowance")
	}
	got, ok := r.Decide(models.RegimeSpike, snap(5, 100, 100.25), 300, 0, models.TierNormal)
	if !ok || got.Emergency || got.Side != models.SideSell || got.Price != 100.25 || got.Qty != 300 {
		t.Fatalf("expected passive SELL 300 @ ask, got %+v", got)
	}
}

func TestNonEmergencyIntentsNeverCross(t *testing.T) {
	r, rm := newTestRouter()
	regimes := []models.Regime{models.RegimeNormal, models.RegimeHFT, models.RegimeStressed, models.RegimeCrash, models.RegimeSpike}
	spreads := []float64{0.25, 0.5, 1.25}
	for _, regime := range regimes {
		for inv := -4000; inv <= 4000; inv += 250 {
			for step := int64(0); step <= 300; step += 3 {
				for _, sp := range spreads {
					s := snap(step, 100, 100+sp)
					got, ok := r.Decide(regime, s, inv, 0, rm.Tier(inv))
					if !ok {
						continue
					}
					if got.Qty < 100 || got.Qty > 500 || got.Qty%100 != 0 {
						t.Fatalf("%s inv=%d step=%d: bad qty %d", regime, inv, step, got.Qty)
					}
					if n := got.Price / tick; math.Abs(n-math.Round(n)) > 1e-9 {
						t.Fatalf("%s inv=%d step=%d: price %v off tick", regime, inv, step, got.Price)
					}
					if got.Emergency {
						continue
					}
					if got.Side == models.SideBuy && got.Price >= s.Ask {
						t.Fatalf("%s inv=%d step=%d: BUY %v crosses ask %v", regime, inv, step, got.Price, s.Ask)
					}
					if got.Side == models.SideSell && got.Price <= s.Bid {
						t.Fatalf("%s inv=%d step=%d: SELL %v crosses bid %v", regime, inv, step, got.Price, s.Bid)
					}
				}
			}
		}
	}
}

func TestReduceOnlyIntentsCountRestingQty(t *testing.T) {
	r, _ := newTestRouter()
	cases := []struct {
		name    string
		regime  models.Regime
		s       *models.MarketSnapshot
		inv     int
		resting int
		tier    models.RiskTier
		want    int
	}{
		{"crash nothing resting", models.RegimeCrash, snap(5, 100, 100.25), 300, 0, models.TierNormal, 300},
		{"crash partly covered", models.RegimeCrash, snap(5, 100, 100.25), 300, 100, models.TierNormal, 200},
		{"crash fully covered", models.RegimeCrash, snap(5, 100, 100.25), 300, 300, models.TierNormal, 0},
		{"crash less than a lot left", models.RegimeCrash, snap(5, 100, 100.25), 300, 250, models.TierNormal, 0},
		{"normal unwind covered", models.RegimeNormal, snap(7, 100, 100.25), 2600, 2600, models.TierUnwindOnly, 0},
		{"normal unwind partly covered", models.RegimeNormal, snap(7, 100, 100.25), -2600, 2400, models.TierUnwindOnly, 200},
		{"stressed reduce covered", models.RegimeStressed, snap(100, 100, 100.25), 1500, 1500, models.TierNormal, 0},
	}
	for _, tc := range cases {
		got, ok := r.Decide(tc.regime, tc.s, tc.inv, tc.resting, tc.tier)
		if tc.want == 0 {
			if ok {
				t.Fatalf("%s: expected no order, got %+v", tc.name, got)
			}
			continue
		}
		if !ok || got.Qty != tc.want || !got.ReduceOnly {
			t.Fatalf("%s: expected reduce-only qty %d, got %+v ok=%v", tc.name, tc.want, got, ok)
		}
	}
}

func TestRestingQtyDoesNotLimitQuotes(t *testing.T) {
	r, _ := newTestRouter()
	got, ok := r.Decide(models.RegimeHFT, snap(150, 100, 101), 400, 5000, models.TierNormal)
	if !ok || got.ReduceOnly || got.Qty != 100 {
		t.Fatalf("expected regular hft quote, got %+v ok=%v", got, ok)
	}
}

func TestIntentsCarryTheirTouch(t *testing.T) {
	r, _ := newTestRouter()
	got, ok := r.Decide(models.RegimeStressed, snap(33, 100, 102), 3000, 0, models.TierUnwindOnly)
	if !ok || got.Side != models.SideSell || got.Anchor != 102 {
		t.Fatalf("expected SELL anchored at the ask, got %+v ok=%v", got, ok)
	}
	if got.Price >= got.Anchor {
		t.Fatalf("long unwind should be skewed below the ask, got %+v", got)
	}
	got, ok = r.Decide(models.RegimeNormal, snap(7, 100, 100), 4800, 0, models.TierEmergency)
	if !ok || got.Anchor != 100 {
		t.Fatalf("expected emergency anchored at the ask, got %+v", got)
	}
}
