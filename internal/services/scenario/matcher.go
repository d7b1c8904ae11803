package scenario

import (
	"math"
	"sort"

	"MarketMaker/internal/domain/models"
)

// DefaultProfileID names the fallback profile. It never takes part in scoring.
const DefaultProfileID = "default"

// Weights are the base scoring weights of the signature match.
type Weights struct {
	SpreadIn   int
	SpreadBand int
	DepthIn    int
	DepthBand  int
	VolIn      int
	VolBand    int
	MinScore   int
}

// DefaultWeights returns the standard weights with a minimum score of 3.
func DefaultWeights() Weights {
	return Weights{
		SpreadIn:   5,
		SpreadBand: 2,
		DepthIn:    3,
		DepthBand:  1,
		VolIn:      2,
		VolBand:    1,
		MinScore:   3,
	}
}

// Adjustment adds a profile-specific score on top of the signature match.
type Adjustment func(s models.CalibrationSummary) int

// adjustments holds the scenario-specific scoring rules, keyed by profile id.
var adjustments = map[string]Adjustment{
	"stressed_market":  stressedAdjustment,
	"hft_dominated":    hftAdjustment,
	"normal_market":    normalAdjustment,
	"flash_crash":      flashCrashAdjustment,
	"mini_flash_crash": miniFlashCrashAdjustment,
}

func stressedAdjustment(s models.CalibrationSummary) int {
	score := 0
	if s.MeanSpread < 0.25 {
		score -= 4
	}
	if s.DepthAvailable && s.MeanDepth > 8000 {
		score -= 3
	}
	switch {
	case s.PriceDrift < -0.0005:
		score += 3
	case s.PriceDrift < 0:
		score += 2
	}
	if s.DepthAvailable && s.MeanDepth < 4000 {
		score += 3
	}
	if s.Volatility > 0.0012 {
		score += 2
	}
	if s.MeanSpread >= 0.3 && s.MeanSpread <= 2.0 {
		score += 2
	}
	if s.DepthCV > 0.4 {
		score += 2
	}
	return score
}

func hftAdjustment(s models.CalibrationSummary) int {
	score := 0
	switch {
	case s.MeanSpread < 0.3 && s.MeanDepth < 3000:
		score += 6
	case s.MeanSpread < 0.2:
		score += 3
	}
	switch {
	case s.MeanSpread > 0.5:
		score -= 5
	case s.MeanSpread > 0.3:
		score -= 2
	}
	return score
}

func normalAdjustment(s models.CalibrationSummary) int {
	score := 0
	moderate := s.MeanSpread >= 0.25 && s.MeanSpread <= 0.75
	deep := s.DepthAvailable && s.MeanDepth > 5000
	switch {
	case moderate && deep:
		score += 5
	case moderate:
		score += 4
	case deep:
		score += 2
	}
	if math.Abs(s.PriceDrift) < 0.0003 {
		score += 2
	}
	if s.SpreadCV() < 0.5 {
		score++
	}
	if s.PriceDrift < -0.0005 {
		score -= 5
	}
	return score
}

func flashCrashAdjustment(s models.CalibrationSummary) int {
	score := 0
	if s.SpreadCV() > 0.6 {
		score += 2
	}
	if s.PriceDrift < -0.0005 {
		score -= 4
	}
	if s.DepthAvailable && s.MeanDepth > 8000 {
		score += 2
	}
	return score
}

func miniFlashCrashAdjustment(s models.CalibrationSummary) int {
	score := 0
	if s.SpreadCV() > 0.5 && s.Volatility > 0.001 {
		score += 2
	}
	if s.PriceDrift < -0.0005 {
		score -= 3
	}
	return score
}

// Result is the outcome of a match.
type Result struct {
	Profile  *models.ScenarioProfile `json:"-"`
	ID       string                  `json:"scenario_id"`
	Score    int                     `json:"score"`
	Scores   map[string]int          `json:"scores"`
	Fallback bool                    `json:"fallback"`
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithWeights overrides the scoring weights.
func WithWeights(w Weights) MatcherOption {
	return func(m *Matcher) { m.weights = w }
}

// Matcher scores calibration summaries against the loaded profiles.
type Matcher struct {
	profiles []*models.ScenarioProfile
	fallback *models.ScenarioProfile
	weights  Weights
}

// NewMatcher creates a matcher. Profiles are scored in id order; the one named "default" is
// used only as fallback and replaces fallback when present.
func NewMatcher(profiles []*models.ScenarioProfile, fallback *models.ScenarioProfile, opts ...MatcherOption) *Matcher {
	m := &Matcher{fallback: fallback, weights: DefaultWeights()}
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if p.ScenarioID == DefaultProfileID {
			m.fallback = p
			continue
		}
		m.profiles = append(m.profiles, p)
	}
	if m.fallback == nil {
		m.fallback = DefaultProfile()
	}
	sort.Slice(m.profiles, func(i, j int) bool {
		return m.profiles[i].ScenarioID < m.profiles[j].ScenarioID
	})
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Default returns the fallback profile.
func (m *Matcher) Default() *models.ScenarioProfile { return m.fallback }

// Profiles returns the scored profiles in matching order.
func (m *Matcher) Profiles() []*models.ScenarioProfile { return m.profiles }

// Match returns the best-scoring profile. Ties go to the first profile in id order.
func (m *Matcher) Match(s models.CalibrationSummary) Result {
	res := Result{Scores: make(map[string]int, len(m.profiles))}
	best := math.MinInt
	var bestProfile *models.ScenarioProfile

	for _, p := range m.profiles {
		score := m.Score(p, s)
		res.Scores[p.ScenarioID] = score
		if score > best {
			best = score
			bestProfile = p
		}
	}

	if bestProfile == nil || best < m.weights.MinScore {
		res.Profile = m.fallback
		res.ID = m.fallback.ScenarioID
		res.Fallback = true
		if bestProfile != nil {
			res.Score = best
		}
		return res
	}
	res.Profile = bestProfile
	res.ID = bestProfile.ScenarioID
	res.Score = best
	return res
}

// Score computes the match score of one profile.
func (m *Matcher) Score(p *models.ScenarioProfile, s models.CalibrationSummary) int {
	w := m.weights
	sig := p.DetectionSignature
	score := 0
	if sig != nil {
		switch {
		case sig.SpreadRange.Contains(s.MeanSpread):
			score += w.SpreadIn
		case sig.SpreadRange.WithinBand(s.MeanSpread, 0.7, 1.3):
			score += w.SpreadBand
		}
		if s.DepthAvailable {
			switch {
			case sig.DepthRange.Contains(s.MeanDepth):
				score += w.DepthIn
			case sig.DepthRange.WithinBand(s.MeanDepth, 0.5, 1.5):
				score += w.DepthBand
			}
		}
		switch {
		case sig.VolatilityRange.Contains(s.Volatility):
			score += w.VolIn
		case sig.VolatilityRange.WithinBand(s.Volatility, 0.5, 2.0):
			score += w.VolBand
		}
	}
	if adj, ok := adjustments[p.ScenarioID]; ok {
		score += adj(s)
	}
	return score
}
