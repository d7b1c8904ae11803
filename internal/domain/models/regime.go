package models

import "fmt"

// Regime is a discrete market-condition classification.
type Regime string

const (
	RegimeCalibrating Regime = "CALIBRATING"
	RegimeNormal      Regime = "NORMAL"
	RegimeHFT         Regime = "HFT"
	RegimeStressed    Regime = "STRESSED"
	RegimeCrash       Regime = "CRASH"
	RegimeSpike       Regime = "SPIKE"
)

// Regimes lists every regime in a fixed order.
var Regimes = []Regime{RegimeCalibrating, RegimeNormal, RegimeHFT, RegimeStressed, RegimeCrash, RegimeSpike}

// RiskTier is the inventory urgency level.
type RiskTier int

const (
	TierNormal RiskTier = iota
	TierUnwindBias
	TierUnwindOnly
	TierEmergency
)

func (t RiskTier) String() string {
	switch t {
	case TierNormal:
		return "NORMAL"
	case TierUnwindBias:
		return "UNWIND_BIAS"
	case TierUnwindOnly:
		return "UNWIND_ONLY"
	case TierEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the tier name in JSON payloads.
func (t RiskTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name written by MarshalText.
func (t *RiskTier) UnmarshalText(b []byte) error {
	for _, c := range []RiskTier{TierNormal, TierUnwindBias, TierUnwindOnly, TierEmergency} {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown risk tier %q", b)
}
