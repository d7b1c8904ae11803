package features

import "MarketMaker/pkg/window"

const (
	spikeRecent   = 5
	spikePrevious = 15
)

// SpikeState tracks a short-lived spread spike.
type SpikeState struct {
	Active    bool
	Remaining int
}

// tick advances the countdown by one update.
func (s *SpikeState) tick() {
	if !s.Active {
		return
	}
	s.Remaining--
	if s.Remaining <= 0 {
		s.Active = false
		s.Remaining = 0
	}
}

// evaluate compares the last 5 spreads against up to 15 before them and activates the spike
// when the ratio exceeds ratio. An active spike is never restarted.
func (s *SpikeState) evaluate(spreads *window.Window[float64], ratio float64, duration int) {
	if s.Active {
		return
	}
	tail := spreads.Tail(spikeRecent + spikePrevious)
	if len(tail) <= spikeRecent {
		return
	}
	recent := window.Mean(tail[len(tail)-spikeRecent:])
	previous := window.Mean(tail[:len(tail)-spikeRecent])
	if previous <= 0 {
		return
	}
	if recent/previous > ratio {
		s.Active = true
		s.Remaining = duration
	}
}
