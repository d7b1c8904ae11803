package pricing

import "testing"

func TestTickRounding(t *testing.T) {
	cases := []struct {
		name  string
		fn    func(float64, float64) float64
		price float64
		want  float64
	}{
		{"round down", RoundToTick, 100.10, 100.00},
		{"round up", RoundToTick, 100.13, 100.25},
		{"floor", FloorToTick, 100.24, 100.00},
		{"floor exact", FloorToTick, 100.00, 100.00},
		{"ceil", CeilToTick, 100.01, 100.25},
		{"ceil exact", CeilToTick, 100.25, 100.25},
	}
	for _, tc := range cases {
		if got := tc.fn(tc.price, 0.25); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
	if got := RoundToTick(99.99, 0); got != 99.99 {
		t.Errorf("zero tick should pass price through, got %v", got)
	}
}

func TestRoundLot(t *testing.T) {
	cases := map[float64]int{
		0:    0,
		-50:  0,
		30:   100,
		134:  100,
		160:  200,
		500:  500,
		1200: 500,
	}
	for in, want := range cases {
		if got := RoundLot(in); got != want {
			t.Errorf("RoundLot(%v) = %d want %d", in, got, want)
		}
	}
}
