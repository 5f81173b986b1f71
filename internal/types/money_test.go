package types

import "testing"

func TestRoundMoney(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{46.125, 46.13},
		{62.525, 62.53},
		{9.226, 9.23},
		{36.904, 36.9},
		{0, 0},
		{15, 15},
	}
	for _, tc := range cases {
		if got := RoundMoney(tc.in); got != tc.want {
			t.Errorf("RoundMoney(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRoundKm(t *testing.T) {
	if got := RoundKm(12.345); got != 12.3 {
		t.Errorf("RoundKm(12.345) = %v, want 12.3", got)
	}
	if got := RoundKm(0.05); got != 0.1 {
		t.Errorf("RoundKm(0.05) = %v, want 0.1", got)
	}
}
