// README: Money and distance rounding shared by the fee and incentive engines.
package types

import "math"

// Currency is the settlement currency for every amount in the system.
const Currency = "GHS"

// RoundMoney rounds to 2 decimals, half away from zero.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundKm rounds a distance to 1 decimal for display.
func RoundKm(v float64) float64 {
	return math.Round(v*10) / 10
}
