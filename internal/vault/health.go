package vault

import "math"

// RatioInfinite is the sentinel collateral ratio for a vault with no
// debt. It is never the result of a division.
const RatioInfinite int64 = math.MaxInt64

// Classify maps a collateral ratio onto a health status. Pure
// function, total over all ratio values.
//
// A ratio exactly equal to the liquidation threshold counts as
// AtRisk: liquidation eligibility is strictly below the threshold.
// The Liquidated status is not produced here; it is a stored flag set
// only by the liquidation engine when all collateral has been seized.
func Classify(ratioBps, minRatioBps, liquidationThresholdBps int64) string {
	switch {
	case ratioBps == RatioInfinite || ratioBps >= minRatioBps:
		return StatusHealthy
	case ratioBps >= liquidationThresholdBps:
		return StatusAtRisk
	default:
		return StatusLiquidatable
	}
}
