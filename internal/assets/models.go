package assets

import (
	"gorm.io/gorm"
)

// AssetConfig is the admin-set configuration for one supported
// collateral asset. All ratio fields are basis points (10000 = 100%).
type AssetConfig struct {
	gorm.Model              `json:"-"`
	AssetID                 string `gorm:"uniqueIndex" json:"asset_id"`
	Symbol                  string `json:"symbol"`
	Name                    string `json:"name"`
	Decimals                int32  `json:"decimals"`
	LTVRatioBps             int64  `json:"ltv_ratio_bps"`
	LiquidationThresholdBps int64  `json:"liquidation_threshold_bps"`
	InterestRateBps         int64  `json:"interest_rate_bps"`
	MaxWeightBps            int64  `json:"max_weight_bps"`
	Borrowable              bool   `json:"borrowable"`
}

// RegistryMeta is a single-row table carrying the registry version.
// The version increments on every admin change so that readers can
// tell which configuration a valuation was priced against.
type RegistryMeta struct {
	gorm.Model `json:"-"`
	Version    int64 `json:"version"`
}
