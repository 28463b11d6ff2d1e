package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AmountRequest is the body shared by deposit, withdraw, borrow and
// repay operations. Amount is in the asset's smallest unit.
type AmountRequest struct {
	AssetID string          `json:"asset_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
}

// LiquidateRequest names the debt asset and amount the liquidator
// repays on behalf of the vault owner.
type LiquidateRequest struct {
	AssetID string          `json:"asset_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
}

// PositionView is a single collateral or debt position priced in USD.
type PositionView struct {
	AssetID  string          `json:"asset_id"`
	Amount   decimal.Decimal `json:"amount"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// VaultSnapshot mirrors the full vault state returned after every
// successful operation and by the snapshot query.
type VaultSnapshot struct {
	Owner                string          `json:"owner"`
	TotalCollateralUSD   decimal.Decimal `json:"total_collateral_usd"`
	TotalDebtUSD         decimal.Decimal `json:"total_debt_usd"`
	CollateralRatioBps   int64           `json:"collateral_ratio_bps"`
	RatioInfinite        bool            `json:"ratio_infinite"`
	MinCollateralRatio   int64           `json:"min_collateral_ratio_bps"`
	LiquidationThreshold int64           `json:"liquidation_threshold_bps"`
	Status               string          `json:"status"`
	Collateral           []PositionView  `json:"collateral"`
	Debt                 []PositionView  `json:"debt"`
	AvailableToBorrow    decimal.Decimal `json:"available_to_borrow_usd"`
	AvailableToWithdraw  decimal.Decimal `json:"available_to_withdraw_usd"`
	BadDebtUSD           decimal.Decimal `json:"bad_debt_usd"`
	RegistryVersion      int64           `json:"registry_version"`
	Timestamp            time.Time       `json:"timestamp"`
}

// RatioView is the lightweight health query result.
type RatioView struct {
	Owner              string `json:"owner"`
	CollateralRatioBps int64  `json:"collateral_ratio_bps"`
	RatioInfinite      bool   `json:"ratio_infinite"`
	Status             string `json:"status"`
}

// HeadroomView reports a derived borrow/withdraw capacity in USD.
type HeadroomView struct {
	Owner    string          `json:"owner"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// LiquidationOutcome is returned to the liquidator after a successful
// liquidation call.
type LiquidationOutcome struct {
	LiquidationID string          `json:"liquidation_id"`
	VaultOwner    string          `json:"vault_owner"`
	Liquidator    string          `json:"liquidator"`
	DebtAssetID   string          `json:"debt_asset_id"`
	DebtRepaid    decimal.Decimal `json:"debt_repaid"`
	DebtRepaidUSD decimal.Decimal `json:"debt_repaid_usd"`
	PenaltyUSD    decimal.Decimal `json:"penalty_usd"`
	SeizedUSD     decimal.Decimal `json:"seized_usd"`
	Seized        []PositionView  `json:"seized"`
	BadDebt       bool            `json:"bad_debt"`
	WriteOffUSD   decimal.Decimal `json:"write_off_usd"`
	VaultStatus   string          `json:"vault_status"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Statistics is the advisory system-wide rollup across all vaults.
type Statistics struct {
	TotalVaults         int             `json:"total_vaults"`
	TotalCollateralUSD  decimal.Decimal `json:"total_collateral_usd"`
	TotalDebtUSD        decimal.Decimal `json:"total_debt_usd"`
	SystemRatioBps      int64           `json:"system_ratio_bps"`
	SystemRatioInfinite bool            `json:"system_ratio_infinite"`
	HealthyVaults       int             `json:"healthy_vaults"`
	AtRiskVaults        int             `json:"at_risk_vaults"`
	LiquidatableVaults  int             `json:"liquidatable_vaults"`
	LiquidatedVaults    int             `json:"liquidated_vaults"`
	TotalBadDebtUSD     decimal.Decimal `json:"total_bad_debt_usd"`
	Timestamp           time.Time       `json:"timestamp"`
}
