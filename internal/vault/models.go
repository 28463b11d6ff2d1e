package vault

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Vault status values
const (
	StatusHealthy      = "Healthy"
	StatusAtRisk       = "AtRisk"
	StatusLiquidatable = "Liquidatable"
	StatusLiquidated   = "Liquidated"
)

// Vault is the per-owner record. The USD totals and status are cached
// presentation fields, recomputed from positions and live prices
// before every decision; they are never the source of truth.
type Vault struct {
	gorm.Model         `json:"-"`
	Owner              string          `gorm:"uniqueIndex" json:"owner"`
	TotalCollateralUSD decimal.Decimal `gorm:"type:decimal(64,18)" json:"total_collateral_usd"`
	TotalDebtUSD       decimal.Decimal `gorm:"type:decimal(64,18)" json:"total_debt_usd"`
	Status             string          `json:"status"`
	Liquidated         bool            `json:"liquidated"`
	BadDebtUSD         decimal.Decimal `gorm:"type:decimal(64,18)" json:"bad_debt_usd"`
}

// CollateralPosition holds one asset's deposited amount for a vault,
// in the asset's native smallest unit. Created on first deposit,
// removed when the amount reaches zero.
type CollateralPosition struct {
	gorm.Model `json:"-"`
	Owner      string          `gorm:"index:idx_collateral_owner_asset,unique" json:"owner"`
	AssetID    string          `gorm:"index:idx_collateral_owner_asset,unique" json:"asset_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(64,0)" json:"amount"`
}

// DebtPosition holds one asset's borrowed amount for a vault,
// including interest capitalized by lazy accrual. Created on first
// borrow, removed when fully repaid.
type DebtPosition struct {
	gorm.Model  `json:"-"`
	Owner       string          `gorm:"index:idx_debt_owner_asset,unique" json:"owner"`
	AssetID     string          `gorm:"index:idx_debt_owner_asset,unique" json:"asset_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(64,0)" json:"amount"`
	LastAccrual time.Time       `json:"last_accrual"`
}

// LiquidationRecord is the append-only log entry for one liquidation
// event. Immutable once written.
type LiquidationRecord struct {
	gorm.Model    `json:"-"`
	LiquidationID string          `gorm:"uniqueIndex" json:"liquidation_id"`
	VaultOwner    string          `gorm:"index" json:"vault_owner"`
	Liquidator    string          `json:"liquidator"`
	DebtAssetID   string          `json:"debt_asset_id"`
	DebtRepaid    decimal.Decimal `gorm:"type:decimal(64,0)" json:"debt_repaid"`
	DebtRepaidUSD decimal.Decimal `gorm:"type:decimal(64,18)" json:"debt_repaid_usd"`
	PenaltyUSD    decimal.Decimal `gorm:"type:decimal(64,18)" json:"penalty_usd"`
	SeizedUSD     decimal.Decimal `gorm:"type:decimal(64,18)" json:"seized_usd"`
	Seized        string          `json:"seized"`         // JSON array of seized positions
	PriceSnapshot string          `json:"price_snapshot"` // JSON map asset_id -> price used
	BadDebt       bool            `json:"bad_debt"`
	WriteOffUSD   decimal.Decimal `gorm:"type:decimal(64,18)" json:"write_off_usd"`
	CreatedAt     time.Time       `json:"created_at"`
}
