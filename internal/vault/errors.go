package vault

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Error taxonomy for rejected vault operations. Every error carries
// the numeric values involved so a caller can decide how much to
// adjust the request; approximate amounts are never substituted.

// UnsupportedAssetError rejects operations on assets missing from the
// registry.
type UnsupportedAssetError struct {
	AssetID string
}

func (e *UnsupportedAssetError) Error() string {
	return fmt.Sprintf("asset not supported as collateral: %s", e.AssetID)
}

func (e *UnsupportedAssetError) Code() string { return "UNSUPPORTED_ASSET" }

func (e *UnsupportedAssetError) HTTPStatus() int { return http.StatusBadRequest }

func (e *UnsupportedAssetError) Details() interface{} {
	return map[string]interface{}{"asset_id": e.AssetID}
}

// AssetNotBorrowableError rejects borrow operations on assets that
// are collateral-only.
type AssetNotBorrowableError struct {
	AssetID string
}

func (e *AssetNotBorrowableError) Error() string {
	return fmt.Sprintf("asset not borrowable: %s", e.AssetID)
}

func (e *AssetNotBorrowableError) Code() string { return "ASSET_NOT_BORROWABLE" }

func (e *AssetNotBorrowableError) HTTPStatus() int { return http.StatusBadRequest }

func (e *AssetNotBorrowableError) Details() interface{} {
	return map[string]interface{}{"asset_id": e.AssetID}
}

// InvalidAmountError rejects zero or negative amounts.
type InvalidAmountError struct {
	Amount decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("amount must be positive: %s", e.Amount)
}

func (e *InvalidAmountError) Code() string { return "INVALID_AMOUNT" }

func (e *InvalidAmountError) HTTPStatus() int { return http.StatusBadRequest }

func (e *InvalidAmountError) Details() interface{} {
	return map[string]interface{}{"amount": e.Amount}
}

// InsufficientCollateralError rejects a borrow (or a withdraw against
// a position smaller than the requested amount) that would breach the
// minimum collateral ratio or the per-asset LTV borrow limit.
// Requested and Available are USD values for ratio/limit breaches and
// native amounts for position-balance breaches; Reason says which.
type InsufficientCollateralError struct {
	Reason          string
	Requested       decimal.Decimal
	Available       decimal.Decimal
	HypotheticalBps int64
	RequiredBps     int64
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("insufficient collateral (%s): requested %s, available %s",
		e.Reason, e.Requested, e.Available)
}

func (e *InsufficientCollateralError) Code() string { return "INSUFFICIENT_COLLATERAL" }

func (e *InsufficientCollateralError) HTTPStatus() int { return http.StatusUnprocessableEntity }

func (e *InsufficientCollateralError) Details() interface{} {
	return map[string]interface{}{
		"reason":                 e.Reason,
		"requested":              e.Requested,
		"available":              e.Available,
		"hypothetical_ratio_bps": e.HypotheticalBps,
		"required_ratio_bps":     e.RequiredBps,
	}
}

// CollateralRatioError rejects a withdraw whose hypothetical
// post-state ratio would fall below the minimum.
type CollateralRatioError struct {
	HypotheticalBps int64
	RequiredBps     int64
}

func (e *CollateralRatioError) Error() string {
	return fmt.Sprintf("collateral ratio too low: %d bps < %d bps",
		e.HypotheticalBps, e.RequiredBps)
}

func (e *CollateralRatioError) Code() string { return "COLLATERAL_RATIO_TOO_LOW" }

func (e *CollateralRatioError) HTTPStatus() int { return http.StatusUnprocessableEntity }

func (e *CollateralRatioError) Details() interface{} {
	return map[string]interface{}{
		"hypothetical_ratio_bps": e.HypotheticalBps,
		"required_ratio_bps":     e.RequiredBps,
	}
}

// InsufficientDebtError rejects a repay (or liquidation repayment)
// exceeding the outstanding debt for the asset. Excess is rejected,
// not silently capped.
type InsufficientDebtError struct {
	AssetID     string
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *InsufficientDebtError) Error() string {
	return fmt.Sprintf("repay exceeds outstanding debt for %s: %s > %s",
		e.AssetID, e.Requested, e.Outstanding)
}

func (e *InsufficientDebtError) Code() string { return "INSUFFICIENT_DEBT_BALANCE" }

func (e *InsufficientDebtError) HTTPStatus() int { return http.StatusUnprocessableEntity }

func (e *InsufficientDebtError) Details() interface{} {
	return map[string]interface{}{
		"asset_id":    e.AssetID,
		"requested":   e.Requested,
		"outstanding": e.Outstanding,
	}
}

// VaultHealthyError rejects liquidation of a vault that is not
// Liquidatable at execution time.
type VaultHealthyError struct {
	RatioBps     int64
	ThresholdBps int64
	Status       string
}

func (e *VaultHealthyError) Error() string {
	if e.RatioBps == RatioInfinite {
		return fmt.Sprintf("vault not liquidatable: no outstanding debt (status %s)", e.Status)
	}
	return fmt.Sprintf("vault not liquidatable: ratio %d bps >= threshold %d bps (status %s)",
		e.RatioBps, e.ThresholdBps, e.Status)
}

func (e *VaultHealthyError) Code() string { return "VAULT_HEALTHY" }

func (e *VaultHealthyError) HTTPStatus() int { return http.StatusConflict }

func (e *VaultHealthyError) Details() interface{} {
	return map[string]interface{}{
		"ratio_bps":     e.RatioBps,
		"threshold_bps": e.ThresholdBps,
		"status":        e.Status,
	}
}

// OutstandingDebtError rejects closing a vault that still owes debt.
type OutstandingDebtError struct {
	Positions []DebtPosition
}

func (e *OutstandingDebtError) Error() string {
	return fmt.Sprintf("vault has outstanding debt in %d position(s)", len(e.Positions))
}

func (e *OutstandingDebtError) Code() string { return "OUTSTANDING_DEBT" }

func (e *OutstandingDebtError) HTTPStatus() int { return http.StatusConflict }

func (e *OutstandingDebtError) Details() interface{} {
	details := make([]map[string]interface{}, 0, len(e.Positions))
	for _, pos := range e.Positions {
		details = append(details, map[string]interface{}{
			"asset_id": pos.AssetID,
			"amount":   pos.Amount,
		})
	}
	return map[string]interface{}{"debt": details}
}

// VaultNotFoundError reports an operation against an owner with no
// vault state.
type VaultNotFoundError struct {
	Owner string
}

func (e *VaultNotFoundError) Error() string {
	return fmt.Sprintf("vault not found for owner %s", e.Owner)
}

func (e *VaultNotFoundError) Code() string { return "NOT_FOUND" }

func (e *VaultNotFoundError) HTTPStatus() int { return http.StatusNotFound }

func (e *VaultNotFoundError) Details() interface{} {
	return map[string]interface{}{"owner": e.Owner}
}
