package vault

import (
	"context"
	"errors"
	"sort"

	"github.com/ksred/vault-api/internal/assets"
	"github.com/ksred/vault-api/internal/oracle"
	"github.com/shopspring/decimal"
)

var (
	bpsScale = decimal.NewFromInt(10000)
)

// PricedPosition is one position with its USD valuation attached.
type PricedPosition struct {
	AssetID  string
	Amount   decimal.Decimal
	ValueUSD decimal.Decimal
	// CappedUSD is the position's contribution to borrowing power
	// after the per-asset max-weight cap. Collateral only.
	CappedUSD decimal.Decimal
	Config    *assets.AssetConfig
	Price     oracle.Quote
}

// Valuation is the priced view of a vault's positions.
type Valuation struct {
	CollateralUSD    decimal.Decimal // sum of capped contributions
	RawCollateralUSD decimal.Decimal // sum before max-weight caps
	DebtUSD          decimal.Decimal
	RatioBps         int64 // RatioInfinite when DebtUSD is zero
	Collateral       []PricedPosition
	Debt             []PricedPosition
	// BorrowLimitUSD is the per-asset LTV cap: the most total debt
	// the current collateral mix supports.
	BorrowLimitUSD decimal.Decimal
}

// Valuator converts raw positions into USD values using the price
// feed and the asset registry.
type Valuator struct {
	registry *assets.Registry
	feed     oracle.PriceFeed
}

// NewValuator creates a valuation engine over the given registry and
// price feed.
func NewValuator(registry *assets.Registry, feed oracle.PriceFeed) *Valuator {
	return &Valuator{registry: registry, feed: feed}
}

// Value prices the given positions. Positions are processed in
// ascending asset-id order so results are reproducible. Any missing
// or stale price fails the whole valuation.
func (v *Valuator) Value(ctx context.Context, collateral []CollateralPosition, debt []DebtPosition) (*Valuation, error) {
	val := &Valuation{
		CollateralUSD:    decimal.Zero,
		RawCollateralUSD: decimal.Zero,
		DebtUSD:          decimal.Zero,
		BorrowLimitUSD:   decimal.Zero,
	}

	sorted := make([]CollateralPosition, len(collateral))
	copy(sorted, collateral)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AssetID < sorted[j].AssetID })

	for _, pos := range sorted {
		if pos.Amount.IsZero() {
			continue
		}
		priced, err := v.price(ctx, pos.AssetID, pos.Amount)
		if err != nil {
			return nil, err
		}
		val.RawCollateralUSD = val.RawCollateralUSD.Add(priced.ValueUSD)
		val.Collateral = append(val.Collateral, priced)
	}

	// Cap each asset's contribution at max_weight_bps of the pre-cap
	// total, so one asset cannot dominate borrowing power.
	for i := range val.Collateral {
		pos := &val.Collateral[i]
		pos.CappedUSD = pos.ValueUSD
		if pos.Config.MaxWeightBps < 10000 && val.RawCollateralUSD.IsPositive() {
			cap := divFloor(val.RawCollateralUSD.Mul(decimal.NewFromInt(pos.Config.MaxWeightBps)), bpsScale, 18)
			if pos.CappedUSD.GreaterThan(cap) {
				pos.CappedUSD = cap
			}
		}
		val.CollateralUSD = val.CollateralUSD.Add(pos.CappedUSD)
		ltv := divFloor(pos.CappedUSD.Mul(decimal.NewFromInt(pos.Config.LTVRatioBps)), bpsScale, 18)
		val.BorrowLimitUSD = val.BorrowLimitUSD.Add(ltv)
	}

	sortedDebt := make([]DebtPosition, len(debt))
	copy(sortedDebt, debt)
	sort.Slice(sortedDebt, func(i, j int) bool { return sortedDebt[i].AssetID < sortedDebt[j].AssetID })

	for _, pos := range sortedDebt {
		if pos.Amount.IsZero() {
			continue
		}
		priced, err := v.price(ctx, pos.AssetID, pos.Amount)
		if err != nil {
			return nil, err
		}
		val.DebtUSD = val.DebtUSD.Add(priced.ValueUSD)
		val.Debt = append(val.Debt, priced)
	}

	val.RatioBps = RatioBps(val.CollateralUSD, val.DebtUSD)

	return val, nil
}

func (v *Valuator) price(ctx context.Context, assetID string, amount decimal.Decimal) (PricedPosition, error) {
	cfg, err := v.registry.Get(assetID)
	if err != nil {
		if errors.Is(err, assets.ErrNotSupported) {
			return PricedPosition{}, &UnsupportedAssetError{AssetID: assetID}
		}
		return PricedPosition{}, err
	}

	quote, err := v.feed.GetPrice(ctx, assetID)
	if err != nil {
		return PricedPosition{}, err
	}

	// amount is in the asset's smallest unit; scale to whole units
	// before applying the per-unit USD price.
	value := amount.Shift(-cfg.Decimals).Mul(quote.PriceUSD)

	return PricedPosition{
		AssetID:  assetID,
		Amount:   amount,
		ValueUSD: value,
		Config:   cfg,
		Price:    quote,
	}, nil
}

// RatioBps computes the collateral ratio in basis points by exact
// integer (floor) division. Zero debt yields RatioInfinite.
func RatioBps(collateralUSD, debtUSD decimal.Decimal) int64 {
	if debtUSD.IsZero() {
		return RatioInfinite
	}
	q, _ := collateralUSD.Mul(bpsScale).QuoRem(debtUSD, 0)
	return q.IntPart()
}

// AvailableToBorrowUSD is the largest additional debt that keeps the
// vault at or above the minimum ratio and inside the LTV borrow limit.
func (val *Valuation) AvailableToBorrowUSD(minRatioBps int64) decimal.Decimal {
	maxByRatio := divFloor(val.CollateralUSD.Mul(bpsScale), decimal.NewFromInt(minRatioBps), 18)
	maxDebt := maxByRatio
	if val.BorrowLimitUSD.LessThan(maxDebt) {
		maxDebt = val.BorrowLimitUSD
	}
	headroom := maxDebt.Sub(val.DebtUSD)
	if headroom.IsNegative() {
		return decimal.Zero
	}
	return headroom
}

// AvailableToWithdrawUSD is the largest collateral value that can
// leave the vault while holding the ratio at the minimum. With zero
// debt the whole collateral value is withdrawable.
func (val *Valuation) AvailableToWithdrawUSD(minRatioBps int64) decimal.Decimal {
	if val.DebtUSD.IsZero() {
		return val.CollateralUSD
	}
	required := divCeil(val.DebtUSD.Mul(decimal.NewFromInt(minRatioBps)), bpsScale, 18)
	if required.GreaterThanOrEqual(val.CollateralUSD) {
		return decimal.Zero
	}
	return val.CollateralUSD.Sub(required)
}

// divFloor computes a/b rounded toward zero at the given number of
// decimal places. All engine values are non-negative, so truncation
// is a floor.
func divFloor(a, b decimal.Decimal, places int32) decimal.Decimal {
	q, _ := a.QuoRem(b, places)
	return q
}

// divCeil computes a/b rounded up at the given number of decimal
// places.
func divCeil(a, b decimal.Decimal, places int32) decimal.Decimal {
	q, r := a.QuoRem(b, places)
	if r.IsZero() {
		return q
	}
	step := decimal.New(1, -places)
	return q.Add(step)
}
