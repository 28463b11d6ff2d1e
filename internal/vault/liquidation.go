package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/vault-api/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Liquidate repays part of a Liquidatable vault's debt on behalf of
// its owner and seizes collateral worth the repaid value plus the
// penalty. Eligibility is re-verified against fresh prices under the
// vault lock, so a stale view of the vault cannot trigger a seizure.
func (s *Service) Liquidate(ctx context.Context, liquidator, owner, debtAssetID string, amount decimal.Decimal) (*types.LiquidationOutcome, error) {
	logger := log.With().
		Str("owner", owner).
		Str("liquidator", liquidator).
		Str("debt_asset_id", debtAssetID).
		Str("service", "vault").
		Logger()

	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(owner)
	defer unlock()

	st, err := s.loadState(owner)
	if err != nil {
		return nil, err
	}
	if st.vault == nil {
		return nil, &VaultNotFoundError{Owner: owner}
	}
	now := s.now()
	if err := s.accrue(st, now); err != nil {
		return nil, err
	}

	val, err := s.valuator.Value(ctx, st.collateral, st.debt)
	if err != nil {
		return nil, err
	}

	status := Classify(val.RatioBps, s.cfg.MinCollateralRatioBps, s.cfg.LiquidationThresholdBps)
	if status != StatusLiquidatable {
		return nil, &VaultHealthyError{
			RatioBps:     val.RatioBps,
			ThresholdBps: s.cfg.LiquidationThresholdBps,
			Status:       status,
		}
	}

	idx := findDebt(st.debt, debtAssetID)
	if idx < 0 {
		return nil, &InsufficientDebtError{AssetID: debtAssetID, Requested: amount, Outstanding: decimal.Zero}
	}
	if amount.GreaterThan(st.debt[idx].Amount) {
		return nil, &InsufficientDebtError{AssetID: debtAssetID, Requested: amount, Outstanding: st.debt[idx].Amount}
	}

	debtPrice, err := s.valuator.price(ctx, debtAssetID, amount)
	if err != nil {
		return nil, err
	}
	repaidUSD := debtPrice.ValueUSD
	penaltyUSD := divFloor(repaidUSD.Mul(decimal.NewFromInt(s.cfg.LiquidationPenaltyBps)), bpsScale, 18)
	targetUSD := repaidUSD.Add(penaltyUSD)

	st.debt[idx].Amount = st.debt[idx].Amount.Sub(amount)

	seized, seizedUSD := seizeProportional(st.collateral, val.Collateral, targetUSD)

	// The vault's collateral could not cover the seizure target: take
	// everything, write off the rest of the debt and retire the vault.
	// Compared against the uncapped market value, since seizure
	// rounding can leave seizedUSD a hair off the target either way.
	badDebt := val.RawCollateralUSD.LessThan(targetUSD)
	writeOffUSD := decimal.Zero
	if badDebt {
		for i := range st.collateral {
			st.collateral[i].Amount = decimal.Zero
		}
		residual, err := s.valuator.Value(ctx, st.collateral, st.debt)
		if err != nil {
			return nil, err
		}
		writeOffUSD = residual.DebtUSD
		for i := range st.debt {
			st.debt[i].Amount = decimal.Zero
		}
		st.vault.Liquidated = true
		st.vault.BadDebtUSD = st.vault.BadDebtUSD.Add(writeOffUSD)
	}

	post, err := s.valuator.Value(ctx, st.collateral, st.debt)
	if err != nil {
		return nil, err
	}
	// A vault whose collateral reached zero is terminal until the
	// next deposit, whether or not debt was written off.
	if post.RawCollateralUSD.IsZero() {
		st.vault.Liquidated = true
	}
	s.refreshCached(st.vault, post)

	record, err := buildLiquidationRecord(owner, liquidator, debtAssetID, amount, repaidUSD, penaltyUSD, seizedUSD, writeOffUSD, badDebt, seized, val.Collateral, debtPrice, now)
	if err != nil {
		return nil, err
	}

	if err := s.db.CommitOperation(st.vault, st.collateral, st.debt, record); err != nil {
		logger.Error().Err(err).Msg("failed to commit liquidation")
		return nil, err
	}

	logger.Info().
		Str("liquidation_id", record.LiquidationID).
		Str("debt_repaid", amount.String()).
		Str("seized_usd", seizedUSD.String()).
		Bool("bad_debt", badDebt).
		Str("status", st.vault.Status).
		Msg("vault liquidated")

	outcome := &types.LiquidationOutcome{
		LiquidationID: record.LiquidationID,
		VaultOwner:    owner,
		Liquidator:    liquidator,
		DebtAssetID:   debtAssetID,
		DebtRepaid:    amount,
		DebtRepaidUSD: repaidUSD,
		PenaltyUSD:    penaltyUSD,
		SeizedUSD:     seizedUSD,
		Seized:        seized,
		BadDebt:       badDebt,
		WriteOffUSD:   writeOffUSD,
		VaultStatus:   st.vault.Status,
		Timestamp:     now,
	}
	return outcome, nil
}

// seizeProportional takes collateral worth targetUSD, spread across
// positions in proportion to their USD value. Positions are walked in
// ascending asset-id order (the valuation order) and any rounding
// remainder lands on the last position with value left.
func seizeProportional(collateral []CollateralPosition, priced []PricedPosition, targetUSD decimal.Decimal) ([]types.PositionView, decimal.Decimal) {
	totalUSD := decimal.Zero
	for _, pos := range priced {
		totalUSD = totalUSD.Add(pos.ValueUSD)
	}
	if totalUSD.IsZero() || !targetUSD.IsPositive() {
		return nil, decimal.Zero
	}

	// Not enough collateral to hit the target: everything goes.
	if totalUSD.LessThanOrEqual(targetUSD) {
		var seized []types.PositionView
		for _, pos := range priced {
			if !pos.Amount.IsPositive() {
				continue
			}
			seized = append(seized, types.PositionView{
				AssetID:  pos.AssetID,
				Amount:   pos.Amount,
				ValueUSD: pos.ValueUSD,
			})
			if idx := findCollateral(collateral, pos.AssetID); idx >= 0 {
				collateral[idx].Amount = decimal.Zero
			}
		}
		return seized, totalUSD
	}

	var seized []types.PositionView
	seizedUSD := decimal.Zero
	remainingUSD := targetUSD
	for i, pos := range priced {
		if !pos.Amount.IsPositive() {
			continue
		}
		var shareUSD decimal.Decimal
		if i == len(priced)-1 {
			shareUSD = remainingUSD
		} else {
			shareUSD = divFloor(targetUSD.Mul(pos.ValueUSD), totalUSD, 18)
		}
		if shareUSD.GreaterThan(pos.ValueUSD) {
			shareUSD = pos.ValueUSD
		}

		// Convert the USD share back to a native amount, rounding up
		// so the seizure never undershoots in the asset's favor.
		unitPrice := pos.Price.PriceUSD
		units := divCeil(shareUSD, unitPrice, pos.Config.Decimals)
		amount := units.Shift(pos.Config.Decimals).Ceil()
		if amount.GreaterThan(pos.Amount) {
			amount = pos.Amount
		}
		if !amount.IsPositive() {
			remainingUSD = remainingUSD.Sub(shareUSD)
			continue
		}
		valueUSD := amount.Shift(-pos.Config.Decimals).Mul(unitPrice)

		seized = append(seized, types.PositionView{
			AssetID:  pos.AssetID,
			Amount:   amount,
			ValueUSD: valueUSD,
		})
		if idx := findCollateral(collateral, pos.AssetID); idx >= 0 {
			collateral[idx].Amount = collateral[idx].Amount.Sub(amount)
		}
		seizedUSD = seizedUSD.Add(valueUSD)
		remainingUSD = remainingUSD.Sub(shareUSD)
	}
	return seized, seizedUSD
}

func buildLiquidationRecord(owner, liquidator, debtAssetID string, amount, repaidUSD, penaltyUSD, seizedUSD, writeOffUSD decimal.Decimal, badDebt bool, seized []types.PositionView, priced []PricedPosition, debtPrice PricedPosition, now time.Time) (*LiquidationRecord, error) {
	seizedJSON, err := json.Marshal(seized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal seized positions: %w", err)
	}

	prices := map[string]string{debtAssetID: debtPrice.Price.PriceUSD.String()}
	for _, pos := range priced {
		prices[pos.AssetID] = pos.Price.PriceUSD.String()
	}
	priceJSON, err := json.Marshal(prices)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal price snapshot: %w", err)
	}

	return &LiquidationRecord{
		LiquidationID: "LIQ_" + uuid.New().String(),
		VaultOwner:    owner,
		Liquidator:    liquidator,
		DebtAssetID:   debtAssetID,
		DebtRepaid:    amount,
		DebtRepaidUSD: repaidUSD,
		PenaltyUSD:    penaltyUSD,
		SeizedUSD:     seizedUSD,
		Seized:        string(seizedJSON),
		PriceSnapshot: string(priceJSON),
		BadDebt:       badDebt,
		WriteOffUSD:   writeOffUSD,
		CreatedAt:     now,
	}, nil
}

// GetLiquidations returns the liquidation history for a vault, newest
// first.
func (s *Service) GetLiquidations(owner string) ([]LiquidationRecord, error) {
	return s.db.GetLiquidations(owner)
}
