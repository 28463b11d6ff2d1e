package vault

import (
	"context"

	"github.com/ksred/vault-api/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// GetStatistics aggregates a system-wide view across every vault. The
// rollup is advisory: each vault is revalued with current prices where
// possible, and vaults whose assets cannot be priced fall back to
// their last committed totals.
func (s *Service) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	logger := log.With().
		Str("service", "vault").
		Logger()

	vaults, err := s.db.ListVaults()
	if err != nil {
		return nil, err
	}

	now := s.now()
	stats := &types.Statistics{
		TotalCollateralUSD: decimal.Zero,
		TotalDebtUSD:       decimal.Zero,
		TotalBadDebtUSD:    decimal.Zero,
		Timestamp:          now,
	}

	for _, v := range vaults {
		collateralUSD := v.TotalCollateralUSD
		debtUSD := v.TotalDebtUSD
		status := v.Status

		collateral, err := s.db.GetCollateralPositions(v.Owner)
		if err != nil {
			return nil, err
		}
		debt, err := s.db.GetDebtPositions(v.Owner)
		if err != nil {
			return nil, err
		}
		st := &vaultState{vault: &v, collateral: collateral, debt: debt}
		if err := s.accrue(st, now); err == nil {
			if val, verr := s.valuator.Value(ctx, st.collateral, st.debt); verr == nil {
				collateralUSD = val.CollateralUSD
				debtUSD = val.DebtUSD
				if v.Liquidated {
					status = StatusLiquidated
				} else {
					status = Classify(val.RatioBps, s.cfg.MinCollateralRatioBps, s.cfg.LiquidationThresholdBps)
				}
			} else {
				logger.Warn().
					Err(verr).
					Str("owner", v.Owner).
					Msg("revaluation failed, using cached totals")
			}
		}

		stats.TotalVaults++
		stats.TotalCollateralUSD = stats.TotalCollateralUSD.Add(collateralUSD)
		stats.TotalDebtUSD = stats.TotalDebtUSD.Add(debtUSD)
		stats.TotalBadDebtUSD = stats.TotalBadDebtUSD.Add(v.BadDebtUSD)

		switch status {
		case StatusHealthy:
			stats.HealthyVaults++
		case StatusAtRisk:
			stats.AtRiskVaults++
		case StatusLiquidatable:
			stats.LiquidatableVaults++
		case StatusLiquidated:
			stats.LiquidatedVaults++
		}
	}

	ratio := RatioBps(stats.TotalCollateralUSD, stats.TotalDebtUSD)
	if ratio == RatioInfinite {
		stats.SystemRatioInfinite = true
	} else {
		stats.SystemRatioBps = ratio
	}

	return stats, nil
}
