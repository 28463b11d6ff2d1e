package vault

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/vault-api/internal/assets"
	"github.com/ksred/vault-api/internal/oracle"
	"github.com/ksred/vault-api/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Config carries the engine-wide risk parameters. All values are
// basis points.
type Config struct {
	MinCollateralRatioBps   int64
	LiquidationThresholdBps int64
	LiquidationPenaltyBps   int64
}

// DefaultConfig matches the production parameters: 150% minimum
// ratio, 120% liquidation threshold, 10% liquidation penalty.
func DefaultConfig() Config {
	return Config{
		MinCollateralRatioBps:   15000,
		LiquidationThresholdBps: 12000,
		LiquidationPenaltyBps:   1000,
	}
}

// Service is the transaction validator and mutator for vault
// operations. Every operation loads the vault, prices the current and
// hypothetical post-state, applies the operation rule and commits the
// mutation atomically; failures leave the store untouched.
type Service struct {
	db       *Database
	registry *assets.Registry
	feed     oracle.PriceFeed
	valuator *Valuator
	locks    *vaultLocks
	cfg      Config

	now func() time.Time
}

// NewService creates a vault service over the given database, asset
// registry and price feed.
func NewService(gormDB *gorm.DB, registry *assets.Registry, feed oracle.PriceFeed, cfg Config) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		registry: registry,
		feed:     feed,
		valuator: NewValuator(registry, feed),
		locks:    newVaultLocks(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Config returns the engine risk parameters.
func (s *Service) Config() Config {
	return s.cfg
}

type vaultState struct {
	vault      *Vault
	collateral []CollateralPosition
	debt       []DebtPosition
}

func (s *Service) loadState(owner string) (*vaultState, error) {
	v, err := s.db.GetVault(owner)
	if err != nil {
		return nil, err
	}
	collateral, err := s.db.GetCollateralPositions(owner)
	if err != nil {
		return nil, err
	}
	debt, err := s.db.GetDebtPositions(owner)
	if err != nil {
		return nil, err
	}
	return &vaultState{vault: v, collateral: collateral, debt: debt}, nil
}

// accrue capitalizes interest on every debt position up to now.
// Callers hold the vault lock; the updated positions are persisted
// with the operation's commit.
func (s *Service) accrue(st *vaultState, now time.Time) error {
	for i := range st.debt {
		cfg, err := s.registry.Get(st.debt[i].AssetID)
		if err != nil {
			return err
		}
		accrueInterest(&st.debt[i], cfg.InterestRateBps, now)
	}
	return nil
}

func findCollateral(positions []CollateralPosition, assetID string) int {
	for i := range positions {
		if positions[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

func findDebt(positions []DebtPosition, assetID string) int {
	for i := range positions {
		if positions[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(0)) {
		return &InvalidAmountError{Amount: amount}
	}
	return nil
}

func (s *Service) refreshCached(v *Vault, val *Valuation) {
	v.TotalCollateralUSD = val.CollateralUSD
	v.TotalDebtUSD = val.DebtUSD
	if v.Liquidated {
		v.Status = StatusLiquidated
		return
	}
	v.Status = Classify(val.RatioBps, s.cfg.MinCollateralRatioBps, s.cfg.LiquidationThresholdBps)
}

// Deposit adds collateral to the owner's vault, creating the vault on
// first deposit. A deposit can only improve the ratio; it always
// succeeds for a supported asset with a fresh price.
func (s *Service) Deposit(ctx context.Context, owner, assetID string, amount decimal.Decimal) (*types.VaultSnapshot, error) {
	logger := log.With().
		Str("owner", owner).
		Str("asset_id", assetID).
		Str("service", "vault").
		Logger()

	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(assetID); err != nil {
		if errors.Is(err, assets.ErrNotSupported) {
			return nil, &UnsupportedAssetError{AssetID: assetID}
		}
		return nil, err
	}

	unlock := s.locks.lock(owner)
	defer unlock()

	st, err := s.loadState(owner)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.accrue(st, now); err != nil {
		return nil, err
	}

	if idx := findCollateral(st.collateral, assetID); idx >= 0 {
		st.collateral[idx].Amount = st.collateral[idx].Amount.Add(amount)
	} else {
		st.collateral = append(st.collateral, CollateralPosition{Owner: owner, AssetID: assetID, Amount: amount})
	}

	val, err := s.valuator.Value(ctx, st.collateral, st.debt)
	if err != nil {
		return nil, err
	}

	if st.vault == nil {
		st.vault = &Vault{Owner: owner, BadDebtUSD: decimal.Zero}
	}
	// A deposit re-enters the normal lifecycle after liquidation.
	st.vault.Liquidated = false
	s.refreshCached(st.vault, val)

	if err := s.db.CommitOperation(st.vault, st.collateral, st.debt, nil); err != nil {
		logger.Error().Err(err).Msg("failed to commit deposit")
		return nil, err
	}

	logger.Info().
		Str("amount", amount.String()).
		Str("total_collateral_usd", val.CollateralUSD.String()).
		Int64("ratio_bps", val.RatioBps).
		Str("status", st.vault.Status).
		Msg("collateral deposited")

	return s.snapshot(owner, st.vault, val, now), nil
}

// Withdraw removes collateral. The hypothetical post-state must keep
// the ratio at or above the minimum unless the vault has no debt.
func (s *Service) Withdraw(ctx context.Context, owner, assetID string, amount decimal.Decimal) (*types.VaultSnapshot, error) {
	logger := log.With().
		Str("owner", owner).
		Str("asset_id", assetID).
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

	idx := findCollateral(st.collateral, assetID)
	if idx < 0 || st.collateral[idx].Amount.LessThan(amount) {
		held := decimal.Zero
		if idx >= 0 {
			held = st.collateral[idx].Amount
		}
		return nil, &InsufficientCollateralError{
			Reason:    "position balance",
			Requested: amount,
			Available: held,
		}
	}

	st.collateral[idx].Amount = st.collateral[idx].Amount.Sub(amount)

	val, err := s.valuator.Value(ctx, st.collateral, st.debt)
	if err != nil {
		return nil, err
	}

	if !val.DebtUSD.IsZero() && val.RatioBps < s.cfg.MinCollateralRatioBps {
		return nil, &CollateralRatioError{
			HypotheticalBps: val.RatioBps,
			RequiredBps:     s.cfg.MinCollateralRatioBps,
		}
	}

	s.refreshCached(st.vault, val)

	if err := s.db.CommitOperation(st.vault, st.collateral, st.debt, nil); err != nil {
		logger.Error().Err(err).Msg("failed to commit withdrawal")
		return nil, err
	}

	logger.Info().
		Str("amount", amount.String()).
		Str("total_collateral_usd", val.CollateralUSD.String()).
		Int64("ratio_bps", val.RatioBps).
		Msg("collateral withdrawn")

	return s.snapshot(owner, st.vault, val, now), nil
}

// Borrow adds debt against the vault's collateral. The hypothetical
// post-state debt must stay within both the minimum-ratio bound and
// the per-asset LTV borrow limit.
func (s *Service) Borrow(ctx context.Context, owner, assetID string, amount decimal.Decimal) (*types.VaultSnapshot, error) {
	logger := log.With().
		Str("owner", owner).
		Str("asset_id", assetID).
		Str("service", "vault").
		Logger()

	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	cfg, err := s.registry.Get(assetID)
	if err != nil {
		if errors.Is(err, assets.ErrNotSupported) {
			return nil, &UnsupportedAssetError{AssetID: assetID}
		}
		return nil, err
	}
	if !cfg.Borrowable {
		return nil, &AssetNotBorrowableError{AssetID: assetID}
	}

	unlock := s.locks.lock(owner)
	defer unlock()

	st, err := s.loadState(owner)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.accrue(st, now); err != nil {
		return nil, err
	}

	if idx := findDebt(st.debt, assetID); idx >= 0 {
		st.debt[idx].Amount = st.debt[idx].Amount.Add(amount)
	} else {
		st.debt = append(st.debt, DebtPosition{Owner: owner, AssetID: assetID, Amount: amount, LastAccrual: now})
	}

	val, err := s.valuator.Value(ctx, st.collateral, st.debt)
	if err != nil {
		return nil, err
	}

	maxDebt := divFloor(val.CollateralUSD.Mul(bpsScale), decimal.NewFromInt(s.cfg.MinCollateralRatioBps), 18)
	if val.DebtUSD.GreaterThan(maxDebt) {
		return nil, &InsufficientCollateralError{
			Reason:          "minimum collateral ratio",
			Requested:       val.DebtUSD,
			Available:       maxDebt,
			HypotheticalBps: val.RatioBps,
			RequiredBps:     s.cfg.MinCollateralRatioBps,
		}
	}
	if val.DebtUSD.GreaterThan(val.BorrowLimitUSD) {
		return nil, &InsufficientCollateralError{
			Reason:          "ltv borrow limit",
			Requested:       val.DebtUSD,
			Available:       val.BorrowLimitUSD,
			HypotheticalBps: val.RatioBps,
			RequiredBps:     s.cfg.MinCollateralRatioBps,
		}
	}

	if st.vault == nil {
		st.vault = &Vault{Owner: owner, BadDebtUSD: decimal.Zero}
	}
	s.refreshCached(st.vault, val)

	if err := s.db.CommitOperation(st.vault, st.collateral, st.debt, nil); err != nil {
		logger.Error().Err(err).Msg("failed to commit borrow")
		return nil, err
	}

	logger.Info().
		Str("amount", amount.String()).
		Str("total_debt_usd", val.DebtUSD.String()).
		Int64("ratio_bps", val.RatioBps).
		Str("status", st.vault.Status).
		Msg("asset borrowed")

	return s.snapshot(owner, st.vault, val, now), nil
}

// Repay reduces debt. Repaying more than the outstanding amount
// (including accrued interest) is rejected, not capped.
func (s *Service) Repay(ctx context.Context, owner, assetID string, amount decimal.Decimal) (*types.VaultSnapshot, error) {
	logger := log.With().
		Str("owner", owner).
		Str("asset_id", assetID).
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

	idx := findDebt(st.debt, assetID)
	if idx < 0 {
		return nil, &InsufficientDebtError{AssetID: assetID, Requested: amount, Outstanding: decimal.Zero}
	}
	if amount.GreaterThan(st.debt[idx].Amount) {
		return nil, &InsufficientDebtError{AssetID: assetID, Requested: amount, Outstanding: st.debt[idx].Amount}
	}

	st.debt[idx].Amount = st.debt[idx].Amount.Sub(amount)

	val, err := s.valuator.Value(ctx, st.collateral, st.debt)
	if err != nil {
		return nil, err
	}

	s.refreshCached(st.vault, val)

	if err := s.db.CommitOperation(st.vault, st.collateral, st.debt, nil); err != nil {
		logger.Error().Err(err).Msg("failed to commit repayment")
		return nil, err
	}

	logger.Info().
		Str("amount", amount.String()).
		Str("total_debt_usd", val.DebtUSD.String()).
		Int64("ratio_bps", val.RatioBps).
		Msg("debt repaid")

	return s.snapshot(owner, st.vault, val, now), nil
}

// Close releases all collateral and clears the vault. Fails while any
// debt position is nonzero.
func (s *Service) Close(ctx context.Context, owner string) (*types.VaultSnapshot, error) {
	logger := log.With().
		Str("owner", owner).
		Str("service", "vault").
		Logger()

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

	var outstanding []DebtPosition
	for _, pos := range st.debt {
		if pos.Amount.IsPositive() {
			outstanding = append(outstanding, pos)
		}
	}
	if len(outstanding) > 0 {
		return nil, &OutstandingDebtError{Positions: outstanding}
	}

	// Price the held collateral before releasing it, so the caller
	// sees what was returned. A stale price fails the close like any
	// other operation.
	val, err := s.valuator.Value(ctx, st.collateral, st.debt)
	if err != nil {
		return nil, err
	}
	releasedUSD := val.CollateralUSD

	for i := range st.collateral {
		st.collateral[i].Amount = decimal.Zero
	}
	for i := range st.debt {
		st.debt[i].Amount = decimal.Zero
	}

	closed := &Valuation{
		CollateralUSD:    decimal.Zero,
		RawCollateralUSD: decimal.Zero,
		DebtUSD:          decimal.Zero,
		BorrowLimitUSD:   decimal.Zero,
		RatioBps:         RatioInfinite,
	}
	st.vault.Liquidated = false
	s.refreshCached(st.vault, closed)

	if err := s.db.CommitOperation(st.vault, st.collateral, st.debt, nil); err != nil {
		logger.Error().Err(err).Msg("failed to commit close")
		return nil, err
	}

	logger.Info().
		Str("released_usd", releasedUSD.String()).
		Msg("vault closed")

	return s.snapshot(owner, st.vault, closed, now), nil
}

// GetSnapshot returns the priced state of a vault. Unknown owners get
// an empty healthy vault rather than an error.
func (s *Service) GetSnapshot(ctx context.Context, owner string) (*types.VaultSnapshot, error) {
	unlock := s.locks.lock(owner)
	defer unlock()

	return s.snapshotLocked(ctx, owner)
}

func (s *Service) snapshotLocked(ctx context.Context, owner string) (*types.VaultSnapshot, error) {
	st, err := s.loadState(owner)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if st.vault == nil {
		empty := &Valuation{
			CollateralUSD:    decimal.Zero,
			RawCollateralUSD: decimal.Zero,
			DebtUSD:          decimal.Zero,
			BorrowLimitUSD:   decimal.Zero,
			RatioBps:         RatioInfinite,
		}
		return s.snapshot(owner, &Vault{Owner: owner, Status: StatusHealthy, BadDebtUSD: decimal.Zero}, empty, now), nil
	}

	// Interest is accrued ephemerally for the read; only mutating
	// operations persist accrual.
	if err := s.accrue(st, now); err != nil {
		return nil, err
	}
	val, err := s.valuator.Value(ctx, st.collateral, st.debt)
	if err != nil {
		return nil, err
	}
	s.refreshCached(st.vault, val)
	return s.snapshot(owner, st.vault, val, now), nil
}

// GetCollateralRatio is the lightweight health query.
func (s *Service) GetCollateralRatio(ctx context.Context, owner string) (*types.RatioView, error) {
	snap, err := s.GetSnapshot(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &types.RatioView{
		Owner:              owner,
		CollateralRatioBps: snap.CollateralRatioBps,
		RatioInfinite:      snap.RatioInfinite,
		Status:             snap.Status,
	}, nil
}

// GetAvailableToBorrow returns the USD headroom for new debt.
func (s *Service) GetAvailableToBorrow(ctx context.Context, owner string) (*types.HeadroomView, error) {
	snap, err := s.GetSnapshot(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &types.HeadroomView{Owner: owner, ValueUSD: snap.AvailableToBorrow}, nil
}

// GetAvailableToWithdraw returns the USD value withdrawable at the
// minimum ratio.
func (s *Service) GetAvailableToWithdraw(ctx context.Context, owner string) (*types.HeadroomView, error) {
	snap, err := s.GetSnapshot(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &types.HeadroomView{Owner: owner, ValueUSD: snap.AvailableToWithdraw}, nil
}

func (s *Service) snapshot(owner string, v *Vault, val *Valuation, ts time.Time) *types.VaultSnapshot {
	regVersion, err := s.registry.Version()
	if err != nil {
		regVersion = 0
	}

	snap := &types.VaultSnapshot{
		Owner:                owner,
		TotalCollateralUSD:   val.CollateralUSD,
		TotalDebtUSD:         val.DebtUSD,
		CollateralRatioBps:   val.RatioBps,
		RatioInfinite:        val.RatioBps == RatioInfinite,
		MinCollateralRatio:   s.cfg.MinCollateralRatioBps,
		LiquidationThreshold: s.cfg.LiquidationThresholdBps,
		Status:               v.Status,
		Collateral:           make([]types.PositionView, 0, len(val.Collateral)),
		Debt:                 make([]types.PositionView, 0, len(val.Debt)),
		AvailableToBorrow:    val.AvailableToBorrowUSD(s.cfg.MinCollateralRatioBps),
		AvailableToWithdraw:  val.AvailableToWithdrawUSD(s.cfg.MinCollateralRatioBps),
		BadDebtUSD:           v.BadDebtUSD,
		RegistryVersion:      regVersion,
		Timestamp:            ts,
	}
	if snap.RatioInfinite {
		snap.CollateralRatioBps = 0
	}
	for _, pos := range val.Collateral {
		snap.Collateral = append(snap.Collateral, types.PositionView{
			AssetID:  pos.AssetID,
			Amount:   pos.Amount,
			ValueUSD: pos.ValueUSD,
		})
	}
	for _, pos := range val.Debt {
		snap.Debt = append(snap.Debt, types.PositionView{
			AssetID:  pos.AssetID,
			Amount:   pos.Amount,
			ValueUSD: pos.ValueUSD,
		})
	}
	return snap
}
