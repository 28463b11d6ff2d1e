package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ksred/vault-api/internal/oracle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeposit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("first deposit creates the vault", func(t *testing.T) {
		snap, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
		require.NoError(t, err)

		assert.True(t, snap.TotalCollateralUSD.Equal(usd(20000)), snap.TotalCollateralUSD.String())
		assert.True(t, snap.TotalDebtUSD.IsZero())
		assert.True(t, snap.RatioInfinite)
		assert.Equal(t, StatusHealthy, snap.Status)
		require.Len(t, snap.Collateral, 1)
		assert.True(t, snap.Collateral[0].Amount.Equal(eth(10)))
	})

	t.Run("subsequent deposits accumulate", func(t *testing.T) {
		snap, err := env.svc.Deposit(ctx, "alice", "ETH", eth(5))
		require.NoError(t, err)
		assert.True(t, snap.TotalCollateralUSD.Equal(usd(30000)), snap.TotalCollateralUSD.String())
	})

	t.Run("unsupported asset is rejected", func(t *testing.T) {
		_, err := env.svc.Deposit(ctx, "alice", "DOGE", usdc(100))
		var unsupported *UnsupportedAssetError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "DOGE", unsupported.AssetID)
	})

	t.Run("non-integer amount is rejected", func(t *testing.T) {
		_, err := env.svc.Deposit(ctx, "alice", "ETH", decimal.RequireFromString("1.5"))
		var invalid *InvalidAmountError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("zero amount is rejected", func(t *testing.T) {
		_, err := env.svc.Deposit(ctx, "alice", "ETH", decimal.Zero)
		var invalid *InvalidAmountError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("stale price fails the deposit", func(t *testing.T) {
		env.clock.Advance(10 * time.Minute)
		_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(1))
		var stale *oracle.StalePriceError
		require.ErrorAs(t, err, &stale)
	})
}

func TestBorrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)

	t.Run("borrow within limits", func(t *testing.T) {
		snap, err := env.svc.Borrow(ctx, "alice", "USDC", usdc(12000))
		require.NoError(t, err)

		assert.True(t, snap.TotalDebtUSD.Equal(usd(12000)), snap.TotalDebtUSD.String())
		// 20000 * 10000 / 12000 = 16666 floored
		assert.Equal(t, int64(16666), snap.CollateralRatioBps)
		assert.False(t, snap.RatioInfinite)
		assert.Equal(t, StatusHealthy, snap.Status)
	})

	t.Run("borrow breaching the minimum ratio is rejected", func(t *testing.T) {
		// Post-state debt 14000 > 20000 * 10000 / 15000 = 13333.33
		_, err := env.svc.Borrow(ctx, "alice", "USDC", usdc(2000))
		var insufficient *InsufficientCollateralError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, "minimum collateral ratio", insufficient.Reason)
		assert.Equal(t, int64(15000), insufficient.RequiredBps)
	})

	t.Run("collateral-only asset cannot be borrowed", func(t *testing.T) {
		_, err := env.svc.Borrow(ctx, "alice", "ETH", eth(1))
		var notBorrowable *AssetNotBorrowableError
		require.ErrorAs(t, err, &notBorrowable)
	})

	t.Run("failed borrow leaves state untouched", func(t *testing.T) {
		snap, err := env.svc.GetSnapshot(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, snap.TotalDebtUSD.Equal(usd(12000)), snap.TotalDebtUSD.String())
	})
}

func TestBorrowLTVLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 1 ETH = $2000 collateral. The minimum-ratio bound allows
	// 1333.33 of debt but ETH's 80% LTV allows 1600, so the ratio
	// binds here; shrink the LTV to make the limit bind instead.
	cfg, err := env.registry.Get("ETH")
	require.NoError(t, err)
	cfg.LTVRatioBps = 5000
	require.NoError(t, env.registry.Upsert(cfg))

	_, err = env.svc.Deposit(ctx, "alice", "ETH", eth(1))
	require.NoError(t, err)

	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(1100))
	var insufficient *InsufficientCollateralError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "ltv borrow limit", insufficient.Reason)
	assert.True(t, insufficient.Available.Equal(usd(1000)), insufficient.Available.String())

	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(1000))
	require.NoError(t, err)
}

func TestBorrowExactHeadroom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)

	view, err := env.svc.GetAvailableToBorrow(ctx, "alice")
	require.NoError(t, err)

	// Convert the USD headroom into whole USDC smallest units.
	headroomUnits := view.ValueUSD.Shift(6).Floor()
	require.True(t, headroomUnits.IsPositive())

	// Borrowing exactly the reported headroom succeeds.
	_, err = env.svc.Borrow(ctx, "alice", "USDC", headroomUnits)
	require.NoError(t, err)

	// One more smallest unit on top is rejected.
	_, err = env.svc.Borrow(ctx, "alice", "USDC", decimal.NewFromInt(1))
	var insufficient *InsufficientCollateralError
	require.ErrorAs(t, err, &insufficient)
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(10000))
	require.NoError(t, err)

	t.Run("withdraw keeping the ratio above minimum", func(t *testing.T) {
		// Collateral falls to $18000 against $10000 debt: 18000 bps.
		snap, err := env.svc.Withdraw(ctx, "alice", "ETH", eth(1))
		require.NoError(t, err)
		assert.Equal(t, int64(18000), snap.CollateralRatioBps)
	})

	t.Run("withdraw breaching the minimum ratio is rejected", func(t *testing.T) {
		// Collateral would fall to $14000: 14000 bps < 15000.
		_, err := env.svc.Withdraw(ctx, "alice", "ETH", eth(2))
		var ratioErr *CollateralRatioError
		require.ErrorAs(t, err, &ratioErr)
		assert.Equal(t, int64(14000), ratioErr.HypotheticalBps)
		assert.Equal(t, int64(15000), ratioErr.RequiredBps)
	})

	t.Run("withdraw more than held is rejected", func(t *testing.T) {
		_, err := env.svc.Withdraw(ctx, "alice", "ETH", eth(100))
		var insufficient *InsufficientCollateralError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, "position balance", insufficient.Reason)
		assert.True(t, insufficient.Available.Equal(eth(9)), insufficient.Available.String())
	})

	t.Run("unknown owner", func(t *testing.T) {
		_, err := env.svc.Withdraw(ctx, "nobody", "ETH", eth(1))
		var notFound *VaultNotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestWithdrawAllWithZeroDebt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "bob", "ETH", eth(3))
	require.NoError(t, err)

	snap, err := env.svc.Withdraw(ctx, "bob", "ETH", eth(3))
	require.NoError(t, err)
	assert.True(t, snap.TotalCollateralUSD.IsZero())
	assert.True(t, snap.RatioInfinite)
	assert.Equal(t, StatusHealthy, snap.Status)
}

func TestRepay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(10000))
	require.NoError(t, err)

	t.Run("partial repay", func(t *testing.T) {
		snap, err := env.svc.Repay(ctx, "alice", "USDC", usdc(4000))
		require.NoError(t, err)
		assert.True(t, snap.TotalDebtUSD.Equal(usd(6000)), snap.TotalDebtUSD.String())
	})

	t.Run("repaying more than outstanding is rejected", func(t *testing.T) {
		_, err := env.svc.Repay(ctx, "alice", "USDC", usdc(7000))
		var insufficient *InsufficientDebtError
		require.ErrorAs(t, err, &insufficient)
		assert.True(t, insufficient.Outstanding.Equal(usdc(6000)), insufficient.Outstanding.String())
	})

	t.Run("repay against an asset with no debt is rejected", func(t *testing.T) {
		_, err := env.svc.Repay(ctx, "alice", "ETH", eth(1))
		var insufficient *InsufficientDebtError
		require.ErrorAs(t, err, &insufficient)
		assert.True(t, insufficient.Outstanding.IsZero())
	})

	t.Run("full repay clears the position", func(t *testing.T) {
		snap, err := env.svc.Repay(ctx, "alice", "USDC", usdc(6000))
		require.NoError(t, err)
		assert.True(t, snap.TotalDebtUSD.IsZero())
		assert.True(t, snap.RatioInfinite)
		assert.Empty(t, snap.Debt)
	})
}

func TestInterestAccruesAcrossOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(1000))
	require.NoError(t, err)

	// One year at 500 bps simple interest on 1000 USDC.
	env.clock.Advance(365 * 24 * time.Hour)
	env.setPrice(t, "ETH", "2000")
	env.setPrice(t, "USDC", "1")

	snap, err := env.svc.GetSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, snap.TotalDebtUSD.Equal(usd(1050)), snap.TotalDebtUSD.String())

	// Repaying the original principal alone leaves the interest owed.
	_, err = env.svc.Repay(ctx, "alice", "USDC", usdc(1000))
	require.NoError(t, err)

	snap, err = env.svc.GetSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, snap.TotalDebtUSD.Equal(usd(50)), snap.TotalDebtUSD.String())

	_, err = env.svc.Repay(ctx, "alice", "USDC", usdc(50))
	require.NoError(t, err)
}

func TestClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(5000))
	require.NoError(t, err)

	t.Run("close with outstanding debt is rejected", func(t *testing.T) {
		_, err := env.svc.Close(ctx, "alice")
		var outstanding *OutstandingDebtError
		require.ErrorAs(t, err, &outstanding)
		require.Len(t, outstanding.Positions, 1)
		assert.Equal(t, "USDC", outstanding.Positions[0].AssetID)
	})

	t.Run("close after full repayment", func(t *testing.T) {
		_, err := env.svc.Repay(ctx, "alice", "USDC", usdc(5000))
		require.NoError(t, err)

		snap, err := env.svc.Close(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, snap.TotalCollateralUSD.IsZero())
		assert.True(t, snap.TotalDebtUSD.IsZero())
		assert.Empty(t, snap.Collateral)
		assert.Equal(t, StatusHealthy, snap.Status)
	})

	t.Run("unknown owner", func(t *testing.T) {
		_, err := env.svc.Close(ctx, "nobody")
		var notFound *VaultNotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestSnapshotUnknownOwner(t *testing.T) {
	env := newTestEnv(t)

	snap, err := env.svc.GetSnapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", snap.Owner)
	assert.True(t, snap.RatioInfinite)
	assert.Equal(t, StatusHealthy, snap.Status)
	assert.True(t, snap.TotalCollateralUSD.IsZero())
	assert.Equal(t, int64(15000), snap.MinCollateralRatio)
	assert.Equal(t, int64(12000), snap.LiquidationThreshold)
}

func TestStatusAtThresholdBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(12000))
	require.NoError(t, err)

	// $14400 collateral against $12000 debt is exactly 12000 bps.
	// Equality with the threshold stays AtRisk.
	env.setPrice(t, "ETH", "1440")
	view, err := env.svc.GetCollateralRatio(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(12000), view.CollateralRatioBps)
	assert.Equal(t, StatusAtRisk, view.Status)

	// One cent lower tips the vault over.
	env.setPrice(t, "ETH", "1439.99")
	view, err = env.svc.GetCollateralRatio(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusLiquidatable, view.Status)
}

func TestGetStatistics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(12000))
	require.NoError(t, err)

	_, err = env.svc.Deposit(ctx, "bob", "ETH", eth(5))
	require.NoError(t, err)

	stats, err := env.svc.GetStatistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalVaults)
	assert.True(t, stats.TotalCollateralUSD.Equal(usd(30000)), stats.TotalCollateralUSD.String())
	assert.True(t, stats.TotalDebtUSD.Equal(usd(12000)), stats.TotalDebtUSD.String())
	assert.Equal(t, 2, stats.HealthyVaults)
	assert.False(t, stats.SystemRatioInfinite)
	// 30000 * 10000 / 12000
	assert.Equal(t, int64(25000), stats.SystemRatioBps)

	// A price crash moves alice into liquidatable territory.
	env.setPrice(t, "ETH", "1400")
	stats, err = env.svc.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.HealthyVaults)
	assert.Equal(t, 1, stats.LiquidatableVaults)
}

func TestStatisticsFallsBackToCachedTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(10))
	require.NoError(t, err)

	// With prices stale the rollup keeps the last committed totals
	// instead of failing.
	env.clock.Advance(10 * time.Minute)
	stats, err := env.svc.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVaults)
	assert.True(t, stats.TotalCollateralUSD.Equal(usd(20000)), stats.TotalCollateralUSD.String())
}

// TestLifecycleScenario chains deposit, borrow, rejection, price
// crash and liquidation through one vault.
func TestLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 25 ETH at $2000 is $50000 of collateral, no debt.
	snap, err := env.svc.Deposit(ctx, "alice", "ETH", eth(25))
	require.NoError(t, err)
	assert.True(t, snap.TotalCollateralUSD.Equal(usd(50000)))
	assert.True(t, snap.RatioInfinite)

	// Borrow $20000: 50000/20000 is 250%, comfortably above 150%.
	snap, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(20000))
	require.NoError(t, err)
	assert.Equal(t, int64(25000), snap.CollateralRatioBps)
	assert.Equal(t, StatusHealthy, snap.Status)

	// Another $15000 would put debt at $35000, ratio 14285 < 15000.
	_, err = env.svc.Borrow(ctx, "alice", "USDC", usdc(15000))
	var insufficient *InsufficientCollateralError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(14285), insufficient.HypotheticalBps)

	// ETH at $960 puts collateral at $24000: exactly the 12000 bps
	// threshold, so still AtRisk and not liquidatable.
	env.setPrice(t, "ETH", "960")
	_, err = env.svc.Liquidate(ctx, "liquidator-1", "alice", "USDC", usdc(5000))
	var healthy *VaultHealthyError
	require.ErrorAs(t, err, &healthy)

	// ETH at $800: $20000 against $20000 debt, 10000 bps. A $5000
	// repayment with the 10% penalty seizes $5500 of collateral.
	env.setPrice(t, "ETH", "800")
	outcome, err := env.svc.Liquidate(ctx, "liquidator-1", "alice", "USDC", usdc(5000))
	require.NoError(t, err)
	assert.True(t, outcome.SeizedUSD.Equal(usd(5500)), outcome.SeizedUSD.String())

	// $14500 collateral over $15000 debt: 9666 bps, liquidatable again.
	view, err := env.svc.GetCollateralRatio(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(9666), view.CollateralRatioBps)
	assert.Equal(t, StatusLiquidatable, view.Status)
}

func TestConcurrentDeposits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Deposit(ctx, "alice", "ETH", eth(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := env.svc.GetSnapshot(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, snap.Collateral, 1)
	assert.True(t, snap.Collateral[0].Amount.Equal(eth(10)), snap.Collateral[0].Amount.String())
}
