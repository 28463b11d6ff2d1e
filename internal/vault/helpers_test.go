package vault

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/vault-api/internal/assets"
	"github.com/ksred/vault-api/internal/oracle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&assets.AssetConfig{},
		&assets.RegistryMeta{},
		&oracle.AssetPrice{},
		&Vault{},
		&CollateralPosition{},
		&DebtPosition{},
		&LiquidationRecord{},
	))
	return db
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type testEnv struct {
	svc      *Service
	registry *assets.Registry
	oracle   *oracle.Service
	clock    *fakeClock
}

// newTestEnv wires a full engine over a temp database with a
// controllable clock shared by the oracle and the vault service.
// Two assets are registered: ETH (collateral only, 18 decimals,
// priced at $2000) and USDC (borrowable, 6 decimals, 5% interest,
// priced at $1).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	cfg := DefaultConfig()
	registry := assets.NewRegistry(db, cfg.MinCollateralRatioBps)
	feed := oracle.NewService(db, 5*time.Minute, 8000)
	feed.SetClock(clock.Now)

	svc := NewService(db, registry, feed, cfg)
	svc.SetClock(clock.Now)

	env := &testEnv{svc: svc, registry: registry, oracle: feed, clock: clock}
	env.registerAsset(t, &assets.AssetConfig{
		AssetID: "ETH", Symbol: "ETH", Name: "Ether", Decimals: 18,
		LTVRatioBps: 8000, LiquidationThresholdBps: 11000,
		InterestRateBps: 0, MaxWeightBps: 10000, Borrowable: false,
	})
	env.registerAsset(t, &assets.AssetConfig{
		AssetID: "USDC", Symbol: "USDC", Name: "USD Coin", Decimals: 6,
		LTVRatioBps: 9000, LiquidationThresholdBps: 11000,
		InterestRateBps: 500, MaxWeightBps: 10000, Borrowable: true,
	})
	env.setPrice(t, "ETH", "2000")
	env.setPrice(t, "USDC", "1")
	return env
}

func (env *testEnv) registerAsset(t *testing.T, cfg *assets.AssetConfig) {
	t.Helper()
	require.NoError(t, env.registry.Upsert(cfg))
}

func (env *testEnv) setPrice(t *testing.T, assetID, priceUSD string) {
	t.Helper()
	_, err := env.oracle.SetPrice(assetID, decimal.RequireFromString(priceUSD), 9900)
	require.NoError(t, err)
}

// eth returns n whole ETH in wei.
func eth(n int64) decimal.Decimal {
	return decimal.New(n, 18)
}

// usdc returns n whole USDC in its 6-decimal smallest unit.
func usdc(n int64) decimal.Decimal {
	return decimal.New(n, 6)
}

func usd(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}
