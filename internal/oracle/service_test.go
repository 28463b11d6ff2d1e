package oracle

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/vault-api/pkg/response"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&AssetPrice{}))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(db, 5*time.Minute, 8000)
	svc.SetClock(func() time.Time { return now })
	return svc, &now
}

func TestSetAndGetPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetPrice("ETH", decimal.NewFromInt(2000), 9900)
	require.NoError(t, err)

	quote, err := svc.GetPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "ETH", quote.AssetID)
	assert.True(t, quote.PriceUSD.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, int64(9900), quote.ConfidenceBps)

	t.Run("updates replace the stored price", func(t *testing.T) {
		_, err := svc.SetPrice("ETH", decimal.NewFromInt(1500), 9500)
		require.NoError(t, err)

		quote, err := svc.GetPrice(ctx, "ETH")
		require.NoError(t, err)
		assert.True(t, quote.PriceUSD.Equal(decimal.NewFromInt(1500)))
	})
}

func TestGetPriceUnavailable(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetPrice(context.Background(), "DOGE")
	var unavailable *PriceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "DOGE", unavailable.AssetID)
}

func TestGetPriceStale(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetPrice("ETH", decimal.NewFromInt(2000), 9900)
	require.NoError(t, err)

	t.Run("fresh within the age bound", func(t *testing.T) {
		*now = now.Add(5 * time.Minute)
		_, err := svc.GetPrice(ctx, "ETH")
		assert.NoError(t, err)
	})

	t.Run("stale past the age bound", func(t *testing.T) {
		*now = now.Add(time.Second)
		_, err := svc.GetPrice(ctx, "ETH")
		var stale *StalePriceError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, "ETH", stale.AssetID)
		assert.Equal(t, 5*time.Minute, stale.MaxAge)
	})
}

func TestGetPriceLowConfidence(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SetPrice("ETH", decimal.NewFromInt(2000), 7999)
	require.NoError(t, err)

	_, err = svc.GetPrice(context.Background(), "ETH")
	var stale *StalePriceError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(7999), stale.ConfidenceBps)
	assert.Equal(t, int64(8000), stale.MinConfidenceBps)
}

func TestSetPriceValidation(t *testing.T) {
	svc, _ := newTestService(t)

	for name, call := range map[string]func() error{
		"zero price":           func() error { _, err := svc.SetPrice("ETH", decimal.Zero, 9900); return err },
		"negative price":       func() error { _, err := svc.SetPrice("ETH", decimal.NewFromInt(-5), 9900); return err },
		"confidence over 100%": func() error { _, err := svc.SetPrice("ETH", decimal.NewFromInt(2000), 10001); return err },
	} {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)

			// Rejected observations are client errors, not server ones.
			var apiErr response.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus())
		})
	}
}
