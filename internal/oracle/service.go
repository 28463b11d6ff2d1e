package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/vault-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AssetPrice is the persisted price row for one asset.
type AssetPrice struct {
	gorm.Model    `json:"-"`
	AssetID       string          `gorm:"uniqueIndex" json:"asset_id"`
	PriceUSD      decimal.Decimal `gorm:"type:decimal(64,18)" json:"price_usd"`
	ConfidenceBps int64           `json:"confidence_bps"`
	AsOf          time.Time       `json:"as_of"`
}

// Service is a PriceFeed backed by prices pushed through the admin
// surface. Staleness and confidence checks happen at read time, so a
// price that was fine when written still fails once it ages out.
type Service struct {
	db               *gorm.DB
	maxAge           time.Duration
	minConfidenceBps int64

	now func() time.Time
}

// NewService creates a price feed with the given freshness bounds.
func NewService(db *gorm.DB, maxAge time.Duration, minConfidenceBps int64) *Service {
	return &Service{
		db:               db,
		maxAge:           maxAge,
		minConfidenceBps: minConfidenceBps,
		now:              time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetPrice implements PriceFeed.
func (s *Service) GetPrice(ctx context.Context, assetID string) (Quote, error) {
	var row AssetPrice
	if err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Quote{}, &PriceUnavailableError{AssetID: assetID}
		}
		return Quote{}, err
	}

	age := s.now().Sub(row.AsOf)
	if age > s.maxAge || row.ConfidenceBps < s.minConfidenceBps {
		return Quote{}, &StalePriceError{
			AssetID:          assetID,
			Age:              age,
			MaxAge:           s.maxAge,
			ConfidenceBps:    row.ConfidenceBps,
			MinConfidenceBps: s.minConfidenceBps,
		}
	}

	return Quote{
		AssetID:       row.AssetID,
		PriceUSD:      row.PriceUSD,
		AsOf:          row.AsOf,
		ConfidenceBps: row.ConfidenceBps,
	}, nil
}

// SetPrice stores a fresh price observation for an asset.
func (s *Service) SetPrice(assetID string, priceUSD decimal.Decimal, confidenceBps int64) (Quote, error) {
	logger := log.With().
		Str("asset_id", assetID).
		Str("service", "oracle").
		Logger()

	if !priceUSD.IsPositive() {
		return Quote{}, response.NewValidationError("price must be positive: %s", priceUSD)
	}
	if confidenceBps < 0 || confidenceBps > 10000 {
		return Quote{}, response.NewValidationError("confidence must be between 0 and 10000 bps: %d", confidenceBps)
	}

	asOf := s.now()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row AssetPrice
		err := tx.Where("asset_id = ?", assetID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = AssetPrice{AssetID: assetID}
		case err != nil:
			return err
		}
		row.PriceUSD = priceUSD
		row.ConfidenceBps = confidenceBps
		row.AsOf = asOf
		return tx.Save(&row).Error
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to store price")
		return Quote{}, err
	}

	logger.Info().
		Str("price_usd", priceUSD.String()).
		Int64("confidence_bps", confidenceBps).
		Msg("price updated")

	return Quote{AssetID: assetID, PriceUSD: priceUSD, AsOf: asOf, ConfidenceBps: confidenceBps}, nil
}

// GinHandlers contains HTTP handlers for oracle endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for oracle endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type updatePriceRequest struct {
	PriceUSD      decimal.Decimal `json:"price_usd" binding:"required"`
	ConfidenceBps int64           `json:"confidence_bps"`
}

// UpdatePriceHandler handles admin PUT requests pushing a new price
// URL parameter: asset_id
func (h *GinHandlers) UpdatePriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		assetID := c.Param("asset_id")

		var req updatePriceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		// Validation failures map to 400, storage failures to 500.
		quote, err := h.service.SetPrice(assetID, req.PriceUSD, req.ConfidenceBps)
		response.Handle(c, quote, err)
	}
}
