package assets

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ksred/vault-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrNotSupported is returned when an asset id has no configuration.
var ErrNotSupported = errors.New("asset not supported")

// Registry is the versioned, admin-updated table of supported
// collateral assets. It is passed into the vault engine by handle so
// tests can run against fixed configurations.
type Registry struct {
	db *gorm.DB

	// minCollateralRatioBps is the engine-wide minimum healthy ratio.
	// Every asset's liquidation threshold must sit strictly below it,
	// so liquidation always triggers before the healthy minimum.
	minCollateralRatioBps int64
}

// NewRegistry creates an asset registry backed by the given database.
func NewRegistry(db *gorm.DB, minCollateralRatioBps int64) *Registry {
	return &Registry{db: db, minCollateralRatioBps: minCollateralRatioBps}
}

// Get returns the configuration for an asset id.
// Returns ErrNotSupported when the asset is unknown.
func (r *Registry) Get(assetID string) (*AssetConfig, error) {
	var cfg AssetConfig
	if err := r.db.Where("asset_id = ?", assetID).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotSupported, assetID)
		}
		return nil, err
	}
	return &cfg, nil
}

// List returns all supported assets ordered by asset id.
func (r *Registry) List() ([]AssetConfig, error) {
	var configs []AssetConfig
	if err := r.db.Order("asset_id asc").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// Version returns the current registry version.
func (r *Registry) Version() (int64, error) {
	var meta RegistryMeta
	if err := r.db.First(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Version, nil
}

// Upsert creates or replaces an asset configuration and bumps the
// registry version in the same transaction.
func (r *Registry) Upsert(cfg *AssetConfig) error {
	logger := log.With().
		Str("asset_id", cfg.AssetID).
		Str("service", "assets").
		Logger()

	if err := r.validate(cfg); err != nil {
		logger.Error().Err(err).Msg("asset config rejected")
		return err
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing AssetConfig
		err := tx.Where("asset_id = ?", cfg.AssetID).First(&existing).Error
		switch {
		case err == nil:
			cfg.ID = existing.ID
			cfg.CreatedAt = existing.CreatedAt
			if err := tx.Save(cfg).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(cfg).Error; err != nil {
				return err
			}
		default:
			return err
		}

		return bumpVersion(tx)
	})
	if err != nil {
		return err
	}

	logger.Info().
		Int64("ltv_ratio_bps", cfg.LTVRatioBps).
		Int64("liquidation_threshold_bps", cfg.LiquidationThresholdBps).
		Int64("max_weight_bps", cfg.MaxWeightBps).
		Bool("borrowable", cfg.Borrowable).
		Msg("asset config updated")

	return nil
}

func (r *Registry) validate(cfg *AssetConfig) error {
	if cfg.AssetID == "" {
		return response.NewValidationError("asset id is required")
	}
	if cfg.Decimals < 0 || cfg.Decimals > 30 {
		return response.NewValidationError("decimals out of range: %d", cfg.Decimals)
	}
	// LTV and weight are fractions of collateral value, capped at 100%.
	for name, bps := range map[string]int64{
		"ltv_ratio_bps":  cfg.LTVRatioBps,
		"max_weight_bps": cfg.MaxWeightBps,
	} {
		if bps < 0 || bps > 10000 {
			return response.NewValidationError("%s out of range: %d", name, bps)
		}
	}
	if cfg.InterestRateBps < 0 {
		return response.NewValidationError("interest_rate_bps out of range: %d", cfg.InterestRateBps)
	}
	// The liquidation threshold is a collateral ratio, so values above
	// 10000 bps are the normal case. No upper cap beyond the minimum
	// ratio; liquidation must trigger before the healthy minimum.
	if cfg.LiquidationThresholdBps < 0 {
		return response.NewValidationError("liquidation_threshold_bps out of range: %d", cfg.LiquidationThresholdBps)
	}
	if cfg.LiquidationThresholdBps >= r.minCollateralRatioBps {
		return response.NewValidationError("liquidation threshold %d bps must be below the minimum collateral ratio %d bps",
			cfg.LiquidationThresholdBps, r.minCollateralRatioBps)
	}
	return nil
}

func bumpVersion(tx *gorm.DB) error {
	var meta RegistryMeta
	err := tx.First(&meta).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		meta.Version = 1
		return tx.Create(&meta).Error
	case err != nil:
		return err
	}
	meta.Version++
	return tx.Save(&meta).Error
}

// GinHandlers contains HTTP handlers for asset registry endpoints
type GinHandlers struct {
	registry *Registry
}

// NewGinHandlers creates a new set of HTTP handlers for the registry
func NewGinHandlers(registry *Registry) *GinHandlers {
	return &GinHandlers{registry: registry}
}

// ListAssetsHandler handles GET requests for the supported asset table
func (h *GinHandlers) ListAssetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := h.registry.List()
		response.Handle(c, configs, err)
	}
}

// UpsertAssetHandler handles admin PUT requests to create or replace
// an asset configuration
func (h *GinHandlers) UpsertAssetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg AssetConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		cfg.AssetID = c.Param("asset_id")

		// Validation failures map to 400, storage failures to 500.
		response.Handle(c, cfg, h.registry.Upsert(&cfg))
	}
}
