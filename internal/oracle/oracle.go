package oracle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a USD price observation for one asset. PriceUSD is the
// value of one whole unit of the asset, as a fixed-point decimal.
type Quote struct {
	AssetID       string          `json:"asset_id"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	AsOf          time.Time       `json:"as_of"`
	ConfidenceBps int64           `json:"confidence_bps"`
}

// PriceFeed is the port the vault engine consumes. Implementations
// must fail rather than return missing or stale data: no vault
// operation ever proceeds on a price the feed cannot vouch for.
type PriceFeed interface {
	GetPrice(ctx context.Context, assetID string) (Quote, error)
}

// PriceUnavailableError reports that the feed has never seen a price
// for the asset.
type PriceUnavailableError struct {
	AssetID string
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("price unavailable for asset %s", e.AssetID)
}

func (e *PriceUnavailableError) Code() string { return "PRICE_UNAVAILABLE" }

func (e *PriceUnavailableError) HTTPStatus() int { return http.StatusNotFound }

func (e *PriceUnavailableError) Details() interface{} {
	return map[string]interface{}{"asset_id": e.AssetID}
}

// StalePriceError reports a price observation that is too old or
// below the configured confidence floor.
type StalePriceError struct {
	AssetID          string
	Age              time.Duration
	MaxAge           time.Duration
	ConfidenceBps    int64
	MinConfidenceBps int64
}

func (e *StalePriceError) Error() string {
	if e.ConfidenceBps < e.MinConfidenceBps {
		return fmt.Sprintf("price for asset %s below confidence floor: %d bps < %d bps",
			e.AssetID, e.ConfidenceBps, e.MinConfidenceBps)
	}
	return fmt.Sprintf("price for asset %s is stale: age %s exceeds bound %s",
		e.AssetID, e.Age, e.MaxAge)
}

func (e *StalePriceError) Code() string { return "STALE_PRICE" }

func (e *StalePriceError) HTTPStatus() int { return http.StatusServiceUnavailable }

func (e *StalePriceError) Details() interface{} {
	return map[string]interface{}{
		"asset_id":           e.AssetID,
		"age_seconds":        e.Age.Seconds(),
		"max_age_seconds":    e.MaxAge.Seconds(),
		"confidence_bps":     e.ConfidenceBps,
		"min_confidence_bps": e.MinConfidenceBps,
	}
}
