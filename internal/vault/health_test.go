package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	const (
		minRatio  = 15000
		threshold = 12000
	)

	tests := []struct {
		name     string
		ratioBps int64
		want     string
	}{
		{"no debt", RatioInfinite, StatusHealthy},
		{"well collateralized", 20000, StatusHealthy},
		{"exactly at minimum", 15000, StatusHealthy},
		{"just below minimum", 14999, StatusAtRisk},
		{"between threshold and minimum", 13000, StatusAtRisk},
		{"exactly at threshold", 12000, StatusAtRisk},
		{"just below threshold", 11999, StatusLiquidatable},
		{"deeply undercollateralized", 500, StatusLiquidatable},
		{"zero ratio", 0, StatusLiquidatable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ratioBps, minRatio, threshold))
		})
	}
}
