package indicators

import (
	"context"
	"fmt"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// VolumeAverageConfig holds configuration for the trailing volume average.
type VolumeAverageConfig struct {
	IndicatorConfig
}

// VolumeAverage computes the simple average volume over the trailing window.
type VolumeAverage struct {
	BaseIndicator
}

// NewVolumeAverage creates a new volume average indicator instance
func NewVolumeAverage(config VolumeAverageConfig) *VolumeAverage {
	return &VolumeAverage{BaseIndicator: BaseIndicator{Config: config.IndicatorConfig}}
}

// Name returns the name of the indicator
func (v *VolumeAverage) Name() string {
	return "VOLUME_AVG"
}

// Calculate computes the average volume over the trailing window.
func (v *VolumeAverage) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if len(klines) < v.Config.Period {
		return 0, fmt.Errorf("%w: have %d candles, volume average needs %d", ports.ErrInsufficientData, len(klines), v.Config.Period)
	}

	total := 0.0
	for i := len(klines) - v.Config.Period; i < len(klines); i++ {
		total += klines[i].Volume
	}
	return total / float64(v.Config.Period), nil
}
