package indicators

import (
	"context"
	"fmt"
	"math"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR implements the Average True Range indicator using Wilder's smoothing.
type ATR struct {
	config ATRConfig
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	return &ATR{config: config}
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return "ATR"
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (a *ATR) RequiredDataPoints() int {
	return a.config.Period + 1
}

// Calculate computes the Average True Range value for the given klines
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := a.config.Period
	if len(klines) < period+1 {
		return 0, fmt.Errorf("%w: have %d candles, ATR needs %d", ports.ErrInsufficientData, len(klines), period+1)
	}

	trueRanges := make([]float64, len(klines))

	// First TR is just the high-low range
	trueRanges[0] = klines[0].High - klines[0].Low

	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		// True Range is the greatest of high-low, |high-prevClose|, |low-prevClose|
		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)

		trueRanges[i] = math.Max(tr1, math.Max(tr2, tr3))
	}

	// First ATR is the simple average of the first 'period' true ranges,
	// then Wilder's smoothing for the rest.
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}

// CalculatePercent computes the ATR as a fraction of the latest close, the
// volatility measure used for regime detection and ranking.
func (a *ATR) CalculatePercent(ctx context.Context, klines []*domain.Kline) (float64, error) {
	atr, err := a.Calculate(ctx, klines)
	if err != nil {
		return 0, err
	}
	lastClose := klines[len(klines)-1].Close
	if lastClose == 0 {
		return 0, fmt.Errorf("last close is zero, cannot compute ATR percent")
	}
	return atr / lastClose, nil
}
