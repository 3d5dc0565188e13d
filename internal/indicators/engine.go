package indicators

import (
	"context"
	"fmt"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// EngineConfig holds the window parameters for snapshot computation.
type EngineConfig struct {
	FastPeriod   int // Fast EMA period
	SlowPeriod   int // Slow EMA period
	VolumePeriod int // Trailing average volume window
	ATRPeriod    int // ATR window
}

// Engine derives an IndicatorSnapshot from an ordered window of closed
// candles. It holds no state between calls; the same window always yields
// the same snapshot.
type Engine struct {
	cfg     EngineConfig
	emaFast *MovingAverage
	emaSlow *MovingAverage
	volume  *VolumeAverage
	atr     *ATR
}

// NewEngine creates a snapshot engine for the given windows.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 || cfg.VolumePeriod <= 0 || cfg.ATRPeriod <= 0 {
		return nil, fmt.Errorf("indicator periods must be positive")
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("fast EMA period must be less than slow EMA period")
	}
	return &Engine{
		cfg: cfg,
		emaFast: NewMovingAverage(MovingAverageConfig{
			IndicatorConfig: IndicatorConfig{Period: cfg.FastPeriod},
			Type:            ExponentialMovingAverage,
		}),
		emaSlow: NewMovingAverage(MovingAverageConfig{
			IndicatorConfig: IndicatorConfig{Period: cfg.SlowPeriod},
			Type:            ExponentialMovingAverage,
		}),
		volume: NewVolumeAverage(VolumeAverageConfig{
			IndicatorConfig: IndicatorConfig{Period: cfg.VolumePeriod},
		}),
		atr: NewATR(ATRConfig{IndicatorConfig: IndicatorConfig{Period: cfg.ATRPeriod}}),
	}, nil
}

// RequiredDataPoints returns the minimum window length Compute accepts.
// The extra candle covers the prior-bar fast EMA and the ATR lookback.
func (e *Engine) RequiredDataPoints() int {
	max := e.cfg.SlowPeriod
	if e.cfg.VolumePeriod > max {
		max = e.cfg.VolumePeriod
	}
	if e.cfg.ATRPeriod > max {
		max = e.cfg.ATRPeriod
	}
	return max + 1
}

// Compute derives the snapshot for the latest candle of the window.
// Returns ErrInsufficientData when the window is shorter than required;
// callers must not evaluate signals until satisfied.
func (e *Engine) Compute(ctx context.Context, klines []*domain.Kline) (*domain.IndicatorSnapshot, error) {
	if len(klines) < e.RequiredDataPoints() {
		return nil, fmt.Errorf("%w: have %d candles, snapshot needs %d", ports.ErrInsufficientData, len(klines), e.RequiredDataPoints())
	}

	emaFast, err := e.emaFast.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("fast EMA: %w", err)
	}
	emaSlow, err := e.emaSlow.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("slow EMA: %w", err)
	}
	// Fast EMA one bar back, the slope reference.
	emaFastPrev, err := e.emaFast.Calculate(ctx, klines[:len(klines)-1])
	if err != nil {
		return nil, fmt.Errorf("prior fast EMA: %w", err)
	}
	// Average volume trails the latest candle so a breakout bar does not
	// inflate its own baseline.
	avgVolume, err := e.volume.Calculate(ctx, klines[:len(klines)-1])
	if err != nil {
		return nil, fmt.Errorf("volume average: %w", err)
	}
	atrPct, err := e.atr.CalculatePercent(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("ATR percent: %w", err)
	}

	return &domain.IndicatorSnapshot{
		EMAFast:     emaFast,
		EMASlow:     emaSlow,
		EMAFastPrev: emaFastPrev,
		AvgVolume:   avgVolume,
		ATRPct:      atrPct,
	}, nil
}
