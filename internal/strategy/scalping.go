package strategy

import (
	"context"
	"fmt"

	"scalpbot/internal/domain"
	"scalpbot/internal/indicators"
	"scalpbot/internal/ports"
)

// Config holds parameters for the scalping entry rule.
type Config struct {
	EMAFastPeriod int     // e.g., 9
	EMASlowPeriod int     // e.g., 21
	VolumePeriod  int     // e.g., 20
	ATRPeriod     int     // e.g., 14
	MaxSpreadPct  float64 // Entries rejected above this spread, percent points
}

// Scalping implements the dual-timeframe breakout entry rule:
// trend-timeframe EMA fast above slow and rising, entry-timeframe EMA fast
// above slow and rising, current close above the previous high, volume above
// its trailing average, and spread within the configured limit. All five
// conditions are re-evaluated on every closed candle.
type Scalping struct {
	cfg    Config
	logger ports.Logger
	engine *indicators.Engine
}

// New creates a new Scalping evaluator.
func New(cfg Config, logger ports.Logger) (*Scalping, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.MaxSpreadPct <= 0 {
		return nil, fmt.Errorf("max spread must be positive")
	}
	engine, err := indicators.NewEngine(indicators.EngineConfig{
		FastPeriod:   cfg.EMAFastPeriod,
		SlowPeriod:   cfg.EMASlowPeriod,
		VolumePeriod: cfg.VolumePeriod,
		ATRPeriod:    cfg.ATRPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid indicator configuration: %w", err)
	}
	return &Scalping{cfg: cfg, logger: logger, engine: engine}, nil
}

// RequiredDataPoints returns the minimum number of closed candles needed per
// timeframe before Evaluate can run.
func (s *Scalping) RequiredDataPoints() int {
	return s.engine.RequiredDataPoints()
}

// Indicators exposes the snapshot engine so callers can reuse the same
// windows for volatility measurements.
func (s *Scalping) Indicators() *indicators.Engine {
	return s.engine
}

// Evaluate applies the entry rule to the candle windows of one symbol and
// returns a BUY signal, or nil when any condition fails. It is a pure
// function of its inputs; at most one signal is emitted per candle close.
func (s *Scalping) Evaluate(ctx context.Context, entryKlines, trendKlines []*domain.Kline, spreadPct float64) (*domain.Signal, error) {
	if len(entryKlines) < s.RequiredDataPoints() || len(trendKlines) < s.RequiredDataPoints() {
		return nil, fmt.Errorf("%w: entry=%d trend=%d, need %d",
			ports.ErrInsufficientData, len(entryKlines), len(trendKlines), s.RequiredDataPoints())
	}

	trend, err := s.engine.Compute(ctx, trendKlines)
	if err != nil {
		return nil, fmt.Errorf("trend snapshot: %w", err)
	}
	// Trend timeframe: fast above slow and strictly rising.
	if trend.EMAFast <= trend.EMASlow || !trend.FastRising() {
		return nil, nil
	}

	entry, err := s.engine.Compute(ctx, entryKlines)
	if err != nil {
		return nil, fmt.Errorf("entry snapshot: %w", err)
	}
	// Entry timeframe: same alignment.
	if entry.EMAFast <= entry.EMASlow || !entry.FastRising() {
		return nil, nil
	}

	last := entryKlines[len(entryKlines)-1]
	prev := entryKlines[len(entryKlines)-2]

	// Breakout bar: close above the previous candle's high.
	if last.Close <= prev.High {
		return nil, nil
	}

	// Participation: volume above its trailing average.
	if last.Volume <= entry.AvgVolume {
		return nil, nil
	}

	// Cost: spread within the configured limit.
	if spreadPct > s.cfg.MaxSpreadPct {
		s.logger.Debug(ctx, "Signal suppressed by spread", map[string]interface{}{
			"symbol":    last.Symbol,
			"spreadPct": spreadPct,
			"maxSpread": s.cfg.MaxSpreadPct,
		})
		return nil, nil
	}

	return &domain.Signal{
		Symbol:    last.Symbol,
		Direction: domain.Buy,
		Price:     last.Close,
		Time:      last.CloseTime,
		EMAFast:   entry.EMAFast,
		EMASlow:   entry.EMASlow,
		Volume:    last.Volume,
		AvgVolume: entry.AvgVolume,
		SpreadPct: spreadPct,
	}, nil
}
