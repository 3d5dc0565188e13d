package ports

import (
	"context"

	"scalpbot/internal/domain"
)

// SignalEvaluator applies a strategy's entry rule to the candle history of a
// symbol, producing zero or one signal per closed candle. Implementations
// must be pure: identical inputs yield identical outputs.
type SignalEvaluator interface {
	// RequiredDataPoints returns the minimum number of closed candles needed
	// per timeframe before Evaluate can run.
	RequiredDataPoints() int

	// Evaluate inspects the entry- and trend-timeframe candle windows plus
	// the current spread and returns a signal, or nil when the entry rule
	// does not hold. Returns ErrInsufficientData when the windows are short.
	Evaluate(ctx context.Context, entryKlines, trendKlines []*domain.Kline, spreadPct float64) (*domain.Signal, error)
}
