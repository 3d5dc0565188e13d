package domain

import "time"

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "1m", "5m")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
	IsFinal   bool      // Whether this kline is the final one for the interval
}

// IndicatorSnapshot holds the rolling features derived from a candle window.
// It is recomputed per closed candle and never mutated afterwards.
type IndicatorSnapshot struct {
	EMAFast     float64 // Fast EMA of closes at the latest candle
	EMASlow     float64 // Slow EMA of closes at the latest candle
	EMAFastPrev float64 // Fast EMA one candle earlier (slope reference)
	AvgVolume   float64 // Trailing average volume
	ATRPct      float64 // Average true range as a fraction of the last close
}

// FastRising reports whether the fast EMA is strictly sloping up.
func (s *IndicatorSnapshot) FastRising() bool {
	return s.EMAFast > s.EMAFastPrev
}
