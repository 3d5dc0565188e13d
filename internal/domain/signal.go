package domain

import "time"

// Signal is an entry signal produced by the strategy for a single closed
// candle. Signals are immutable and consumed at most once by the owning
// symbol's state machine; an unconsumed signal simply expires with the tick
// that produced it.
type Signal struct {
	ID        int64     // Assigned by the signal repository (0 until stored)
	Symbol    string    // Trading symbol
	Direction OrderSide // Entry direction (long-only strategy emits BUY)
	Price     float64   // Close price the signal fired at
	Time      time.Time // Close time of the triggering candle

	// Feature values at evaluation time, kept for analytics.
	EMAFast   float64
	EMASlow   float64
	Volume    float64
	AvgVolume float64
	SpreadPct float64
}
