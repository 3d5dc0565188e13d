package domain

import "time"

// Trade represents a completed round trip, recorded when a position closes.
type Trade struct {
	ID          int64       // Unique identifier for the trade (usually from DB)
	PositionID  string      // Identifier of the position this trade closed
	Symbol      string      // Trading symbol
	EntryPrice  float64     // Price at which the position was entered
	ExitPrice   float64     // Price at which the position was exited
	Quantity    float64     // Size of the position traded
	PNL         float64     // Profit and loss in quote currency
	PNLPct      float64     // Profit and loss as a fraction of entry
	EntryTime   time.Time   // Timestamp when the position was entered
	ExitTime    time.Time   // Timestamp when the position was exited
	CloseReason CloseReason // Reason why the position was closed
}

// Duration returns how long the position was held.
func (t *Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}
