package domain

import "time"

// Position represents a trading position held by the bot.
// A Position is created on confirmed entry fill and mutated only by the
// owning symbol's state machine until it is archived on exit fill.
type Position struct {
	ID          string         // Unique identifier minted at entry time
	Symbol      string         // Trading symbol (e.g., "BTCUSDT")
	Side        OrderSide      // Entry side
	EntryPrice  float64        // Price at which the position was entered
	ExitPrice   float64        // Price at which the position was exited (0 if open)
	Quantity    float64        // Size of the position
	StopLoss    float64        // Current stop-loss price level
	TakeProfit  float64        // Take-profit price level
	EntryTime   time.Time      // Timestamp when the position was entered
	ExitTime    time.Time      // Timestamp when the position was exited (zero value if open)
	Status      PositionStatus // Current status (open, closed)
	PNL         float64        // Profit and loss, set on close
	CloseReason CloseReason    // Reason for closing (TAKE_PROFIT, STOP_LOSS, ...)

	// Trailing stop state. TrailingAnchor is the most favorable price seen
	// since the trailing stop activated; zero while inactive.
	TrailingAnchor float64
	TrailingActive bool
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}
