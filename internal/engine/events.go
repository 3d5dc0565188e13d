package engine

import (
	"time"

	"scalpbot/internal/domain"
)

// Events delivered to a symbol's worker. Each worker consumes its own queue
// sequentially, which is what guarantees in-order processing per symbol and
// strictly sequential state transitions.
type event interface{ isEvent() }

// candleEvent carries one closed candle for either timeframe.
type candleEvent struct {
	kline *domain.Kline
}

// tickEvent carries a live price update, independent of candle cadence.
// Price-triggered exits react to these faster than to candle closes.
type tickEvent struct {
	price     float64
	spreadPct float64
	ts        time.Time
}

// admitEvent flips the worker's admission flag after a ranking refresh.
// A revoked symbol stops opening new positions but keeps monitoring any
// open position until it closes. On admission the ranking snapshot's spread
// rides along so the spread gate has a real value before the first tick.
type admitEvent struct {
	admitted  bool
	spreadPct float64
}

func (candleEvent) isEvent() {}
func (tickEvent) isEvent()   {}
func (admitEvent) isEvent()  {}
