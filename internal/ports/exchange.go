package ports

import (
	"context"
	"time"

	"scalpbot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Symbol for the order
	ClientOrderID string    // User-defined order ID
	AvgPrice      float64   // Average filled price
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// SymbolFilters holds the exchange trading rules the sizing logic needs.
type SymbolFilters struct {
	Symbol      string
	StepSize    float64 // Quantity increment
	MinQuantity float64 // Minimum tradable quantity
	MinNotional float64 // Minimum order value in quote currency
}

// MarketDataClient supplies candles, ticks and market-wide snapshots.
// Implementations must deliver candle events per symbol with monotonically
// non-decreasing close times; the core discards any regression as stale.
type MarketDataClient interface {
	// GetKlines retrieves historical klines for the given symbol and interval.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// StreamKlines starts a combined stream of kline events for the given
	// symbols and intervals. Only final (closed) candles reach the handler.
	// Returns channels to control the stream (doneCh, stopCh) or an error.
	StreamKlines(ctx context.Context, symbols []string, intervals []string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// StreamTicks starts a stream of best bid/ask updates for the given
	// symbols. The handler receives the mid price and the relative spread.
	StreamTicks(ctx context.Context, symbols []string, handler func(symbol string, price, spreadPct float64, ts time.Time), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// GetMarketStats returns the market-wide snapshot used for ranking.
	GetMarketStats(ctx context.Context) ([]domain.MarketStat, error)
}

// ExecutionClient places and confirms orders. The core never assumes an
// instantaneous fill; a response with a non-filled status or an error leaves
// the attempt unconfirmed.
type ExecutionClient interface {
	// PlaceMarketOrder places a market order and waits for its fill result
	// within the deadline of ctx.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*OrderResponse, error)

	// GetSymbolFilters returns the trading rules for a symbol.
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// GetAccountBalance retrieves the available balance for an asset (e.g. "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)
}

// ExchangeClient combines market data and execution, the surface a live
// exchange adapter provides. Replay or paper adapters may implement only the
// parts they need.
type ExchangeClient interface {
	MarketDataClient
	ExecutionClient

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)
}
