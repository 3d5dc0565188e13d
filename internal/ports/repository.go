package ports

import (
	"context"

	"scalpbot/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving
// positions. Persistence is for logging/analytics only; the core never
// consults it for decisions and tolerates failures.
type PositionRepository interface {
	// Create saves a new position.
	Create(ctx context.Context, pos *domain.Position) error
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpen retrieves all currently open positions.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindByID retrieves a position by its unique ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.Position, error)
}

// TradeRepository defines the interface for storing completed trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// TotalPNL sums the PNL over all recorded trades.
	TotalPNL(ctx context.Context) (float64, error)
}

// SignalRepository records every emitted signal, executed or not.
type SignalRepository interface {
	// CreateSignal saves an emitted signal and returns its assigned ID.
	CreateSignal(ctx context.Context, sig *domain.Signal) (int64, error)
	// MarkExecuted links a stored signal to the position it opened.
	MarkExecuted(ctx context.Context, signalID int64, positionID string) error
}
