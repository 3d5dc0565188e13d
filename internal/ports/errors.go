package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors
// so the core can branch on errors.Is without knowing the backend.
var (
	// General errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Data faults
	ErrInsufficientData = errors.New("not enough candle history for evaluation")
	ErrStaleData        = errors.New("market data is stale or out of order")

	// Admission faults
	ErrGlobalCapReached     = errors.New("global open-position limit reached")
	ErrSymbolCapReached     = errors.New("per-symbol open-position limit reached")
	ErrSymbolInCooldown     = errors.New("symbol is in post-exit cooldown")
	ErrSymbolNotRanked      = errors.New("symbol is not in the current ranking")
	ErrLossStreakExceeded   = errors.New("symbol exceeded the consecutive-loss limit")
	ErrQuantityBelowMinimum = errors.New("computed quantity below the market minimum")

	// Exchange errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")

	// Execution faults surfaced by the state machine
	ErrUnexitablePosition = errors.New("open position could not be exited after repeated attempts")

	// Database errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
