package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// Config holds configuration for risk management.
// Percent-valued fields are in percent points (0.5 means 0.5%).
type Config struct {
	MaxTotalPositions     int
	MaxPositionsPerSymbol int

	TakeProfitPct          float64
	StopLossPct            float64
	VolatilityThresholdPct float64 // ATR% above which targets widen
	TakeProfitWidenPct     float64
	StopLossWidenPct       float64

	TrailingActivationPct float64
	TrailingStepPct       float64

	CapitalPerTradePct float64
	MaxLossStreak      int
}

// Manager enforces the entry caps and turns entry prices into bounded
// orders: exit levels, trailing adjustments and position sizes. It is safe
// for concurrent use by the per-symbol workers.
type Manager struct {
	cfg    Config
	logger ports.Logger

	mu         sync.Mutex
	lossStreak map[string]int
}

// New creates a risk manager. Contradictory parameters are rejected here so
// the engine never starts with an invalid risk configuration.
func New(cfg Config, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk manager")
	}
	if cfg.MaxTotalPositions <= 0 || cfg.MaxPositionsPerSymbol <= 0 {
		return nil, fmt.Errorf("position limits must be positive")
	}
	if cfg.TakeProfitPct <= 0 || cfg.StopLossPct <= 0 {
		return nil, fmt.Errorf("take-profit and stop-loss must be positive")
	}
	if cfg.StopLossPct >= cfg.TakeProfitPct {
		return nil, fmt.Errorf("stop-loss %.3f%% must be below take-profit %.3f%%", cfg.StopLossPct, cfg.TakeProfitPct)
	}
	if cfg.TrailingActivationPct <= 0 || cfg.TrailingStepPct <= 0 {
		return nil, fmt.Errorf("trailing activation and step must be positive")
	}
	if cfg.CapitalPerTradePct <= 0 || cfg.CapitalPerTradePct > 100 {
		return nil, fmt.Errorf("capital per trade must be between 0 and 100 percent")
	}
	if cfg.MaxLossStreak <= 0 {
		return nil, fmt.Errorf("max loss streak must be positive")
	}
	return &Manager{cfg: cfg, logger: logger, lossStreak: make(map[string]int)}, nil
}

// ApproveEntry decides whether a new position may be opened for the symbol.
// It returns nil when admitted, or one of the admission sentinels
// (ErrGlobalCapReached, ErrSymbolCapReached, ErrSymbolInCooldown,
// ErrLossStreakExceeded) naming the reason for denial.
func (m *Manager) ApproveEntry(ctx context.Context, symbol string, totalOpen, openForSymbol int, inCooldown bool) error {
	if inCooldown {
		return fmt.Errorf("%w: %s", ports.ErrSymbolInCooldown, symbol)
	}
	if totalOpen >= m.cfg.MaxTotalPositions {
		return fmt.Errorf("%w: %d/%d open", ports.ErrGlobalCapReached, totalOpen, m.cfg.MaxTotalPositions)
	}
	if openForSymbol >= m.cfg.MaxPositionsPerSymbol {
		return fmt.Errorf("%w: %s has %d/%d open", ports.ErrSymbolCapReached, symbol, openForSymbol, m.cfg.MaxPositionsPerSymbol)
	}

	m.mu.Lock()
	streak := m.lossStreak[symbol]
	m.mu.Unlock()
	if streak >= m.cfg.MaxLossStreak {
		return fmt.Errorf("%w: %s lost %d in a row", ports.ErrLossStreakExceeded, symbol, streak)
	}
	return nil
}

// ExitLevels computes the take-profit and stop-loss prices for an entry.
// Both distances widen by a fixed increment when the volatility measure
// exceeds the configured threshold.
func (m *Manager) ExitLevels(entryPrice float64, side domain.OrderSide, volatilityPct float64) (tpPrice, slPrice float64) {
	tpPct := m.cfg.TakeProfitPct
	slPct := m.cfg.StopLossPct
	if volatilityPct > m.cfg.VolatilityThresholdPct {
		tpPct += m.cfg.TakeProfitWidenPct
		slPct += m.cfg.StopLossWidenPct
	}

	if side == domain.Sell {
		tpPrice = entryPrice * (1 - tpPct/100)
		slPrice = entryPrice * (1 + slPct/100)
		return tpPrice, slPrice
	}
	tpPrice = entryPrice * (1 + tpPct/100)
	slPrice = entryPrice * (1 - slPct/100)
	return tpPrice, slPrice
}

// UpdateTrailing ratchets the trailing stop of an open long position.
// Once unrealized gain reaches the activation threshold the stop follows
// the favorable extreme at the configured step, monotonically tightening.
// Returns the effective stop price after the update.
func (m *Manager) UpdateTrailing(pos *domain.Position, currentPrice float64) float64 {
	if pos == nil || !pos.IsOpen() {
		return 0
	}

	if !pos.TrailingActive {
		gainPct := (currentPrice - pos.EntryPrice) / pos.EntryPrice * 100
		if gainPct < m.cfg.TrailingActivationPct {
			return pos.StopLoss
		}
		pos.TrailingActive = true
		pos.TrailingAnchor = currentPrice
	} else if currentPrice > pos.TrailingAnchor {
		pos.TrailingAnchor = currentPrice
	}

	candidate := pos.TrailingAnchor * (1 - m.cfg.TrailingStepPct/100)
	// Never loosen: the stop only moves up.
	if candidate > pos.StopLoss {
		pos.StopLoss = candidate
	}
	return pos.StopLoss
}

// PositionSize converts available capital into an order quantity:
// quantity = capital * capitalPerTrade / price, floored to the market's
// quantity step. Returns ErrQuantityBelowMinimum when the result would not
// be tradable.
func (m *Manager) PositionSize(capital, price float64, filters *ports.SymbolFilters) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("price must be positive")
	}
	if capital <= 0 {
		return 0, fmt.Errorf("%w: no capital available", ports.ErrInsufficientFunds)
	}

	raw := capital * (m.cfg.CapitalPerTradePct / 100) / price

	qty := raw
	if filters != nil && filters.StepSize > 0 {
		// Floor to the lot-size step without accumulating float error.
		step := decimal.NewFromFloat(filters.StepSize)
		qty, _ = decimal.NewFromFloat(raw).Div(step).Floor().Mul(step).Float64()
	}

	if filters != nil {
		if qty < filters.MinQuantity {
			return 0, fmt.Errorf("%w: %.8f < min %.8f", ports.ErrQuantityBelowMinimum, qty, filters.MinQuantity)
		}
		if filters.MinNotional > 0 && qty*price < filters.MinNotional {
			return 0, fmt.Errorf("%w: notional %.2f < min %.2f", ports.ErrQuantityBelowMinimum, qty*price, filters.MinNotional)
		}
	}
	if qty <= 0 {
		return 0, fmt.Errorf("%w: computed quantity is zero", ports.ErrQuantityBelowMinimum)
	}
	return qty, nil
}

// RecordTradeResult updates the per-symbol loss streak after a close.
// A winning trade clears the streak; a losing one extends it.
func (m *Manager) RecordTradeResult(ctx context.Context, symbol string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pnl < 0 {
		m.lossStreak[symbol]++
		m.logger.Debug(ctx, "Loss streak extended", map[string]interface{}{
			"symbol": symbol,
			"streak": m.lossStreak[symbol],
		})
		return
	}
	delete(m.lossStreak, symbol)
}

// ResetLossStreak clears the streak for a symbol (operator intervention).
func (m *Manager) ResetLossStreak(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lossStreak, symbol)
}
