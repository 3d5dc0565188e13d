// Command replay runs the entry rule and exit logic over recorded candle
// history. The run is fully deterministic: the same CSV inputs and the same
// parameters produce the same trade sequence, which makes it the reference
// harness for validating strategy changes before they go live.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"scalpbot/config"
	"scalpbot/internal/adapters/logger"
	"scalpbot/internal/domain"
	"scalpbot/internal/risk"
	"scalpbot/internal/strategy"
	"scalpbot/internal/utils"
)

const maxWindow = 500

type simPosition struct {
	entryPrice float64
	entryTime  time.Time
	takeProfit float64
	stopLoss   float64
	pos        *domain.Position
}

type simTrade struct {
	entryTime time.Time
	exitTime  time.Time
	pnlPct    float64
	reason    domain.CloseReason
}

func main() {
	entryFile := flag.String("entry", "", "CSV with entry-timeframe candles")
	trendFile := flag.String("trend", "", "CSV with trend-timeframe candles")
	flag.Parse()
	if *entryFile == "" || *trendFile == "" {
		log.Fatal("both -entry and -trend CSV files are required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewDevelopmentLogger()
	ctx := context.Background()

	strat, err := strategy.New(strategy.Config{
		EMAFastPeriod: cfg.EMAFastPeriod,
		EMASlowPeriod: cfg.EMASlowPeriod,
		VolumePeriod:  cfg.VolumePeriod,
		ATRPeriod:     cfg.ATRPeriod,
		MaxSpreadPct:  cfg.MaxSpreadPct,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize strategy: %v", err)
	}
	riskMgr, err := risk.New(risk.Config{
		MaxTotalPositions:      cfg.MaxTotalPositions,
		MaxPositionsPerSymbol:  cfg.MaxPositionsPerSymbol,
		TakeProfitPct:          cfg.TakeProfitPct,
		StopLossPct:            cfg.StopLossPct,
		VolatilityThresholdPct: cfg.VolatilityThresholdPct,
		TakeProfitWidenPct:     cfg.TakeProfitWidenPct,
		StopLossWidenPct:       cfg.StopLossWidenPct,
		TrailingActivationPct:  cfg.TrailingActivationPct,
		TrailingStepPct:        cfg.TrailingStepPct,
		CapitalPerTradePct:     cfg.CapitalPerTradePct,
		MaxLossStreak:          cfg.MaxLossStreak,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	entry, err := utils.ReadKlinesFromCSV(*entryFile)
	if err != nil {
		log.Fatalf("Error loading entry candles: %v", err)
	}
	trend, err := utils.ReadKlinesFromCSV(*trendFile)
	if err != nil {
		log.Fatalf("Error loading trend candles: %v", err)
	}
	appLogger.Info(ctx, "Replay data loaded", map[string]interface{}{
		"entryCandles": len(entry),
		"trendCandles": len(trend),
	})

	trades := runReplay(ctx, cfg, strat, riskMgr, entry, trend)
	report(trades)
}

// runReplay walks the entry candles in order, keeping the trend window in
// step by close time, and simulates one position at a time through the same
// strategy and risk code the live engine uses.
func runReplay(ctx context.Context, cfg *config.Config, strat *strategy.Scalping, riskMgr *risk.Manager, entry, trend []*domain.Kline) []simTrade {
	var (
		entryWindow  []*domain.Kline
		trendWindow  []*domain.Kline
		trendIdx     int
		open         *simPosition
		cooldownTill time.Time
		trades       []simTrade
	)

	for _, k := range entry {
		// Advance the trend window to candles closed at or before this one.
		for trendIdx < len(trend) && !trend[trendIdx].CloseTime.After(k.CloseTime) {
			trendWindow = append(trendWindow, trend[trendIdx])
			if len(trendWindow) > maxWindow {
				trendWindow = trendWindow[1:]
			}
			trendIdx++
		}
		entryWindow = append(entryWindow, k)
		if len(entryWindow) > maxWindow {
			entryWindow = entryWindow[1:]
		}

		if open != nil {
			if trade, closed := stepPosition(riskMgr, open, k); closed {
				trades = append(trades, trade)
				riskMgr.RecordTradeResult(ctx, k.Symbol, trade.pnlPct)
				cooldownTill = k.CloseTime.Add(cfg.CooldownDuration)
				open = nil
			}
			continue
		}

		if k.CloseTime.Before(cooldownTill) {
			continue
		}
		if len(entryWindow) < strat.RequiredDataPoints() || len(trendWindow) < strat.RequiredDataPoints() {
			continue
		}
		sig, err := strat.Evaluate(ctx, entryWindow, trendWindow, 0)
		if err != nil || sig == nil {
			continue
		}
		if err := riskMgr.ApproveEntry(ctx, k.Symbol, 0, 0, false); err != nil {
			continue
		}

		var volatilityPct float64
		if snap, err := strat.Indicators().Compute(ctx, entryWindow); err == nil {
			volatilityPct = snap.ATRPct * 100
		}
		tp, sl := riskMgr.ExitLevels(sig.Price, domain.Buy, volatilityPct)
		open = &simPosition{
			entryPrice: sig.Price,
			entryTime:  sig.Time,
			takeProfit: tp,
			stopLoss:   sl,
			pos: &domain.Position{
				Symbol:     k.Symbol,
				Side:       domain.Buy,
				EntryPrice: sig.Price,
				StopLoss:   sl,
				TakeProfit: tp,
				EntryTime:  sig.Time,
				Status:     domain.StatusOpen,
			},
		}
	}
	return trades
}

// stepPosition advances an open position through one candle. Stops are
// checked on the low before targets on the high; when both were touched
// within a candle the pessimistic outcome wins.
func stepPosition(riskMgr *risk.Manager, open *simPosition, k *domain.Kline) (simTrade, bool) {
	stop := open.pos.StopLoss
	if k.Low <= stop {
		reason := domain.CloseReasonStopLoss
		if open.pos.TrailingActive {
			reason = domain.CloseReasonTrailingStop
		}
		return closeTrade(open, stop, k.CloseTime, reason), true
	}
	if k.High >= open.pos.TakeProfit {
		return closeTrade(open, open.pos.TakeProfit, k.CloseTime, domain.CloseReasonTakeProfit), true
	}
	riskMgr.UpdateTrailing(open.pos, k.Close)
	return simTrade{}, false
}

func closeTrade(open *simPosition, exitPrice float64, exitTime time.Time, reason domain.CloseReason) simTrade {
	return simTrade{
		entryTime: open.entryTime,
		exitTime:  exitTime,
		pnlPct:    (exitPrice - open.entryPrice) / open.entryPrice * 100,
		reason:    reason,
	}
}

func report(trades []simTrade) {
	var wins, losses int
	var totalPct float64
	byReason := make(map[domain.CloseReason]int)
	for _, t := range trades {
		totalPct += t.pnlPct
		if t.pnlPct > 0 {
			wins++
		} else {
			losses++
		}
		byReason[t.reason]++
	}

	fmt.Printf("Trades:    %d (%d wins, %d losses)\n", len(trades), wins, losses)
	if len(trades) > 0 {
		fmt.Printf("Win rate:  %.1f%%\n", float64(wins)/float64(len(trades))*100)
		fmt.Printf("Total PnL: %.2f%% (avg %.3f%% per trade)\n", totalPct, totalPct/float64(len(trades)))
	}
	for reason, n := range byReason {
		fmt.Printf("  %-14s %d\n", reason, n)
	}
}
