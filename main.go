package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"scalpbot/config"
	"scalpbot/internal/adapters/binanceclient"
	"scalpbot/internal/adapters/logger"
	"scalpbot/internal/adapters/sqlite"
	"scalpbot/internal/engine"
	"scalpbot/internal/ranker"
	"scalpbot/internal/risk"
	"scalpbot/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, closeLogger, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer closeLogger()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize Strategy
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

	// 6. Initialize Risk Manager
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

	// 7. Initialize Symbol Ranker
	symbolRanker, err := ranker.New(ranker.Config{
		TopN:              cfg.TopN,
		QuoteAsset:        cfg.BaseAsset,
		MinVolume24h:      cfg.MinVolume24h,
		MaxSpreadPct:      cfg.MaxSpreadPct,
		MinVolatilityPct:  cfg.MinVolatilityPct,
		MinDailyChangePct: cfg.MinDailyChangePct,
		MinPrice:          cfg.MinPrice,
		ExcludedSymbols:   cfg.ExcludedSymbols,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize symbol ranker: %v", err)
	}

	// 8. Assemble the Engine
	eng, err := engine.New(engine.Config{
		EntryInterval:       cfg.EntryInterval,
		TrendInterval:       cfg.TrendInterval,
		RankRefreshInterval: cfg.RankRefreshInterval,
		CooldownDuration:    cfg.CooldownDuration,
		OrderTimeout:        cfg.OrderTimeout,
		MaxExitRetries:      cfg.MaxExitRetries,
		MaxTotalPositions:   cfg.MaxTotalPositions,
		MaxPerSymbol:        cfg.MaxPositionsPerSymbol,
		BaseAsset:           cfg.BaseAsset,
	}, appLogger, binanceClient, strat, strat.Indicators(), riskMgr, symbolRanker, repo, repo, repo)
	if err != nil {
		log.Fatalf("FATAL: Failed to assemble engine: %v", err)
	}

	// 9. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := binanceClient.Ping(ctx); err != nil {
		log.Fatalf("FATAL: Exchange unreachable: %v", err)
	}

	if err := eng.Start(ctx); err != nil && ctx.Err() == nil {
		appLogger.Error(context.Background(), err, "Engine exited with error")
		log.Fatalf("FATAL: Engine exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
