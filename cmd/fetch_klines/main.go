package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"scalpbot/config"
	"scalpbot/internal/adapters/binanceclient"
	"scalpbot/internal/adapters/logger"
	"scalpbot/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "symbol to fetch")
	interval := flag.String("interval", "1m", "candle interval")
	days := flag.Int("days", 30, "how many days back to fetch")
	outDir := flag.String("out", "data", "output directory")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger, closeLogger, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer closeLogger()

	client, err := binanceclient.New(binanceclient.Config{
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

	end := time.Now()
	start := end.AddDate(0, 0, -*days)

	appLogger.Info(context.Background(), "Fetching klines", map[string]interface{}{
		"symbol":   *symbol,
		"interval": *interval,
		"from":     start.Format(time.RFC3339),
		"to":       end.Format(time.RFC3339),
	})
	klines, err := client.GetKlinesRange(context.Background(), *symbol, *interval, start, end)
	if err != nil {
		log.Fatalf("Error fetching klines: %v", err)
	}

	filename := fmt.Sprintf("%s/%s_%s_%s_to_%s.csv", *outDir, *symbol, *interval, start.Format("20060102"), end.Format("20060102"))
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(context.Background(), "Saved klines", map[string]interface{}{"filename": filename, "count": len(klines)})
}
