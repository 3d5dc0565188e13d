package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Percent-valued fields are expressed in percent points (0.5 means 0.5%).
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Timeframes
	EntryInterval string // Candle interval the entry rule runs on (e.g., "1m")
	TrendInterval string // Candle interval the trend filter runs on (e.g., "5m")

	// Strategy parameters
	EMAFastPeriod int     // e.g., 9
	EMASlowPeriod int     // e.g., 21
	VolumePeriod  int     // Trailing average volume window, e.g., 20
	ATRPeriod     int     // Volatility window, e.g., 14
	MaxSpreadPct  float64 // Entries rejected above this spread

	// Risk parameters
	TakeProfitPct          float64 // Base take-profit distance
	StopLossPct            float64 // Base stop-loss distance
	VolatilityThresholdPct float64 // ATR% level above which targets widen
	TakeProfitWidenPct     float64 // Added to TP in volatile regimes
	StopLossWidenPct       float64 // Added to SL in volatile regimes
	TrailingActivationPct  float64 // Unrealized gain that arms the trailing stop
	TrailingStepPct        float64 // Distance kept below the favorable extreme
	CapitalPerTradePct     float64 // Fraction of capital committed per trade, in percent
	MaxLossStreak          int     // Consecutive losses that block a symbol

	// Position limits
	MaxTotalPositions     int
	MaxPositionsPerSymbol int
	CooldownDuration      time.Duration

	// Symbol ranking
	TopN                int
	RankRefreshInterval time.Duration
	MinVolume24h        float64 // Quote volume floor for eligibility
	MinVolatilityPct    float64
	MinDailyChangePct   float64
	MinPrice            float64
	ExcludedSymbols     []string

	// Execution
	BaseAsset      string        // Quote asset used for sizing and pair eligibility (e.g., "USDT")
	OrderTimeout   time.Duration // Entry/exit confirmation deadline
	MaxExitRetries int           // Exit attempts before escalation

	// Database
	DBPath string

	// Logging
	LogLevel string

	// Connection settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
// All validation failures are collected and reported together; the process
// must not run with an invalid risk configuration.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Timeframes
	cfg.EntryInterval = getEnv("TIMEFRAME_ENTRY", "1m")
	cfg.TrendInterval = getEnv("TIMEFRAME_TREND", "5m")
	if cfg.EntryInterval == "" || cfg.TrendInterval == "" {
		errs = append(errs, "TIMEFRAME_ENTRY and TIMEFRAME_TREND must be set")
	}
	if cfg.EntryInterval == cfg.TrendInterval {
		errs = append(errs, "TIMEFRAME_ENTRY and TIMEFRAME_TREND must differ")
	}

	// Strategy parameters
	cfg.EMAFastPeriod = getEnvAsInt("EMA_FAST", 9)
	cfg.EMASlowPeriod = getEnvAsInt("EMA_SLOW", 21)
	cfg.VolumePeriod = getEnvAsInt("VOLUME_PERIOD", 20)
	cfg.ATRPeriod = getEnvAsInt("ATR_PERIOD", 14)
	if cfg.EMAFastPeriod <= 0 || cfg.EMASlowPeriod <= 0 || cfg.VolumePeriod <= 0 || cfg.ATRPeriod <= 0 {
		errs = append(errs, "strategy periods (EMA, volume, ATR) must be positive")
	}
	if cfg.EMAFastPeriod >= cfg.EMASlowPeriod {
		errs = append(errs, "EMA_FAST must be less than EMA_SLOW")
	}

	cfg.MaxSpreadPct = getEnvAsFloat("MAX_SPREAD_PCT", 0.1)
	if cfg.MaxSpreadPct <= 0 {
		errs = append(errs, "MAX_SPREAD_PCT must be positive")
	}

	// Risk parameters
	cfg.TakeProfitPct = getEnvAsFloat("TAKE_PROFIT_PCT", 0.5)
	cfg.StopLossPct = getEnvAsFloat("STOP_LOSS_PCT", 0.4)
	if cfg.TakeProfitPct <= 0 {
		errs = append(errs, "TAKE_PROFIT_PCT must be positive")
	}
	if cfg.StopLossPct <= 0 {
		errs = append(errs, "STOP_LOSS_PCT must be positive")
	}
	if cfg.StopLossPct >= cfg.TakeProfitPct {
		errs = append(errs, "STOP_LOSS_PCT must be less than TAKE_PROFIT_PCT")
	}

	cfg.VolatilityThresholdPct = getEnvAsFloat("VOLATILITY_THRESHOLD_PCT", 1.0)
	cfg.TakeProfitWidenPct = getEnvAsFloat("TAKE_PROFIT_WIDEN_PCT", 0.5)
	cfg.StopLossWidenPct = getEnvAsFloat("STOP_LOSS_WIDEN_PCT", 0.3)
	if cfg.VolatilityThresholdPct < 0 || cfg.TakeProfitWidenPct < 0 || cfg.StopLossWidenPct < 0 {
		errs = append(errs, "volatility widening parameters cannot be negative")
	}

	cfg.TrailingActivationPct = getEnvAsFloat("TRAILING_ACTIVATION_PCT", 0.3)
	cfg.TrailingStepPct = getEnvAsFloat("TRAILING_STEP_PCT", 0.15)
	if cfg.TrailingActivationPct <= 0 || cfg.TrailingStepPct <= 0 {
		errs = append(errs, "trailing activation and step must be positive")
	}
	if cfg.TrailingStepPct >= cfg.TrailingActivationPct {
		errs = append(errs, "TRAILING_STEP_PCT must be less than TRAILING_ACTIVATION_PCT")
	}

	cfg.CapitalPerTradePct = getEnvAsFloat("CAPITAL_PER_TRADE_PCT", 10.0)
	if cfg.CapitalPerTradePct <= 0 || cfg.CapitalPerTradePct > 100 {
		errs = append(errs, "CAPITAL_PER_TRADE_PCT must be between 0 and 100")
	}

	cfg.MaxLossStreak = getEnvAsInt("MAX_LOSS_STREAK", 3)
	if cfg.MaxLossStreak <= 0 {
		errs = append(errs, "MAX_LOSS_STREAK must be positive")
	}

	// Position limits
	cfg.MaxTotalPositions = getEnvAsInt("MAX_TOTAL_POSITIONS", 3)
	cfg.MaxPositionsPerSymbol = getEnvAsInt("MAX_POSITIONS_PER_PAIR", 1)
	if cfg.MaxTotalPositions <= 0 {
		errs = append(errs, "MAX_TOTAL_POSITIONS must be positive")
	}
	if cfg.MaxPositionsPerSymbol <= 0 {
		errs = append(errs, "MAX_POSITIONS_PER_PAIR must be positive")
	}
	if cfg.MaxPositionsPerSymbol > cfg.MaxTotalPositions {
		errs = append(errs, "MAX_POSITIONS_PER_PAIR cannot exceed MAX_TOTAL_POSITIONS")
	}

	cooldownSeconds := getEnvAsInt("COOLDOWN_SECONDS", 300)
	if cooldownSeconds < 0 {
		errs = append(errs, "COOLDOWN_SECONDS cannot be negative")
	}
	cfg.CooldownDuration = time.Duration(cooldownSeconds) * time.Second

	// Symbol ranking
	cfg.TopN = getEnvAsInt("MAX_PAIRS", 3)
	if cfg.TopN <= 0 {
		errs = append(errs, "MAX_PAIRS must be positive")
	}
	rankRefreshMinutes := getEnvAsInt("RANK_REFRESH_INTERVAL_MIN", 15)
	if rankRefreshMinutes <= 0 {
		errs = append(errs, "RANK_REFRESH_INTERVAL_MIN must be positive")
	}
	cfg.RankRefreshInterval = time.Duration(rankRefreshMinutes) * time.Minute

	cfg.MinVolume24h = getEnvAsFloat("MIN_VOLUME_24H", 30000000)
	cfg.MinVolatilityPct = getEnvAsFloat("MIN_VOLATILITY", 0.3)
	cfg.MinDailyChangePct = getEnvAsFloat("MIN_DAILY_CHANGE_PCT", 1.5)
	cfg.MinPrice = getEnvAsFloat("MIN_PRICE", 0.01)
	if cfg.MinVolume24h < 0 || cfg.MinVolatilityPct < 0 || cfg.MinDailyChangePct < 0 || cfg.MinPrice < 0 {
		errs = append(errs, "ranking thresholds cannot be negative")
	}
	// Stablecoin pairs are useless for scalping, excluded by default.
	cfg.ExcludedSymbols = getEnvAsList("EXCLUDED_SYMBOLS",
		[]string{"USDCUSDT", "BUSDUSDT", "TUSDUSDT", "USDPUSDT", "FDUSDUSDT"})

	// Execution
	cfg.BaseAsset = getEnv("BASE_ASSET", "USDT")
	orderTimeoutSeconds := getEnvAsInt("ORDER_TIMEOUT_SECONDS", 10)
	if orderTimeoutSeconds <= 0 {
		errs = append(errs, "ORDER_TIMEOUT_SECONDS must be positive")
	}
	cfg.OrderTimeout = time.Duration(orderTimeoutSeconds) * time.Second
	cfg.MaxExitRetries = getEnvAsInt("MAX_EXIT_RETRIES", 5)
	if cfg.MaxExitRetries <= 0 {
		errs = append(errs, "MAX_EXIT_RETRIES must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/scalpbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

	// Connection settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env var helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
