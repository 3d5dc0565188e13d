package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet, "testnet must be the default for safety")
	assert.Equal(t, "1m", cfg.EntryInterval)
	assert.Equal(t, "5m", cfg.TrendInterval)

	assert.Equal(t, 9, cfg.EMAFastPeriod)
	assert.Equal(t, 21, cfg.EMASlowPeriod)
	assert.Equal(t, 20, cfg.VolumePeriod)
	assert.Equal(t, 14, cfg.ATRPeriod)
	assert.Equal(t, 0.1, cfg.MaxSpreadPct)

	assert.Equal(t, 0.5, cfg.TakeProfitPct)
	assert.Equal(t, 0.4, cfg.StopLossPct)
	assert.Equal(t, 0.3, cfg.TrailingActivationPct)
	assert.Equal(t, 0.15, cfg.TrailingStepPct)
	assert.Equal(t, 10.0, cfg.CapitalPerTradePct)
	assert.Equal(t, 3, cfg.MaxLossStreak)

	assert.Equal(t, 3, cfg.MaxTotalPositions)
	assert.Equal(t, 1, cfg.MaxPositionsPerSymbol)
	assert.Equal(t, 300*time.Second, cfg.CooldownDuration)

	assert.Equal(t, 3, cfg.TopN)
	assert.Equal(t, 15*time.Minute, cfg.RankRefreshInterval)
	assert.Equal(t, 30000000.0, cfg.MinVolume24h)
	assert.Contains(t, cfg.ExcludedSymbols, "USDCUSDT")

	assert.Equal(t, "USDT", cfg.BaseAsset)
	assert.Equal(t, 10*time.Second, cfg.OrderTimeout)
	assert.Equal(t, 5, cfg.MaxExitRetries)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TAKE_PROFIT_PCT", "1.2")
	t.Setenv("STOP_LOSS_PCT", "0.8")
	t.Setenv("MAX_PAIRS", "5")
	t.Setenv("COOLDOWN_SECONDS", "60")
	t.Setenv("EXCLUDED_SYMBOLS", "AAAUSDT, BBBUSDT")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1.2, cfg.TakeProfitPct)
	assert.Equal(t, 0.8, cfg.StopLossPct)
	assert.Equal(t, 5, cfg.TopN)
	assert.Equal(t, time.Minute, cfg.CooldownDuration)
	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT"}, cfg.ExcludedSymbols)
}

func TestLoadConfig_CollectsAllValidationErrors(t *testing.T) {
	t.Setenv("TAKE_PROFIT_PCT", "0.3")
	t.Setenv("STOP_LOSS_PCT", "0.5") // above take-profit
	t.Setenv("MAX_PAIRS", "0")
	t.Setenv("MAX_EXIT_RETRIES", "-1")

	_, err := LoadConfig()
	require.Error(t, err)
	// Every violation is reported at once, not just the first.
	assert.Contains(t, err.Error(), "STOP_LOSS_PCT must be less than TAKE_PROFIT_PCT")
	assert.Contains(t, err.Error(), "MAX_PAIRS must be positive")
	assert.Contains(t, err.Error(), "MAX_EXIT_RETRIES must be positive")
}

func TestLoadConfig_IdenticalTimeframesRejected(t *testing.T) {
	t.Setenv("TIMEFRAME_ENTRY", "1m")
	t.Setenv("TIMEFRAME_TREND", "1m")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoadConfig_MalformedNumberFallsBackToDefault(t *testing.T) {
	t.Setenv("EMA_FAST", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.EMAFastPeriod)
}
