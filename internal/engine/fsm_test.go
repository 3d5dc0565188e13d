package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpbot/internal/domain"
)

func openPosition() *domain.Position {
	return &domain.Position{
		ID:         "pos-1",
		Symbol:     "BTCUSDT",
		Side:       domain.Buy,
		EntryPrice: 100,
		Quantity:   1,
		StopLoss:   99.6,
		TakeProfit: 100.5,
		Status:     domain.StatusOpen,
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := newMachine("BTCUSDT")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, StateIdle, m.State())
	assert.True(t, m.CanEnter(now))

	require.True(t, m.toSignaled(now))
	assert.Equal(t, StateSignaled, m.State())
	assert.False(t, m.CanEnter(now))

	require.True(t, m.toOpen(openPosition()))
	assert.Equal(t, StateOpen, m.State())
	require.NotNil(t, m.Position())

	require.True(t, m.toExiting(domain.CloseReasonTakeProfit))
	assert.Equal(t, StateExiting, m.State())

	until := now.Add(5 * time.Minute)
	require.True(t, m.toCooldown(until))
	assert.Equal(t, StateCooldown, m.State())
	assert.Nil(t, m.Position())
}

func TestMachine_InvalidTransitions(t *testing.T) {
	m := newMachine("BTCUSDT")
	now := time.Now()

	// From IDLE only toSignaled is legal.
	assert.False(t, m.toOpen(openPosition()))
	assert.False(t, m.toExiting(domain.CloseReasonStopLoss))
	assert.False(t, m.toCooldown(now))
	assert.False(t, m.revertToIdle())

	require.True(t, m.toSignaled(now))
	// From SIGNALED, neither exit nor cooldown is legal.
	assert.False(t, m.toExiting(domain.CloseReasonStopLoss))
	assert.False(t, m.toCooldown(now))
	assert.False(t, m.toSignaled(now))

	require.True(t, m.toOpen(openPosition()))
	// Double entry is impossible once OPEN.
	assert.False(t, m.toSignaled(now))
	assert.False(t, m.toOpen(openPosition()))
}

func TestMachine_EntryFailureRevertsToIdle(t *testing.T) {
	m := newMachine("BTCUSDT")
	now := time.Now()

	require.True(t, m.toSignaled(now))
	require.True(t, m.revertToIdle())
	assert.Equal(t, StateIdle, m.State())
	// No cooldown after a failed entry attempt.
	assert.True(t, m.CanEnter(now))
}

func TestMachine_CooldownBlocksAndExpires(t *testing.T) {
	m := newMachine("BTCUSDT")
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	until := start.Add(300 * time.Second)

	require.True(t, m.toSignaled(start))
	require.True(t, m.toOpen(openPosition()))
	require.True(t, m.toExiting(domain.CloseReasonStopLoss))
	require.True(t, m.toCooldown(until))

	// One second before expiry: still blocked.
	almost := until.Add(-time.Second)
	assert.True(t, m.InCooldown(almost))
	assert.False(t, m.CanEnter(almost))
	assert.False(t, m.ExpireCooldown(almost))
	assert.Equal(t, StateCooldown, m.State())

	// Once the timer elapsed the machine is enterable even before any event
	// has flipped the state back to IDLE.
	assert.True(t, m.CanEnter(until))
	assert.True(t, m.CanEnter(until.Add(time.Second)))
	assert.Equal(t, StateCooldown, m.State())

	// At expiry the machine returns to IDLE and entries resume.
	assert.True(t, m.ExpireCooldown(until))
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, m.CanEnter(until))
}

func TestMachine_SignalConsumedPerCandle(t *testing.T) {
	m := newMachine("BTCUSDT")
	candle := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, m.toSignaled(candle))
	require.True(t, m.revertToIdle())

	// Same candle close: the signal was already consumed.
	assert.True(t, m.signalConsumed(candle))
	// Next candle close is fresh.
	assert.False(t, m.signalConsumed(candle.Add(time.Minute)))
}

func TestMachine_ExitTrigger(t *testing.T) {
	newOpen := func() *Machine {
		m := newMachine("BTCUSDT")
		require.True(t, m.toSignaled(time.Now()))
		require.True(t, m.toOpen(openPosition()))
		return m
	}

	t.Run("take profit", func(t *testing.T) {
		m := newOpen()
		reason, ok := m.exitTrigger(100.5)
		require.True(t, ok)
		assert.Equal(t, domain.CloseReasonTakeProfit, reason)
	})

	t.Run("stop loss", func(t *testing.T) {
		m := newOpen()
		reason, ok := m.exitTrigger(99.6)
		require.True(t, ok)
		assert.Equal(t, domain.CloseReasonStopLoss, reason)
	})

	t.Run("trailing stop", func(t *testing.T) {
		m := newOpen()
		m.Position().TrailingActive = true
		m.Position().StopLoss = 100.2
		reason, ok := m.exitTrigger(100.2)
		require.True(t, ok)
		assert.Equal(t, domain.CloseReasonTrailingStop, reason)
	})

	t.Run("inside the band", func(t *testing.T) {
		m := newOpen()
		_, ok := m.exitTrigger(100.1)
		assert.False(t, ok)
	})

	t.Run("not open", func(t *testing.T) {
		m := newMachine("BTCUSDT")
		_, ok := m.exitTrigger(100.5)
		assert.False(t, ok)
	})
}

func TestMachine_ExitRetryScheduling(t *testing.T) {
	m := newMachine("BTCUSDT")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, m.toSignaled(now))
	require.True(t, m.toOpen(openPosition()))
	require.True(t, m.toExiting(domain.CloseReasonStopLoss))

	// Freshly EXITING: the first attempt is due immediately.
	assert.True(t, m.exitRetryDue(now))

	m.scheduleExitRetry(now)
	assert.Equal(t, 1, m.exitAttempts)
	assert.False(t, m.exitRetryDue(now), "backoff must delay the next attempt")
	assert.True(t, m.exitRetryDue(now.Add(time.Minute)))

	m.scheduleExitRetry(now)
	assert.Equal(t, 2, m.exitAttempts)

	// A confirmed exit clears the retry state for the next position.
	require.True(t, m.toCooldown(now.Add(5*time.Minute)))
	require.True(t, m.ExpireCooldown(now.Add(5*time.Minute)))
	require.True(t, m.toSignaled(now.Add(6*time.Minute)))
	require.True(t, m.toOpen(openPosition()))
	require.True(t, m.toExiting(domain.CloseReasonTakeProfit))
	assert.Equal(t, 0, m.exitAttempts)
}

func TestMachine_SeedCooldown(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(300 * time.Second)

	m := newMachine("BTCUSDT")
	require.True(t, m.seedCooldown(until))
	assert.Equal(t, StateCooldown, m.State())
	assert.False(t, m.CanEnter(now))
	assert.True(t, m.CanEnter(until))
	assert.True(t, m.ExpireCooldown(until))
	assert.Equal(t, StateIdle, m.State())

	// Only a fresh machine may be seeded.
	busy := newMachine("BTCUSDT")
	require.True(t, busy.toSignaled(now))
	assert.False(t, busy.seedCooldown(until))
	assert.Equal(t, StateSignaled, busy.State())
}
