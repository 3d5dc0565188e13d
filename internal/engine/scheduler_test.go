package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpbot/internal/domain"
	"scalpbot/internal/indicators"
	"scalpbot/internal/ports"
	"scalpbot/internal/ranker"
	"scalpbot/internal/risk"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockExchange struct {
	balance     float64
	balanceErr  error
	filters     *ports.SymbolFilters
	orders      []placedOrder
	orderErr    error
	fillPrice   float64
	marketStats []domain.MarketStat
	klineCalls  int
}

type placedOrder struct {
	symbol   string
	side     domain.OrderSide
	quantity float64
}

func (m *mockExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	m.klineCalls++
	return nil, nil
}

func (m *mockExchange) StreamKlines(ctx context.Context, symbols, intervals []string, handler func(kline *domain.Kline), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}, 1), nil
}

func (m *mockExchange) StreamTicks(ctx context.Context, symbols []string, handler func(symbol string, price, spreadPct float64, ts time.Time), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}, 1), nil
}

func (m *mockExchange) GetMarketStats(ctx context.Context) ([]domain.MarketStat, error) {
	return m.marketStats, nil
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	m.orders = append(m.orders, placedOrder{symbol: symbol, side: side, quantity: quantity})
	return &ports.OrderResponse{
		OrderID:     int64(len(m.orders)),
		Symbol:      symbol,
		AvgPrice:    m.fillPrice,
		ExecutedQty: quantity,
		Status:      "FILLED",
		Side:        string(side),
	}, nil
}

func (m *mockExchange) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	if m.filters == nil {
		return nil, ports.ErrNotFound
	}
	return m.filters, nil
}

func (m *mockExchange) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	return m.balance, m.balanceErr
}

func (m *mockExchange) Ping(ctx context.Context) error { return nil }

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

type mockPositionRepo struct {
	created []*domain.Position
	updated []*domain.Position
}

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) error {
	m.created = append(m.created, pos)
	return nil
}

func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error {
	m.updated = append(m.updated, pos)
	return nil
}

func (m *mockPositionRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	return nil, nil
}

func (m *mockPositionRepo) FindByID(ctx context.Context, id string) (*domain.Position, error) {
	return nil, nil
}

type mockTradeRepo struct {
	trades []*domain.Trade
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *mockTradeRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *mockTradeRepo) TotalPNL(ctx context.Context) (float64, error) { return 0, nil }

type mockSignalRepo struct {
	signals  []*domain.Signal
	executed []string
}

func (m *mockSignalRepo) CreateSignal(ctx context.Context, sig *domain.Signal) (int64, error) {
	m.signals = append(m.signals, sig)
	return int64(len(m.signals)), nil
}

func (m *mockSignalRepo) MarkExecuted(ctx context.Context, signalID int64, positionID string) error {
	m.executed = append(m.executed, positionID)
	return nil
}

type stubEvaluator struct {
	signal *domain.Signal
}

func (s *stubEvaluator) RequiredDataPoints() int { return 1 }

func (s *stubEvaluator) Evaluate(ctx context.Context, entryKlines, trendKlines []*domain.Kline, spreadPct float64) (*domain.Signal, error) {
	return s.signal, nil
}

// Test fixture

type fixture struct {
	engine   *Engine
	exchange *mockExchange
	posRepo  *mockPositionRepo
	trades   *mockTradeRepo
	signals  *mockSignalRepo
	eval     *stubEvaluator
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := &mockLogger{}

	exchange := &mockExchange{
		balance:   1000,
		fillPrice: 100,
		filters:   &ports.SymbolFilters{StepSize: 0.001, MinQuantity: 0.001},
	}
	riskMgr, err := risk.New(risk.Config{
		MaxTotalPositions:      3,
		MaxPositionsPerSymbol:  1,
		TakeProfitPct:          0.5,
		StopLossPct:            0.4,
		VolatilityThresholdPct: 1.0,
		TakeProfitWidenPct:     0.5,
		StopLossWidenPct:       0.3,
		TrailingActivationPct:  0.3,
		TrailingStepPct:        0.15,
		CapitalPerTradePct:     10,
		MaxLossStreak:          3,
	}, logger)
	require.NoError(t, err)
	rnk, err := ranker.New(ranker.Config{TopN: 3, MaxSpreadPct: 0.1}, logger)
	require.NoError(t, err)
	vol, err := indicators.NewEngine(indicators.EngineConfig{FastPeriod: 2, SlowPeriod: 3, VolumePeriod: 3, ATRPeriod: 2})
	require.NoError(t, err)

	posRepo := &mockPositionRepo{}
	trades := &mockTradeRepo{}
	signals := &mockSignalRepo{}
	eval := &stubEvaluator{}

	eng, err := New(Config{
		EntryInterval:       "1m",
		TrendInterval:       "5m",
		RankRefreshInterval: 15 * time.Minute,
		CooldownDuration:    300 * time.Second,
		OrderTimeout:        10 * time.Second,
		MaxExitRetries:      5,
		MaxTotalPositions:   3,
		MaxPerSymbol:        1,
		BaseAsset:           "USDT",
	}, logger, exchange, eval, vol, riskMgr, rnk, posRepo, trades, signals)
	require.NoError(t, err)

	f := &fixture{
		engine:   eng,
		exchange: exchange,
		posRepo:  posRepo,
		trades:   trades,
		signals:  signals,
		eval:     eval,
		now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	eng.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) newAdmittedWorker(symbol string) *worker {
	w := f.engine.newWorker(symbol)
	w.admitted = true
	return w
}

func entryCandle(symbol string, closeTime time.Time, closePrice float64) *domain.Kline {
	return &domain.Kline{
		Symbol:    symbol,
		Interval:  "1m",
		OpenTime:  closeTime.Add(-time.Minute),
		CloseTime: closeTime,
		Open:      closePrice - 0.5,
		High:      closePrice + 0.2,
		Low:       closePrice - 0.8,
		Close:     closePrice,
		Volume:    100,
		IsFinal:   true,
	}
}

func signalAt(symbol string, ts time.Time, price float64) *domain.Signal {
	return &domain.Signal{
		Symbol:    symbol,
		Direction: domain.Buy,
		Price:     price,
		Time:      ts,
	}
}

// Tests

func TestWorker_EntryFlow(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	ctx := context.Background()

	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))

	assert.Equal(t, StateOpen, w.machine.State())
	require.Len(t, f.exchange.orders, 1)
	assert.Equal(t, domain.Buy, f.exchange.orders[0].side)
	// 1000 * 10% / 100 = 1 unit.
	assert.InDelta(t, 1.0, f.exchange.orders[0].quantity, 1e-9)

	pos := w.machine.Position()
	require.NotNil(t, pos)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.InDelta(t, 100.5, pos.TakeProfit, 0.001)
	assert.InDelta(t, 99.6, pos.StopLoss, 0.001)

	require.Len(t, f.posRepo.created, 1)
	require.Len(t, f.signals.signals, 1)
	require.Len(t, f.signals.executed, 1)
	assert.Equal(t, pos.ID, f.signals.executed[0])

	total, forSymbol := f.engine.limits.Counts("BTCUSDT")
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, forSymbol)
}

func TestWorker_NoDuplicateSignalPerCandle(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	ctx := context.Background()

	// Entry order fails, machine reverts to IDLE.
	f.exchange.orderErr = errors.New("boom")
	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))
	assert.Equal(t, StateIdle, w.machine.State())

	// The slot reserved for the failed attempt must be back.
	total, _ := f.engine.limits.Counts("BTCUSDT")
	assert.Equal(t, 0, total)

	// Same candle close again: signal already consumed, no new attempt.
	f.exchange.orderErr = nil
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))
	assert.Equal(t, StateIdle, w.machine.State())
	assert.Empty(t, f.exchange.orders)

	// The next candle is a fresh opportunity.
	f.now = f.now.Add(time.Minute)
	f.eval.signal = signalAt("BTCUSDT", f.now, 101)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 101))
	assert.Equal(t, StateOpen, w.machine.State())
}

func TestWorker_SignalDroppedAtGlobalCap(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	ctx := context.Background()

	require.NoError(t, f.engine.limits.TryReserve("AAAUSDT"))
	require.NoError(t, f.engine.limits.TryReserve("BBBUSDT"))
	require.NoError(t, f.engine.limits.TryReserve("CCCUSDT"))

	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))

	assert.Equal(t, StateIdle, w.machine.State())
	assert.Empty(t, f.exchange.orders, "no order may be placed past the global cap")
	require.Len(t, f.signals.signals, 1, "the dropped signal is still recorded")
	assert.Empty(t, f.signals.executed)
}

func TestWorker_NotAdmittedNoEvaluation(t *testing.T) {
	f := newFixture(t)
	w := f.engine.newWorker("BTCUSDT") // never admitted
	ctx := context.Background()

	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))

	assert.Equal(t, StateIdle, w.machine.State())
	assert.Empty(t, f.signals.signals)
}

func TestWorker_TickExitAtTakeProfit(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	ctx := context.Background()

	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))
	require.Equal(t, StateOpen, w.machine.State())

	f.now = f.now.Add(30 * time.Second)
	f.exchange.fillPrice = 100.6
	w.handleTick(ctx, tickEvent{price: 100.6, spreadPct: 0.02, ts: f.now})

	assert.Equal(t, StateCooldown, w.machine.State())
	require.Len(t, f.exchange.orders, 2)
	assert.Equal(t, domain.Sell, f.exchange.orders[1].side)

	require.Len(t, f.trades.trades, 1)
	trade := f.trades.trades[0]
	assert.Equal(t, domain.CloseReasonTakeProfit, trade.CloseReason)
	assert.InDelta(t, 0.6, trade.PNL, 1e-9)

	require.Len(t, f.posRepo.updated, 1)
	assert.Equal(t, domain.StatusClosed, f.posRepo.updated[0].Status)

	// Slot released, but cooldown still blocks re-entry.
	total, _ := f.engine.limits.Counts("BTCUSDT")
	assert.Equal(t, 0, total)
	assert.False(t, w.machine.CanEnter(f.now))
	assert.True(t, w.machine.CanEnter(f.now.Add(301*time.Second)))

	// The cooldown deadline is also recorded engine-side so it survives a
	// worker reap.
	until, ok := f.engine.pendingCooldown("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, f.now.Add(300*time.Second), until)
}

func TestWorker_StopLossViaCandle(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	ctx := context.Background()

	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))
	require.Equal(t, StateOpen, w.machine.State())

	// Candle closes below the stop; exits also fire on the candle path.
	f.now = f.now.Add(time.Minute)
	f.exchange.fillPrice = 99.5
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 99.5))

	assert.Equal(t, StateCooldown, w.machine.State())
	require.Len(t, f.trades.trades, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, f.trades.trades[0].CloseReason)
	assert.True(t, f.trades.trades[0].PNL < 0)
}

func TestWorker_ExitRetriesUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	ctx := context.Background()

	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))
	require.Equal(t, StateOpen, w.machine.State())

	// Exit order keeps failing: position must stay in EXITING, never lost.
	f.exchange.orderErr = errors.New("exchange down")
	f.now = f.now.Add(30 * time.Second)
	w.handleTick(ctx, tickEvent{price: 100.6, spreadPct: 0.02, ts: f.now})
	assert.Equal(t, StateExiting, w.machine.State())
	assert.Equal(t, 1, w.machine.exitAttempts)

	// Retry comes due and fails again.
	f.now = f.now.Add(time.Minute)
	w.handleTick(ctx, tickEvent{price: 100.6, spreadPct: 0.02, ts: f.now})
	assert.Equal(t, StateExiting, w.machine.State())
	assert.Equal(t, 2, w.machine.exitAttempts)

	// Exchange recovers: the next due retry confirms the exit.
	f.exchange.orderErr = nil
	f.exchange.fillPrice = 100.6
	f.now = f.now.Add(time.Minute)
	w.handleTick(ctx, tickEvent{price: 100.6, spreadPct: 0.02, ts: f.now})
	assert.Equal(t, StateCooldown, w.machine.State())
	require.Len(t, f.trades.trades, 1)
}

func TestWorker_TrailingStopReasonOnTickExit(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	ctx := context.Background()

	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))
	require.Equal(t, StateOpen, w.machine.State())

	// Price runs up enough to arm and ratchet the trailing stop.
	f.now = f.now.Add(10 * time.Second)
	w.handleTick(ctx, tickEvent{price: 100.45, spreadPct: 0.02, ts: f.now})
	require.Equal(t, StateOpen, w.machine.State())
	require.True(t, w.machine.Position().TrailingActive)
	raisedStop := w.machine.Position().StopLoss
	assert.Greater(t, raisedStop, 99.6)

	// Pullback to the raised stop closes as TRAILING_STOP, not STOP_LOSS.
	f.now = f.now.Add(10 * time.Second)
	f.exchange.fillPrice = raisedStop
	w.handleTick(ctx, tickEvent{price: raisedStop, spreadPct: 0.02, ts: f.now})

	assert.Equal(t, StateCooldown, w.machine.State())
	require.Len(t, f.trades.trades, 1)
	assert.Equal(t, domain.CloseReasonTrailingStop, f.trades.trades[0].CloseReason)
}

func TestWorker_StaleCandleDiscarded(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	ctx := context.Background()

	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now, 100))
	require.Len(t, w.entryKlines, 1)

	// A candle older than the newest cached one is dropped.
	w.handleCandle(ctx, entryCandle("BTCUSDT", f.now.Add(-time.Minute), 99))
	assert.Len(t, w.entryKlines, 1)
	assert.Equal(t, 100.0, w.entryKlines[0].Close)
}

func TestWorker_EntryFailureReasons(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"balance query fails", func(f *fixture) { f.exchange.balanceErr = errors.New("auth") }},
		{"no capital", func(f *fixture) { f.exchange.balance = 0 }},
		{"order rejected", func(f *fixture) { f.exchange.orderErr = errors.New("rejected") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			w := f.newAdmittedWorker("BTCUSDT")

			f.eval.signal = signalAt("BTCUSDT", f.now, 100)
			w.handleCandle(context.Background(), entryCandle("BTCUSDT", f.now, 100))

			// Failed attempt: back to IDLE with the slot released, no cooldown.
			assert.Equal(t, StateIdle, w.machine.State())
			total, _ := f.engine.limits.Counts("BTCUSDT")
			assert.Equal(t, 0, total)
			assert.True(t, w.machine.CanEnter(f.now.Add(time.Second)))
		})
	}
}

func rankableStat(symbol string) domain.MarketStat {
	return domain.MarketStat{
		Symbol:         symbol,
		LastPrice:      100,
		Volume24h:      1e8,
		SpreadPct:      0.02,
		VolatilityPct:  1.0,
		DailyChangePct: 2.0,
	}
}

func (f *fixture) workerFor(symbol string) *worker {
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	return f.engine.workers[symbol]
}

func (f *fixture) workerCount() int {
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	return len(f.engine.workers)
}

func TestEngine_StreamSymbolsFollowSlots(t *testing.T) {
	f := newFixture(t)
	f.engine.mu.Lock()
	f.engine.ranked = map[string]struct{}{"AAAUSDT": {}}
	f.engine.mu.Unlock()

	// A symbol holding a position slot stays streamed even when de-ranked.
	require.NoError(t, f.engine.limits.TryReserve("BTCUSDT"))
	assert.ElementsMatch(t, []string{"AAAUSDT", "BTCUSDT"}, f.engine.streamSymbols())

	f.engine.limits.Release("BTCUSDT")
	assert.ElementsMatch(t, []string{"AAAUSDT"}, f.engine.streamSymbols())
}

func TestEngine_StreamSymbolsConcurrentWithWorker(t *testing.T) {
	f := newFixture(t)
	w := f.newAdmittedWorker("BTCUSDT")
	f.engine.mu.Lock()
	f.engine.workers["BTCUSDT"] = w
	f.engine.mu.Unlock()

	var workerDone sync.WaitGroup
	workerDone.Add(1)
	go func() {
		defer workerDone.Done()
		w.run()
	}()

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for i := 0; i < 500; i++ {
			f.engine.streamSymbols()
		}
	}()

	// Drive a full entry and exit cycle through the worker goroutine while
	// the stream-set reader runs.
	f.eval.signal = signalAt("BTCUSDT", f.now, 100)
	f.engine.dispatch("BTCUSDT", candleEvent{kline: entryCandle("BTCUSDT", f.now, 100)})
	f.engine.dispatch("BTCUSDT", tickEvent{price: 100.6, spreadPct: 0.02, ts: f.now})

	readers.Wait()
	f.engine.mu.Lock()
	close(w.events)
	delete(f.engine.workers, "BTCUSDT")
	f.engine.mu.Unlock()
	workerDone.Wait()

	assert.Equal(t, StateCooldown, w.machine.State())
	require.Len(t, f.trades.trades, 1)
}

func TestEngine_ReapsDerankedIdleWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.exchange.marketStats = []domain.MarketStat{rankableStat("AAAUSDT")}
	require.NoError(t, f.engine.refreshRanking(ctx))
	require.Equal(t, 1, f.workerCount())
	assert.Equal(t, 2, f.exchange.klineCalls, "admission warms both timeframes")

	// First sweep after the de-rank: the worker survives to drain its queue.
	f.exchange.marketStats = nil
	require.NoError(t, f.engine.refreshRanking(ctx))
	assert.Equal(t, 1, f.workerCount())

	// Second sweep: still de-ranked and idle, the worker is reaped.
	require.NoError(t, f.engine.refreshRanking(ctx))
	assert.Equal(t, 0, f.workerCount())

	// Re-admission builds a fresh worker and re-runs warmup, so the candle
	// window never carries a gap from the de-ranked period.
	f.exchange.marketStats = []domain.MarketStat{rankableStat("AAAUSDT")}
	require.NoError(t, f.engine.refreshRanking(ctx))
	require.Equal(t, 1, f.workerCount())
	assert.Equal(t, 4, f.exchange.klineCalls)
}

func TestEngine_ReapSparesSlotHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.exchange.marketStats = []domain.MarketStat{rankableStat("AAAUSDT")}
	require.NoError(t, f.engine.refreshRanking(ctx))
	require.NoError(t, f.engine.limits.TryReserve("AAAUSDT"))

	f.exchange.marketStats = nil
	require.NoError(t, f.engine.refreshRanking(ctx))
	require.NoError(t, f.engine.refreshRanking(ctx))
	require.NoError(t, f.engine.refreshRanking(ctx))
	assert.Equal(t, 1, f.workerCount(), "a worker with a position in flight is never reaped")

	// Once the slot is released the usual two-sweep reap applies.
	f.engine.limits.Release("AAAUSDT")
	require.NoError(t, f.engine.refreshRanking(ctx))
	require.NoError(t, f.engine.refreshRanking(ctx))
	assert.Equal(t, 0, f.workerCount())
}

func TestEngine_CooldownSurvivesReap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.rememberCooldown("BTCUSDT", f.now.Add(300*time.Second))
	require.NoError(t, f.engine.admitSymbol(ctx, "BTCUSDT", 0.02))

	w := f.workerFor("BTCUSDT")
	require.NotNil(t, w)
	assert.Equal(t, StateCooldown, w.machine.State())
	assert.False(t, w.machine.CanEnter(f.now))
	assert.True(t, w.machine.CanEnter(f.now.Add(301*time.Second)))
}

func TestEngine_ExpiredCooldownNotSeeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.rememberCooldown("BTCUSDT", f.now.Add(-time.Second))
	require.NoError(t, f.engine.admitSymbol(ctx, "BTCUSDT", 0.02))

	w := f.workerFor("BTCUSDT")
	require.NotNil(t, w)
	assert.Equal(t, StateIdle, w.machine.State())
	assert.True(t, w.machine.CanEnter(f.now))
}

func TestEngine_AdmitSeedsSpread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.admitSymbol(ctx, "BTCUSDT", 0.07))

	w := f.workerFor("BTCUSDT")
	require.NotNil(t, w)
	assert.Equal(t, 0.07, w.lastSpread)
}
