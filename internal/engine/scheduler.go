package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"scalpbot/internal/domain"
	"scalpbot/internal/indicators"
	"scalpbot/internal/ports"
	"scalpbot/internal/ranker"
	"scalpbot/internal/risk"
)

const (
	// Candle cache per symbol and timeframe, bounded to keep memory flat.
	maxKlineCacheSize = 500
	// Worker event queue depth. Bursts beyond this drop the oldest intake
	// pressure back onto the stream goroutine.
	workerQueueSize = 64
)

// Config holds the engine's orchestration parameters.
type Config struct {
	EntryInterval       string
	TrendInterval       string
	RankRefreshInterval time.Duration
	CooldownDuration    time.Duration
	OrderTimeout        time.Duration
	MaxExitRetries      int
	MaxTotalPositions   int
	MaxPerSymbol        int
	BaseAsset           string
}

// Engine drives the trading loop: it refreshes the symbol ranking, fans
// market events out to one worker per symbol, and lets the per-symbol state
// machines coordinate entries through the shared limits arbiter.
type Engine struct {
	cfg       Config
	logger    ports.Logger
	exchange  ports.ExchangeClient
	evaluator ports.SignalEvaluator
	vol       *indicators.Engine
	riskMgr   *risk.Manager
	ranker    *ranker.Ranker
	posRepo   ports.PositionRepository
	tradeRepo ports.TradeRepository
	sigRepo   ports.SignalRepository

	limits *Limits
	now    func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
	ranked  map[string]struct{}
	// Symbols de-ranked on the previous sweep; still idle on the next one,
	// their workers are reaped.
	deranked map[string]struct{}
	// Cooldown deadlines that must survive a worker reap, keyed by symbol.
	cooldowns map[string]time.Time
	wg        sync.WaitGroup
}

// New wires the engine. All dependencies are required.
func New(
	cfg Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	evaluator ports.SignalEvaluator,
	vol *indicators.Engine,
	riskMgr *risk.Manager,
	rnk *ranker.Ranker,
	posRepo ports.PositionRepository,
	tradeRepo ports.TradeRepository,
	sigRepo ports.SignalRepository,
) (*Engine, error) {
	if logger == nil || exchange == nil || evaluator == nil || vol == nil || riskMgr == nil || rnk == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	if posRepo == nil || tradeRepo == nil || sigRepo == nil {
		return nil, fmt.Errorf("missing repositories for engine")
	}
	if cfg.EntryInterval == "" || cfg.TrendInterval == "" {
		return nil, fmt.Errorf("entry and trend intervals must be set")
	}
	if cfg.RankRefreshInterval <= 0 || cfg.OrderTimeout <= 0 {
		return nil, fmt.Errorf("refresh interval and order timeout must be positive")
	}
	if cfg.MaxExitRetries <= 0 {
		return nil, fmt.Errorf("max exit retries must be positive")
	}
	if cfg.MaxTotalPositions <= 0 || cfg.MaxPerSymbol <= 0 {
		return nil, fmt.Errorf("position limits must be positive")
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		evaluator: evaluator,
		vol:       vol,
		riskMgr:   riskMgr,
		ranker:    rnk,
		posRepo:   posRepo,
		tradeRepo: tradeRepo,
		sigRepo:   sigRepo,
		limits:    NewLimits(cfg.MaxTotalPositions, cfg.MaxPerSymbol),
		now:       time.Now,
		workers:   make(map[string]*worker),
		ranked:    make(map[string]struct{}),
		deranked:  make(map[string]struct{}),
		cooldowns: make(map[string]time.Time),
	}, nil
}

// Start runs the engine until ctx is cancelled. On shutdown the event intake
// stops first, queued events drain, and workers with an exit in flight are
// allowed to reach a terminal confirmation before Start returns.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info(ctx, "Engine starting", map[string]interface{}{
		"entryInterval": e.cfg.EntryInterval,
		"trendInterval": e.cfg.TrendInterval,
		"rankRefresh":   e.cfg.RankRefreshInterval.String(),
	})

	if err := e.refreshRanking(ctx); err != nil {
		return fmt.Errorf("initial ranking failed: %w", err)
	}

	klineDone, klineStop, tickDone, tickStop, err := e.startStreams(ctx)
	if err != nil {
		return fmt.Errorf("failed to start market streams: %w", err)
	}

	ticker := time.NewTicker(e.cfg.RankRefreshInterval)
	defer ticker.Stop()

	var streamErr error
loop:
	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Shutdown requested, draining workers")
			break loop
		case <-klineDone:
			streamErr = fmt.Errorf("kline stream stopped unexpectedly")
			break loop
		case <-tickDone:
			streamErr = fmt.Errorf("tick stream stopped unexpectedly")
			break loop
		case <-ticker.C:
			if err := e.refreshRanking(ctx); err != nil {
				e.logger.Error(ctx, err, "Ranking refresh failed, keeping previous set")
				continue
			}
			klineDone, klineStop, tickDone, tickStop, err = e.restartStreams(ctx, klineStop, tickStop, klineDone, tickDone)
			if err != nil {
				streamErr = err
				break loop
			}
		}
	}

	stopStream(klineStop, klineDone)
	stopStream(tickStop, tickDone)
	e.drainWorkers()

	if streamErr != nil {
		e.logger.Error(ctx, streamErr, "Engine stopped on stream failure")
		return streamErr
	}
	e.logger.Info(ctx, "Engine stopped")
	return nil
}

// OnCandle routes a closed candle to the owning worker. Exposed so a replay
// feed can drive the engine through the same path as the live stream.
func (e *Engine) OnCandle(k *domain.Kline) {
	if k == nil || !k.IsFinal {
		return
	}
	e.dispatch(k.Symbol, candleEvent{kline: k})
}

// OnTick routes a live price update to the owning worker.
func (e *Engine) OnTick(symbol string, price, spreadPct float64, ts time.Time) {
	e.dispatch(symbol, tickEvent{price: price, spreadPct: spreadPct, ts: ts})
}

func (e *Engine) dispatch(symbol string, ev event) {
	// The send happens under the lock: reaping closes a worker's queue
	// under the same lock, so a send can never hit a closed channel.
	e.mu.Lock()
	w := e.workers[symbol]
	if w == nil {
		e.mu.Unlock()
		return
	}
	select {
	case w.events <- ev:
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		// Queue full: the worker is behind; dropping the newest event is
		// safer than blocking the stream goroutine for every symbol.
		e.logger.Warn(context.Background(), "Worker queue full, dropping event", map[string]interface{}{"symbol": symbol})
	}
}

// refreshRanking recomputes the ranked set, admits new symbols and revokes
// dropped ones. The new set fully replaces the previous one; open positions
// on de-ranked symbols keep their worker until the position closes.
func (e *Engine) refreshRanking(ctx context.Context) error {
	stats, err := e.exchange.GetMarketStats(ctx)
	if err != nil {
		return fmt.Errorf("market stats: %w", err)
	}
	entries := e.ranker.Rank(ctx, stats)

	next := make(map[string]struct{}, len(entries))
	spreads := make(map[string]float64, len(entries))
	for _, en := range entries {
		next[en.Symbol] = struct{}{}
		spreads[en.Symbol] = en.SpreadPct
	}

	e.mu.Lock()
	prev := e.ranked
	e.ranked = next
	var added, removed []string
	for sym := range next {
		if _, ok := prev[sym]; !ok {
			added = append(added, sym)
		}
	}
	for sym := range prev {
		if _, ok := next[sym]; !ok {
			removed = append(removed, sym)
		}
	}
	e.mu.Unlock()

	for _, sym := range added {
		if err := e.admitSymbol(ctx, sym, spreads[sym]); err != nil {
			e.logger.Error(ctx, err, "Failed to admit symbol", map[string]interface{}{"symbol": sym})
		}
	}
	for _, sym := range removed {
		e.revokeSymbol(ctx, sym)
	}
	e.reapIdleWorkers(ctx)

	e.logger.Info(ctx, "Ranking refreshed", map[string]interface{}{
		"ranked":  len(next),
		"added":   len(added),
		"removed": len(removed),
	})
	return nil
}

// admitSymbol ensures a running worker for the symbol, warms its candle
// caches from history and flips its admission flag. spreadPct is the
// ranking snapshot's spread, seeding the spread gate until the first tick.
func (e *Engine) admitSymbol(ctx context.Context, symbol string, spreadPct float64) error {
	e.mu.Lock()
	w, exists := e.workers[symbol]
	delete(e.deranked, symbol)
	e.mu.Unlock()

	if !exists {
		w = e.newWorker(symbol)
		w.lastSpread = spreadPct
		if until, ok := e.pendingCooldown(symbol); ok {
			w.machine.seedCooldown(until)
		}
		if err := e.warmup(ctx, w); err != nil {
			return fmt.Errorf("warmup for %s: %w", symbol, err)
		}
		e.mu.Lock()
		e.workers[symbol] = w
		e.mu.Unlock()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run()
		}()
		e.dispatch(symbol, admitEvent{admitted: true})
		return nil
	}
	e.dispatch(symbol, admitEvent{admitted: true, spreadPct: spreadPct})
	return nil
}

// revokeSymbol stops new entries for a de-ranked symbol. The worker stays
// alive while a position is open so exits remain monitorable; otherwise it
// is shut down on the next sweep.
func (e *Engine) revokeSymbol(ctx context.Context, symbol string) {
	e.dispatch(symbol, admitEvent{admitted: false})
	e.logger.Info(ctx, "Symbol de-ranked, stopping new entries", map[string]interface{}{"symbol": symbol})
}

// reapIdleWorkers shuts down workers that are neither ranked nor holding a
// position slot. A worker survives its first sweep after the de-rank so it
// can drain queued events and process the revocation; on the second sweep
// it is removed. A reaped symbol that ranks again later gets a fresh worker
// and a fresh warmup, so its candle window never carries a silent gap.
func (e *Engine) reapIdleWorkers(ctx context.Context) {
	held := make(map[string]struct{})
	for _, sym := range e.limits.HeldSymbols() {
		held[sym] = struct{}{}
	}

	e.mu.Lock()
	var reaped []string
	for sym, w := range e.workers {
		if _, ok := e.ranked[sym]; ok {
			continue
		}
		if _, ok := held[sym]; ok {
			delete(e.deranked, sym)
			continue
		}
		if _, marked := e.deranked[sym]; !marked {
			e.deranked[sym] = struct{}{}
			continue
		}
		delete(e.deranked, sym)
		delete(e.workers, sym)
		close(w.events)
		reaped = append(reaped, sym)
	}
	e.mu.Unlock()

	if len(reaped) > 0 {
		e.logger.Info(ctx, "Reaped idle de-ranked workers", map[string]interface{}{"symbols": reaped})
	}
}

// rememberCooldown records a cooldown deadline so it outlives the worker.
func (e *Engine) rememberCooldown(symbol string, until time.Time) {
	e.mu.Lock()
	e.cooldowns[symbol] = until
	e.mu.Unlock()
}

// pendingCooldown returns the symbol's unexpired cooldown deadline, if any.
// Expired entries are dropped on read.
func (e *Engine) pendingCooldown(symbol string) (time.Time, bool) {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldowns[symbol]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(until) {
		delete(e.cooldowns, symbol)
		return time.Time{}, false
	}
	return until, true
}

// warmup loads the candle history both timeframes need before evaluation.
func (e *Engine) warmup(ctx context.Context, w *worker) error {
	limit := e.evaluator.RequiredDataPoints()
	entry, err := e.exchange.GetKlines(ctx, w.symbol, e.cfg.EntryInterval, limit)
	if err != nil {
		return fmt.Errorf("entry klines: %w", err)
	}
	trend, err := e.exchange.GetKlines(ctx, w.symbol, e.cfg.TrendInterval, limit)
	if err != nil {
		return fmt.Errorf("trend klines: %w", err)
	}
	w.entryKlines = entry
	w.trendKlines = trend

	filters, err := e.exchange.GetSymbolFilters(ctx, w.symbol)
	if err != nil {
		// Non-fatal: retried lazily at entry time.
		e.logger.Warn(ctx, "Symbol filters unavailable at warmup", map[string]interface{}{"symbol": w.symbol})
	} else {
		w.filters = filters
	}
	return nil
}

// streamSymbols returns the union of ranked symbols and symbols holding a
// position slot (those must stay monitorable for exits regardless of
// ranking). Slot state comes from the serialized limits arbiter; the state
// machines themselves are owned by their worker goroutines and are never
// read from here.
func (e *Engine) streamSymbols() []string {
	held := e.limits.HeldSymbols()

	e.mu.Lock()
	defer e.mu.Unlock()
	set := make(map[string]struct{}, len(e.ranked)+len(held))
	for sym := range e.ranked {
		set[sym] = struct{}{}
	}
	for _, sym := range held {
		set[sym] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	return out
}

func (e *Engine) startStreams(ctx context.Context) (klineDone, klineStop, tickDone, tickStop chan struct{}, err error) {
	symbols := e.streamSymbols()
	if len(symbols) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("no symbols eligible for streaming")
	}
	intervals := []string{e.cfg.EntryInterval, e.cfg.TrendInterval}

	klineDone, klineStop, err = e.exchange.StreamKlines(ctx, symbols, intervals, e.OnCandle, func(err error) {
		e.logger.Error(ctx, err, "Kline stream error")
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("kline stream: %w", err)
	}
	tickDone, tickStop, err = e.exchange.StreamTicks(ctx, symbols, e.OnTick, func(err error) {
		e.logger.Error(ctx, err, "Tick stream error")
	})
	if err != nil {
		stopStream(klineStop, klineDone)
		return nil, nil, nil, nil, fmt.Errorf("tick stream: %w", err)
	}
	return klineDone, klineStop, tickDone, tickStop, nil
}

// restartStreams re-subscribes after a ranking change so new symbols start
// flowing and dropped ones stop.
func (e *Engine) restartStreams(ctx context.Context, oldKlineStop, oldTickStop, oldKlineDone, oldTickDone chan struct{}) (klineDone, klineStop, tickDone, tickStop chan struct{}, err error) {
	stopStream(oldKlineStop, oldKlineDone)
	stopStream(oldTickStop, oldTickDone)
	return e.startStreams(ctx)
}

func stopStream(stopCh, doneCh chan struct{}) {
	if stopCh == nil {
		return
	}
	select {
	case stopCh <- struct{}{}:
	default:
	}
	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(5 * time.Second):
		}
	}
}

// drainWorkers closes all worker queues and waits for them to finish.
// Workers with an exit in flight complete it before returning.
func (e *Engine) drainWorkers() {
	e.mu.Lock()
	for _, w := range e.workers {
		close(w.events)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// --- Per-symbol worker ---

// worker owns one symbol end to end: its candle caches, its state machine
// and its position. Nothing outside the worker goroutine mutates any of it.
type worker struct {
	engine  *Engine
	symbol  string
	events  chan event
	machine *Machine

	admitted    bool
	entryKlines []*domain.Kline
	trendKlines []*domain.Kline
	lastSpread  float64
	lastPrice   float64
	filters     *ports.SymbolFilters
	signalID    int64
}

func (e *Engine) newWorker(symbol string) *worker {
	return &worker{
		engine:  e,
		symbol:  symbol,
		events:  make(chan event, workerQueueSize),
		machine: newMachine(symbol),
	}
}

// run consumes the worker's event queue in arrival order until it is closed,
// then settles any in-flight exit so no position is left ambiguous.
func (w *worker) run() {
	ctx := context.Background()
	for ev := range w.events {
		switch ev := ev.(type) {
		case candleEvent:
			w.handleCandle(ctx, ev.kline)
		case tickEvent:
			w.handleTick(ctx, ev)
		case admitEvent:
			w.admitted = ev.admitted
			if ev.admitted && ev.spreadPct > 0 {
				w.lastSpread = ev.spreadPct
			}
		}
	}
	w.settleOnShutdown(ctx)
}

// handleCandle ingests a closed candle, runs lifecycle housekeeping and, on
// an entry-timeframe close for an admitted idle symbol, evaluates the entry
// rule.
func (w *worker) handleCandle(ctx context.Context, k *domain.Kline) {
	cache := w.cacheFor(k.Interval)
	if cache == nil {
		return
	}
	// Stale data guard: candle times must be monotonically non-decreasing.
	if n := len(*cache); n > 0 && k.CloseTime.Before((*cache)[n-1].CloseTime) {
		w.engine.logger.Warn(ctx, "Discarding out-of-order candle", map[string]interface{}{
			"symbol":    w.symbol,
			"interval":  k.Interval,
			"closeTime": k.CloseTime,
		})
		return
	}
	*cache = append(*cache, k)
	if len(*cache) > maxKlineCacheSize {
		*cache = (*cache)[len(*cache)-maxKlineCacheSize:]
	}

	now := w.engine.now()
	w.machine.ExpireCooldown(now)

	if w.machine.exitRetryDue(now) {
		w.attemptExit(ctx)
		return
	}

	// Candle closes also drive exits, as a slow path behind ticks.
	if w.machine.State() == StateOpen {
		w.lastPrice = k.Close
		w.checkExits(ctx, k.Close)
		return
	}

	if k.Interval != w.engine.cfg.EntryInterval {
		return
	}
	if !w.admitted || !w.machine.CanEnter(now) {
		return
	}
	if w.machine.signalConsumed(k.CloseTime) {
		return
	}
	w.evaluateEntry(ctx, k)
}

// handleTick reacts to live prices: trailing-stop maintenance and
// price-triggered exits run here, faster than candle cadence.
func (w *worker) handleTick(ctx context.Context, t tickEvent) {
	w.lastPrice = t.price
	w.lastSpread = t.spreadPct

	now := w.engine.now()
	w.machine.ExpireCooldown(now)

	switch w.machine.State() {
	case StateOpen:
		w.engine.riskMgr.UpdateTrailing(w.machine.Position(), t.price)
		w.checkExits(ctx, t.price)
	case StateExiting:
		if w.machine.exitRetryDue(now) {
			w.attemptExit(ctx)
		}
	}
}

// evaluateEntry runs the strategy and, when a signal fires, walks it through
// admission, sizing and the entry order.
func (w *worker) evaluateEntry(ctx context.Context, k *domain.Kline) {
	e := w.engine
	sig, err := e.evaluator.Evaluate(ctx, w.entryKlines, w.trendKlines, w.lastSpread)
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientData) {
			// Data fault: skip, not retried, until enough history arrives.
			e.logger.Debug(ctx, "Evaluation skipped, insufficient history", map[string]interface{}{"symbol": w.symbol})
			return
		}
		e.logger.Error(ctx, err, "Signal evaluation failed", map[string]interface{}{"symbol": w.symbol})
		return
	}
	if sig == nil {
		return
	}

	// Every signal is recorded, executed or not; persistence failures never
	// block trading.
	if id, err := e.sigRepo.CreateSignal(ctx, sig); err != nil {
		e.logger.Error(ctx, err, "Failed to store signal", map[string]interface{}{"symbol": w.symbol})
	} else {
		w.signalID = id
	}

	now := e.now()
	total, forSymbol := e.limits.Counts(w.symbol)
	if err := e.riskMgr.ApproveEntry(ctx, w.symbol, total, forSymbol, w.machine.InCooldown(now)); err != nil {
		// Admission fault: dropped with a reason, no retry.
		e.logger.Info(ctx, "Signal dropped by risk manager", map[string]interface{}{
			"symbol": w.symbol,
			"reason": err.Error(),
		})
		return
	}
	if err := e.limits.TryReserve(w.symbol); err != nil {
		e.logger.Info(ctx, "Signal dropped, no position slot", map[string]interface{}{
			"symbol": w.symbol,
			"reason": err.Error(),
		})
		return
	}

	if !w.machine.toSignaled(sig.Time) {
		e.limits.Release(w.symbol)
		return
	}
	w.placeEntry(ctx, sig)
}

// placeEntry sizes and places the entry order. Any failure reverts the
// machine to IDLE and frees the slot: fatal for the attempt, not the symbol.
func (w *worker) placeEntry(ctx context.Context, sig *domain.Signal) {
	e := w.engine
	revert := func(reason string, err error) {
		e.limits.Release(w.symbol)
		w.machine.revertToIdle()
		if err != nil {
			e.logger.Warn(ctx, "Entry attempt failed: "+reason, map[string]interface{}{
				"symbol": w.symbol,
				"error":  err.Error(),
			})
		} else {
			e.logger.Warn(ctx, "Entry attempt failed: "+reason, map[string]interface{}{"symbol": w.symbol})
		}
	}

	if w.filters == nil {
		if filters, err := e.exchange.GetSymbolFilters(ctx, w.symbol); err == nil {
			w.filters = filters
		}
	}

	capital, err := e.exchange.GetAccountBalance(ctx, e.cfg.BaseAsset)
	if err != nil {
		revert("balance query failed", err)
		return
	}
	qty, err := e.riskMgr.PositionSize(capital, sig.Price, w.filters)
	if err != nil {
		revert("sizing rejected", err)
		return
	}

	// The order gets its own deadline, detached from engine shutdown, so an
	// in-flight entry always reaches a fill or a failure.
	orderCtx, cancel := context.WithTimeout(context.Background(), e.cfg.OrderTimeout)
	resp, err := e.exchange.PlaceMarketOrder(orderCtx, w.symbol, domain.Buy, qty)
	cancel()
	if err != nil {
		revert("entry order failed", err)
		return
	}

	entryPrice := resp.AvgPrice
	if entryPrice == 0 {
		entryPrice = sig.Price
	}
	filledQty := resp.ExecutedQty
	if filledQty == 0 {
		filledQty = qty
	}

	volatilityPct := w.volatilityPct(ctx)
	tp, sl := e.riskMgr.ExitLevels(entryPrice, domain.Buy, volatilityPct)

	pos := &domain.Position{
		ID:         uuid.NewString(),
		Symbol:     w.symbol,
		Side:       domain.Buy,
		EntryPrice: entryPrice,
		Quantity:   filledQty,
		StopLoss:   sl,
		TakeProfit: tp,
		EntryTime:  e.now(),
		Status:     domain.StatusOpen,
	}
	if !w.machine.toOpen(pos) {
		// Should not happen with sequential transitions; release defensively.
		e.limits.Release(w.symbol)
		return
	}

	if err := e.posRepo.Create(ctx, pos); err != nil {
		e.logger.Error(ctx, err, "Failed to persist position", map[string]interface{}{"positionID": pos.ID})
	}
	if w.signalID != 0 {
		if err := e.sigRepo.MarkExecuted(ctx, w.signalID, pos.ID); err != nil {
			e.logger.Error(ctx, err, "Failed to mark signal executed", map[string]interface{}{"signalID": w.signalID})
		}
	}
	e.logger.Info(ctx, "Position opened", map[string]interface{}{
		"symbol":     w.symbol,
		"positionID": pos.ID,
		"entryPrice": entryPrice,
		"quantity":   filledQty,
		"takeProfit": tp,
		"stopLoss":   sl,
	})
}

// checkExits transitions OPEN to EXITING when the price crossed a level.
func (w *worker) checkExits(ctx context.Context, price float64) {
	reason, triggered := w.machine.exitTrigger(price)
	if !triggered {
		return
	}
	if !w.machine.toExiting(reason) {
		return
	}
	w.engine.logger.Info(ctx, "Exit triggered", map[string]interface{}{
		"symbol": w.symbol,
		"reason": string(reason),
		"price":  price,
	})
	w.attemptExit(ctx)
}

// attemptExit places the exit order. Failures are retried with backoff on
// subsequent events; leaving a position unexited is the one condition
// treated as critical, so exhausted retries are escalated, never swallowed.
func (w *worker) attemptExit(ctx context.Context) {
	e := w.engine
	pos := w.machine.Position()
	if pos == nil {
		return
	}

	orderCtx, cancel := context.WithTimeout(context.Background(), e.cfg.OrderTimeout)
	resp, err := e.exchange.PlaceMarketOrder(orderCtx, w.symbol, domain.Sell, pos.Quantity)
	cancel()
	if err != nil {
		now := e.now()
		w.machine.scheduleExitRetry(now)
		if w.machine.exitAttempts >= e.cfg.MaxExitRetries {
			e.logger.Error(ctx, ports.ErrUnexitablePosition, "CRITICAL: exit keeps failing", map[string]interface{}{
				"symbol":     w.symbol,
				"positionID": pos.ID,
				"attempts":   w.machine.exitAttempts,
				"lastError":  err.Error(),
			})
		} else {
			e.logger.Warn(ctx, "Exit order failed, will retry", map[string]interface{}{
				"symbol":   w.symbol,
				"attempts": w.machine.exitAttempts,
				"error":    err.Error(),
			})
		}
		return
	}

	exitPrice := resp.AvgPrice
	if exitPrice == 0 {
		exitPrice = w.lastPrice
	}
	w.finalizeClose(ctx, pos, exitPrice)
}

// finalizeClose archives the position, records the trade and starts the
// cooldown.
func (w *worker) finalizeClose(ctx context.Context, pos *domain.Position, exitPrice float64) {
	e := w.engine
	now := e.now()
	reason := w.machine.exitReason

	pos.ExitPrice = exitPrice
	pos.ExitTime = now
	pos.Status = domain.StatusClosed
	pos.CloseReason = reason
	pos.PNL = (exitPrice - pos.EntryPrice) * pos.Quantity

	if err := e.posRepo.Update(ctx, pos); err != nil {
		e.logger.Error(ctx, err, "Failed to persist closed position", map[string]interface{}{"positionID": pos.ID})
	}
	trade := &domain.Trade{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		PNL:         pos.PNL,
		PNLPct:      (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100,
		EntryTime:   pos.EntryTime,
		ExitTime:    now,
		CloseReason: reason,
	}
	if _, err := e.tradeRepo.CreateTrade(ctx, trade); err != nil {
		e.logger.Error(ctx, err, "Failed to persist trade", map[string]interface{}{"positionID": pos.ID})
	}

	e.riskMgr.RecordTradeResult(ctx, pos.Symbol, pos.PNL)
	e.limits.Release(w.symbol)
	cooldownUntil := now.Add(e.cfg.CooldownDuration)
	w.machine.toCooldown(cooldownUntil)
	e.rememberCooldown(w.symbol, cooldownUntil)

	e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol":     w.symbol,
		"positionID": pos.ID,
		"exitPrice":  exitPrice,
		"pnl":        pos.PNL,
		"reason":     string(reason),
		"duration":   trade.Duration().String(),
	})
}

// settleOnShutdown gives an in-flight exit a bounded number of immediate
// attempts so the process never leaves a position in an ambiguous state.
func (w *worker) settleOnShutdown(ctx context.Context) {
	if w.machine.State() != StateExiting {
		return
	}
	e := w.engine
	for attempt := 0; attempt < e.cfg.MaxExitRetries && w.machine.State() == StateExiting; attempt++ {
		w.attemptExit(ctx)
		if w.machine.State() == StateExiting {
			time.Sleep(time.Second)
		}
	}
	if w.machine.State() == StateExiting {
		e.logger.Error(ctx, ports.ErrUnexitablePosition, "CRITICAL: shutting down with unexited position", map[string]interface{}{
			"symbol":     w.symbol,
			"positionID": w.machine.Position().ID,
		})
	}
}

// volatilityPct measures the entry-timeframe ATR% in percent points, the
// input to the volatility-widened exit levels.
func (w *worker) volatilityPct(ctx context.Context) float64 {
	snap, err := w.engine.vol.Compute(ctx, w.entryKlines)
	if err != nil {
		return 0
	}
	return snap.ATRPct * 100
}

func (w *worker) cacheFor(interval string) *[]*domain.Kline {
	switch interval {
	case w.engine.cfg.EntryInterval:
		return &w.entryKlines
	case w.engine.cfg.TrendInterval:
		return &w.trendKlines
	default:
		return nil
	}
}
