package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Initial reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key invalid or lacking permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019, -3005, -3041: // Margin/balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014: // Qty/price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Non-API errors (network, context cancellation, parsing)
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w", operation, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.futuresClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// GetAccountBalance retrieves the available balance for a specific asset (e.g., "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == asset {
			balance, err := strconv.ParseFloat(bal.AvailableBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.AvailableBalance, asset, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	err = fmt.Errorf("asset %s not found in account balance", asset)
	return 0, c.handleError(ctx, err, op)
}

// PlaceMarketOrder places a market order and returns the fill result.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	qtyStr := strconv.FormatFloat(quantity, 'f', -1, 64)

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	if resp.Status != string(futures.OrderStatusTypeFilled) {
		// A market order that did not fill within the request is treated as
		// unconfirmed; the caller decides whether to retry.
		err := fmt.Errorf("%w: order %d status %s", ports.ErrOrderPlacementFailed, resp.OrderID, resp.Status)
		c.logger.Warn(ctx, op+": order not filled", map[string]interface{}{"symbol": symbol, "orderID": resp.OrderID, "status": resp.Status})
		return resp, err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": qtyStr, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice})
	return resp, nil
}

// GetSymbolFilters retrieves the lot-size and notional trading rules for a symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	op := "GetSymbolFilters"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filters := &ports.SymbolFilters{Symbol: symbol}
		if lot := s.LotSizeFilter(); lot != nil {
			filters.StepSize, _ = strconv.ParseFloat(lot.StepSize, 64)
			filters.MinQuantity, _ = strconv.ParseFloat(lot.MinQuantity, 64)
		}
		if notional := s.MinNotionalFilter(); notional != nil {
			filters.MinNotional, _ = strconv.ParseFloat(notional.Notional, 64)
		}
		return filters, nil
	}
	return nil, fmt.Errorf("%w: symbol %s not in exchange info", ports.ErrNotFound, symbol)
}

// GetKlines retrieves historical klines/candlestick data for the given symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}

	return domainKlines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and
// end time, paging past the per-request limit.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []*domain.Kline
	const maxLimit = 1500
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dk, err := translateBinanceKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline range: %w", err), op)
			}
			allKlines = append(allKlines, dk)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}

	return allKlines, nil
}

// GetMarketStats returns the 24h snapshot for every listed symbol, enriched
// with the relative book spread, the input for ranking. Filtering by quote
// asset is the ranker's job; the adapter passes the full board through.
func (c *Client) GetMarketStats(ctx context.Context) ([]domain.MarketStat, error) {
	op := "GetMarketStats"
	stats, err := c.futuresClient.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	books, err := c.futuresClient.NewListBookTickersService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	spreadBySymbol := make(map[string]float64, len(books))
	for _, b := range books {
		bid, _ := strconv.ParseFloat(b.BidPrice, 64)
		ask, _ := strconv.ParseFloat(b.AskPrice, 64)
		if mid := (bid + ask) / 2; mid > 0 {
			spreadBySymbol[b.Symbol] = (ask - bid) / mid * 100
		}
	}

	out := make([]domain.MarketStat, 0, len(stats))
	for _, st := range stats {
		last, _ := strconv.ParseFloat(st.LastPrice, 64)
		quoteVol, _ := strconv.ParseFloat(st.QuoteVolume, 64)
		changePct, _ := strconv.ParseFloat(st.PriceChangePercent, 64)
		high, _ := strconv.ParseFloat(st.HighPrice, 64)
		low, _ := strconv.ParseFloat(st.LowPrice, 64)

		var volatilityPct float64
		if last > 0 {
			volatilityPct = (high - low) / last * 100
		}
		out = append(out, domain.MarketStat{
			Symbol:         st.Symbol,
			LastPrice:      last,
			Volume24h:      quoteVol,
			SpreadPct:      spreadBySymbol[st.Symbol],
			VolatilityPct:  volatilityPct,
			DailyChangePct: changePct,
		})
	}
	return out, nil
}

// StreamKlines starts combined WebSocket kline streams for the given symbols,
// one connection per interval. Only final (closed) candles reach the handler.
func (c *Client) StreamKlines(ctx context.Context, symbols []string, intervals []string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	if len(symbols) == 0 || len(intervals) == 0 {
		return nil, nil, fmt.Errorf("%w: symbols and intervals must be non-empty", ports.ErrInvalidRequest)
	}

	binanceHandler := func(event *futures.WsKlineEvent) {
		if event == nil || !event.Kline.IsFinal {
			return
		}
		domainKline, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(ctx, err, op+": Failed to translate WebSocket kline event")
			return
		}
		handler(domainKline)
	}

	connects := make([]connectFunc, 0, len(intervals))
	for _, interval := range intervals {
		pairs := make(map[string]string, len(symbols))
		for _, sym := range symbols {
			pairs[strings.ToUpper(sym)] = interval
		}
		connects = append(connects, func() (chan struct{}, chan struct{}, error) {
			return futures.WsCombinedKlineServe(pairs, binanceHandler, errHandler)
		})
	}
	return c.runStreams(ctx, op, connects, errHandler)
}

// StreamTicks starts a combined book-ticker stream for the given symbols.
// The handler receives the mid price and the relative spread in percent.
func (c *Client) StreamTicks(ctx context.Context, symbols []string, handler func(symbol string, price, spreadPct float64, ts time.Time), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamTicks"
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("%w: symbols must be non-empty", ports.ErrInvalidRequest)
	}

	binanceHandler := func(event *futures.WsBookTickerEvent) {
		if event == nil {
			return
		}
		bid, err1 := strconv.ParseFloat(event.BestBidPrice, 64)
		ask, err2 := strconv.ParseFloat(event.BestAskPrice, 64)
		if err1 != nil || err2 != nil {
			return
		}
		mid := (bid + ask) / 2
		if mid <= 0 {
			return
		}
		handler(event.Symbol, mid, (ask-bid)/mid*100, time.UnixMilli(event.Time))
	}

	upper := make([]string, len(symbols))
	for i, sym := range symbols {
		upper[i] = strings.ToUpper(sym)
	}
	connect := func() (chan struct{}, chan struct{}, error) {
		return futures.WsCombinedBookTickerServe(upper, binanceHandler, errHandler)
	}
	return c.runStreams(ctx, op, []connectFunc{connect}, errHandler)
}

type connectFunc func() (doneCh chan struct{}, stopCh chan struct{}, err error)

// runStreams supervises one or more WebSocket connections under a shared
// lifecycle: each connection reconnects with exponential backoff until the
// attempt budget runs out or the stream is stopped. The returned doneCh
// closes when every connection has terminated; sending on stopCh (or
// cancelling ctx) shuts all of them down.
func (c *Client) runStreams(ctx context.Context, op string, connects []connectFunc, errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	wsCtx, cancelWs := context.WithCancel(ctx)
	var wg sync.WaitGroup

	for i, connect := range connects {
		wg.Add(1)
		go func(idx int, connect connectFunc) {
			defer wg.Done()
			c.superviseStream(wsCtx, fmt.Sprintf("%s[%d]", op, idx), connect, errHandler)
		}(i, connect)
	}

	doneCh = make(chan struct{})
	stopCh = make(chan struct{}, 1)

	go func() {
		select {
		case <-stopCh:
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		wg.Wait()
		cancelWs()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// superviseStream keeps a single WebSocket connection alive, reconnecting
// with jittered exponential backoff after drops, until ctx is cancelled or
// the attempt budget is exhausted.
func (c *Client) superviseStream(ctx context.Context, op string, connect connectFunc, errHandler func(err error)) {
	retry := &backoff.Backoff{
		Min:    c.reconnectDelay,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		innerDoneCh, innerStopCh, connectErr := connect()
		if connectErr != nil {
			attempt++
			if attempt >= c.maxReconnectAttempts {
				c.logger.Error(ctx, connectErr, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
				errHandler(fmt.Errorf("%s: %w: %w", op, ports.ErrConnectionFailed, connectErr))
				return
			}
			delay := retry.Duration()
			c.logger.Warn(ctx, op+": connection failed, retrying", map[string]interface{}{"attempt": attempt, "delay": delay.String()})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}

		c.logger.Info(ctx, op+": WebSocket connection established")
		attempt = 0
		retry.Reset()

		select {
		case <-innerDoneCh:
			c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly, reconnecting")
		case <-ctx.Done():
			select {
			case innerStopCh <- struct{}{}:
			default:
			}
			return
		}
	}
}

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		AvgPrice:      avgPrice,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   k.IsFinal,
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,   // Not present in historical klines
		Interval:  interval, // Not present in historical klines
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true, // Historical klines are always final
	}, nil
}
