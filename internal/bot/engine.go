// Package bot drives the scan→signal→trade cycle. Two Engine
// instances run concurrently, one per trading mode, under a single
// user's settings; the Manager owns both.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/ai"
	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/market"
	"bybit-trading-bot/internal/pnl"
	"bybit-trading-bot/internal/strategy"
	"bybit-trading-bot/internal/trading"
)

// Status is the engine lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusDegraded Status = "degraded"
	StatusStopping Status = "stopping"
)

var (
	ErrAlreadyRunning     = errors.New("bot: already running")
	ErrCredentialsMissing = errors.New("bot: live trading requires exchange credentials")
	ErrWrongEngine        = errors.New("bot: position belongs to the other trading mode")
)

// consecutive failed cycles before the engine reports Degraded.
const degradedThreshold = 2

// MarketData is the slice of the market service the engine needs.
type MarketData interface {
	BatchFetchOHLCV(ctx context.Context, symbols []string, timeframe string, limit int, forSpot bool) map[string][]trading.Candle
	LatestPrice(ctx context.Context, symbol string) (float64, error)
	GetMarketData(ctx context.Context, symbol string, forSpot bool) (*database.MarketData, error)
}

// Exchange is the authenticated order surface. Credentials come from
// the settings row and are installed once at bot start.
type Exchange interface {
	PlaceOrder(ctx context.Context, req bybit.OrderRequest) (*bybit.OrderResult, error)
	GetWalletBalance(ctx context.Context, coin string) (decimal.Decimal, error)
	SetCredentials(apiKey, apiSecret string)
}

// TickerSource feeds the live stop-loss monitor.
type TickerSource interface {
	Events() <-chan bybit.TickerEvent
	Connect(symbols []string)
	Close()
}

// Advisor is the optional AI signal path.
type Advisor interface {
	Advise(ctx context.Context, market ai.MarketSnapshot, snap *indicators.Snapshot, cfg strategy.Config) (*trading.Signal, error)
}

// Config are the engine knobs; zero values take defaults.
type Config struct {
	Mode            trading.Mode
	UniverseSize    int
	ScanInterval    time.Duration
	MonitorInterval time.Duration
	CandleLimit     int
}

func (c *Config) applyDefaults() {
	if c.UniverseSize <= 0 {
		c.UniverseSize = 20
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 30 * time.Minute
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 10 * time.Second
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 100
	}
}

// Engine runs one bot. Start and Stop are serialized; every loop
// checks the run context at its suspension points.
type Engine struct {
	cfg      Config
	repo     *database.Repository
	market   MarketData
	exchange Exchange
	tickers  TickerSource
	advisor  Advisor
	bus      *events.Bus
	logger   zerolog.Logger

	mu       sync.Mutex
	status   Status
	userID   string
	cancel   context.CancelFunc
	failures int
	wg       sync.WaitGroup

	priceMu sync.RWMutex
	prices  map[string]float64
}

// NewEngine wires one engine. tickers and advisor may be nil.
func NewEngine(cfg Config, repo *database.Repository, mkt MarketData, exch Exchange, tickers TickerSource, advisor Advisor, bus *events.Bus, logger zerolog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		repo:     repo,
		market:   mkt,
		exchange: exch,
		tickers:  tickers,
		advisor:  advisor,
		bus:      bus,
		logger:   logger.With().Str("component", "bot").Str("mode", string(cfg.Mode)).Logger(),
		status:   StatusStopped,
		prices:   make(map[string]float64),
	}
}

// Mode returns the engine's trading mode.
func (e *Engine) Mode() trading.Mode { return e.cfg.Mode }

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Start transitions Stopped → Starting → Running and launches the
// scan loop. Live mode without credentials fails fast.
func (e *Engine) Start(userID string) error {
	e.mu.Lock()
	if e.status != StatusStopped {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.status = StatusStarting

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	settings, err := e.repo.GetTradingSettings(ctx, userID)
	cancel()
	if err != nil {
		e.status = StatusStopped
		e.mu.Unlock()
		return fmt.Errorf("bot: read settings: %w", err)
	}
	live := !settings.PaperTrading(e.cfg.Mode)
	if live {
		if !settings.HasCredentials() {
			e.status = StatusStopped
			e.mu.Unlock()
			return ErrCredentialsMissing
		}
		e.exchange.SetCredentials(settings.APIKey, settings.APISecret)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	e.userID = userID
	e.cancel = cancelRun
	e.failures = 0
	e.status = StatusRunning

	e.wg.Add(1)
	go e.run(runCtx)
	if live && e.tickers != nil {
		e.wg.Add(1)
		go e.monitorLive(runCtx)
	}
	// publishStatus and botLog re-read the user id under e.mu, so the
	// lock must be released before they run
	e.mu.Unlock()

	e.publishStatus(StatusRunning)
	e.botLog(runCtx, database.LogInfo, fmt.Sprintf("%s bot started", e.cfg.Mode), "", nil)
	return nil
}

// Stop cancels the loops and waits for them. Stopping a stopped
// engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.status == StatusStopped {
		e.mu.Unlock()
		return
	}
	e.status = StatusStopping
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.status = StatusStopped
	e.mu.Unlock()
	e.publishStatus(StatusStopped)
}

// run executes one cycle, then sleeps. Self-scheduling: the pause
// starts after the cycle completes, so slow cycles never overlap.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		e.runCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.ScanInterval):
		}
	}
}

// runCycle is one full scan: settings → universe → candles →
// indicators → signals → admission → execution.
func (e *Engine) runCycle(ctx context.Context) {
	userID := e.currentUser()
	if userID == "" {
		return
	}

	settings, err := e.repo.GetTradingSettings(ctx, userID)
	if err != nil {
		e.botLog(ctx, database.LogError, "scan aborted: settings unavailable", "", map[string]interface{}{"error": err.Error()})
		e.recordFailure()
		return
	}

	symbols := market.TopTradingPairs(e.cfg.UniverseSize)
	forSpot := e.cfg.Mode == trading.ModeSpot
	series := e.market.BatchFetchOHLCV(ctx, symbols, settings.Timeframe, e.cfg.CandleLimit, forSpot)
	if ctx.Err() != nil {
		return
	}

	usable := 0
	opened := 0
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		candles := series[symbol]
		if len(candles) < indicators.MinCandles {
			continue
		}
		usable++

		snap, err := indicators.Compute(candles, paramsFrom(settings))
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("indicator computation failed")
			continue
		}

		for _, sig := range e.signalsFor(ctx, symbol, snap, settings) {
			if e.admitAndOpen(ctx, settings, sig) {
				opened++
				break
			}
		}
	}

	if usable == 0 {
		e.botLog(ctx, database.LogWarn, "scan cycle produced no usable data", "", map[string]interface{}{"symbols": len(symbols)})
		e.recordFailure()
		return
	}
	e.recordSuccess()
	e.botLog(ctx, database.LogScan, "scan cycle complete", "", map[string]interface{}{
		"symbols": len(symbols),
		"usable":  usable,
		"opened":  opened,
	})
}

func paramsFrom(s *database.TradingSettings) indicators.Params {
	return indicators.Params{
		RSIPeriod:  s.RSIPeriod,
		EMAFast:    s.EMAFast,
		EMASlow:    s.EMASlow,
		MACDSignal: s.MACDSignal,
		ADXPeriod:  s.ADXPeriod,
	}
}

func (e *Engine) strategyConfig(s *database.TradingSettings) strategy.Config {
	toggles := s.Strategies(e.cfg.Mode)
	return strategy.Config{
		Mode:              e.cfg.Mode,
		RSILow:            s.RSILow,
		RSIHigh:           s.RSIHigh,
		StopLossPercent:   s.StopLossPercent.InexactFloat64(),
		TakeProfitPercent: s.TakeProfitPercent.InexactFloat64(),
		MinConfidence:     s.MinConfidence,
		TrendFollowing:    toggles.TrendFollowing,
		MeanReversion:     toggles.MeanReversion,
		BreakoutTrading:   toggles.BreakoutTrading,
		PullbackTrading:   toggles.PullbackTrading,
	}
}

// signalsFor returns the candidate signals for one symbol, in
// admission order. The AI path yields at most one.
func (e *Engine) signalsFor(ctx context.Context, symbol string, snap *indicators.Snapshot, settings *database.TradingSettings) []trading.Signal {
	cfg := e.strategyConfig(settings)

	if settings.AITrading(e.cfg.Mode) && e.advisor != nil {
		sig, err := e.advisor.Advise(ctx, e.marketSnapshot(ctx, symbol, snap), snap, cfg)
		if err != nil {
			e.botLog(ctx, database.LogAI, "advisor degraded to fallback", symbol, map[string]interface{}{"error": err.Error()})
		}
		if sig == nil || sig.Confidence < settings.MinConfidence {
			return nil
		}
		return []trading.Signal{*sig}
	}
	return strategy.Evaluate(symbol, snap, cfg)
}

func (e *Engine) marketSnapshot(ctx context.Context, symbol string, snap *indicators.Snapshot) ai.MarketSnapshot {
	out := ai.MarketSnapshot{
		Symbol:       symbol,
		CurrentPrice: snap.Price,
		Timestamp:    time.Now().UTC(),
	}
	md, err := e.market.GetMarketData(ctx, symbol, e.cfg.Mode == trading.ModeSpot)
	if err != nil {
		return out
	}
	out.PriceChange24h = md.PriceChange24h.InexactFloat64()
	out.Volume24h = md.Volume24h.InexactFloat64()
	out.High24h = md.High24h.InexactFloat64()
	out.Low24h = md.Low24h.InexactFloat64()
	return out
}

// admitAndOpen runs the admission gate and, when it clears, opens the
// position on the paper or live path. Gate denials are normal
// outcomes and log at INFO.
func (e *Engine) admitAndOpen(ctx context.Context, settings *database.TradingSettings, sig trading.Signal) bool {
	entry := decimal.NewFromFloat(sig.EntryPrice)
	qty := pnl.Quantity(settings.USDTPerTrade, entry)
	if qty.IsZero() {
		e.botLog(ctx, database.LogWarn, "signal skipped: zero quantity", sig.Symbol, nil)
		return false
	}

	paper := settings.PaperTrading(e.cfg.Mode)
	pos := &database.Position{
		UserID:       settings.UserID,
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		EntryPrice:   entry,
		CurrentPrice: entry,
		Quantity:     qty,
		TradingMode:  e.cfg.Mode,
		Strategy:     sig.Strategy,
		IsPaperTrade: paper,
	}
	if sig.StopLoss > 0 {
		pos.StopLoss = decimal.NewNullDecimal(decimal.NewFromFloat(sig.StopLoss))
	}
	if sig.TakeProfit > 0 {
		pos.TakeProfit = decimal.NewNullDecimal(decimal.NewFromFloat(sig.TakeProfit))
	}

	if !paper {
		// read-only pass of the cap and uniqueness predicates, so a
		// denial is decided before any exchange order exists; the
		// gated insert below re-checks atomically
		switch err := e.repo.CheckAdmission(ctx, settings.UserID, sig.Symbol, e.cfg.Mode, settings.MaxPositions); {
		case errors.Is(err, database.ErrCapReached):
			e.botLog(ctx, database.LogInfo, "signal denied: position cap reached", sig.Symbol, map[string]interface{}{"max": settings.MaxPositions})
			return false
		case errors.Is(err, database.ErrDuplicatePosition):
			e.botLog(ctx, database.LogInfo, "signal denied: position already open", sig.Symbol, nil)
			return false
		case err != nil:
			e.botLog(ctx, database.LogError, "admission check failed", sig.Symbol, map[string]interface{}{"error": err.Error()})
			return false
		}

		balance, err := e.exchange.GetWalletBalance(ctx, "USDT")
		if err != nil {
			e.botLog(ctx, database.LogError, "balance check failed", sig.Symbol, map[string]interface{}{"error": err.Error()})
			return false
		}
		// equality passes: the trade may consume the full balance
		if balance.Cmp(settings.USDTPerTrade) < 0 {
			e.botLog(ctx, database.LogInfo, "signal denied: insufficient balance", sig.Symbol, map[string]interface{}{
				"balance":  balance.String(),
				"required": settings.USDTPerTrade.String(),
			})
			return false
		}

		result, err := e.exchange.PlaceOrder(ctx, bybit.OrderRequest{
			Category:  e.cfg.Mode.Category(),
			Symbol:    sig.Symbol,
			Side:      orderSide(sig.Direction, false),
			OrderType: bybit.OrderTypeMarket,
			Qty:       qty.String(),
		})
		if err != nil {
			e.botLog(ctx, database.LogError, "order rejected", sig.Symbol, map[string]interface{}{"error": err.Error()})
			return false
		}
		pos.OrderID = result.OrderID
	}

	if err := e.repo.CreatePositionGated(ctx, pos, settings.MaxPositions); err != nil {
		switch {
		case errors.Is(err, database.ErrCapReached):
			e.botLog(ctx, database.LogInfo, "signal denied: position cap reached", sig.Symbol, map[string]interface{}{"max": settings.MaxPositions})
		case errors.Is(err, database.ErrDuplicatePosition):
			e.botLog(ctx, database.LogInfo, "signal denied: position already open", sig.Symbol, nil)
		default:
			e.botLog(ctx, database.LogError, "position not recorded", sig.Symbol, map[string]interface{}{"error": err.Error()})
		}
		// any filled live order without a position row is an untracked
		// exchange position and must be surfaced, whatever the cause
		if pos.OrderID != "" {
			e.systemError(ctx, "unrecorded live order", fmt.Sprintf("order %s on %s filled but the position row was not committed: %v", pos.OrderID, sig.Symbol, err))
		}
		return false
	}

	e.botLog(ctx, database.LogTrade, fmt.Sprintf("opened %s %s via %s", sig.Direction, sig.Symbol, sig.Strategy), sig.Symbol, map[string]interface{}{
		"entry":      entry.String(),
		"quantity":   qty.String(),
		"confidence": sig.Confidence,
		"paper":      paper,
	})
	e.bus.PublishPositionUpdate(settings.UserID, pos)
	return true
}

// orderSide maps a direction to the exchange side, optionally
// inverted for closing.
func orderSide(d trading.Direction, closing bool) string {
	long := d.IsLong()
	if closing {
		long = !long
	}
	if long {
		return bybit.SideBuy
	}
	return bybit.SideSell
}

// monitorLive enforces SL/TP on live positions from the ticker
// stream. Paper positions belong to the global position monitor.
func (e *Engine) monitorLive(ctx context.Context) {
	defer e.wg.Done()
	defer e.tickers.Close()

	go e.consumeTickers(ctx)

	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	var subscribed []string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		userID := e.currentUser()
		mode := e.cfg.Mode
		live := false
		positions, err := e.repo.GetOpenPositions(ctx, userID, &mode, &live)
		if err != nil {
			e.logger.Warn().Err(err).Msg("live monitor: position fetch failed")
			continue
		}

		symbols := symbolSet(positions)
		if !sameSymbols(symbols, subscribed) {
			e.tickers.Connect(symbols)
			subscribed = symbols
		}

		for _, pos := range positions {
			price, ok := e.lastPrice(pos.Symbol)
			if !ok {
				continue
			}
			e.checkExit(ctx, pos, price)
		}
	}
}

func (e *Engine) consumeTickers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.tickers.Events():
			e.priceMu.Lock()
			e.prices[ev.Symbol] = ev.Price
			e.priceMu.Unlock()
			e.bus.PublishPriceUpdate(ev.Symbol, ev.Price)
		}
	}
}

func (e *Engine) lastPrice(symbol string) (float64, bool) {
	e.priceMu.RLock()
	defer e.priceMu.RUnlock()
	p, ok := e.prices[symbol]
	return p, ok
}

// checkExit closes the position when the price breaches its stop or
// target. Positions without both levels only ever close manually.
func (e *Engine) checkExit(ctx context.Context, pos *database.Position, price float64) {
	if !pos.StopLoss.Valid || !pos.TakeProfit.Valid {
		return
	}
	sl := pos.StopLoss.Decimal.InexactFloat64()
	tp := pos.TakeProfit.Decimal.InexactFloat64()

	var reason string
	if pos.Direction.IsLong() {
		switch {
		case price <= sl:
			reason = "Stop loss"
		case price >= tp:
			reason = "Take profit"
		}
	} else {
		switch {
		case price >= sl:
			reason = "Stop loss"
		case price <= tp:
			reason = "Take profit"
		}
	}
	if reason == "" {
		return
	}
	if err := e.close(ctx, pos, decimal.NewFromFloat(price), reason); err != nil {
		e.botLog(ctx, database.LogError, "auto-close failed", pos.Symbol, map[string]interface{}{"error": err.Error()})
	}
}

// ClosePosition closes one of this engine's positions at the current
// market price. Used by the manager for operator-initiated exits; it
// works whether or not the engine is running.
func (e *Engine) ClosePosition(ctx context.Context, id, userID string) (*database.Position, error) {
	pos, err := e.repo.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if pos.UserID != userID {
		return nil, database.ErrNotFound
	}
	if pos.TradingMode != e.cfg.Mode {
		return nil, ErrWrongEngine
	}

	price, err := e.market.LatestPrice(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("bot: exit price unavailable: %w", err)
	}
	if err := e.close(ctx, pos, decimal.NewFromFloat(price), "Manual close"); err != nil {
		return nil, err
	}
	return e.repo.GetPosition(ctx, id)
}

// close settles one position: opposing market order for live trades,
// then the durable close, the trade row and the events.
func (e *Engine) close(ctx context.Context, pos *database.Position, exitPrice decimal.Decimal, reason string) error {
	if !pos.IsPaperTrade {
		_, err := e.exchange.PlaceOrder(ctx, bybit.OrderRequest{
			Category:  pos.TradingMode.Category(),
			Symbol:    pos.Symbol,
			Side:      orderSide(pos.Direction, true),
			OrderType: bybit.OrderTypeMarket,
			Qty:       pos.Quantity.String(),
		})
		if err != nil {
			return fmt.Errorf("bot: closing order: %w", err)
		}
	}

	realized := pnl.Realized(pos.Direction, pos.EntryPrice, exitPrice, pos.Quantity)
	closed, err := e.repo.ClosePosition(ctx, pos.ID, exitPrice, realized)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyClosed) {
			return nil
		}
		return err
	}

	trade := &database.Trade{
		UserID:          closed.UserID,
		Symbol:          closed.Symbol,
		Direction:       closed.Direction,
		EntryPrice:      closed.EntryPrice,
		ExitPrice:       exitPrice,
		Quantity:        closed.Quantity,
		PnL:             realized,
		DurationMinutes: pnl.DurationMinutes(closed.CreatedAt, *closed.ClosedAt),
		Strategy:        closed.Strategy,
		TradingMode:     closed.TradingMode,
		IsPaperTrade:    closed.IsPaperTrade,
		EntryTime:       closed.CreatedAt,
		ExitTime:        *closed.ClosedAt,
	}
	if err := e.repo.CreateTrade(ctx, trade); err != nil {
		e.logger.Error().Err(err).Str("position", closed.ID).Msg("trade row not recorded")
	}

	e.botLog(ctx, database.LogTrade, fmt.Sprintf("closed %s: %s, pnl %s", closed.Symbol, reason, realized.String()), closed.Symbol, map[string]interface{}{
		"exit":   exitPrice.String(),
		"pnl":    realized.String(),
		"reason": reason,
	})
	e.bus.PublishPositionClosed(closed.UserID, closed, reason)
	return nil
}

func (e *Engine) currentUser() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

func (e *Engine) recordFailure() {
	e.mu.Lock()
	e.failures++
	degrade := e.failures >= degradedThreshold && e.status == StatusRunning
	if degrade {
		e.status = StatusDegraded
	}
	e.mu.Unlock()
	if degrade {
		e.publishStatus(StatusDegraded)
	}
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	e.failures = 0
	recover := e.status == StatusDegraded
	if recover {
		e.status = StatusRunning
	}
	e.mu.Unlock()
	if recover {
		e.publishStatus(StatusRunning)
	}
}

func (e *Engine) publishStatus(s Status) {
	e.bus.PublishBotStatus(e.currentUser(), string(e.cfg.Mode), string(s))
}

// botLog persists a bot log row and mirrors it onto the event bus.
func (e *Engine) botLog(ctx context.Context, level, message, symbol string, data map[string]interface{}) {
	userID := e.currentUser()
	row := &database.BotLog{
		UserID:  userID,
		Level:   level,
		Message: message,
		Symbol:  symbol,
		Data:    data,
	}
	if err := e.repo.CreateBotLog(ctx, row); err != nil {
		e.logger.Warn().Err(err).Msg("bot log not persisted")
	}
	e.bus.PublishBotLog(userID, level, message, symbol, data)
}

func (e *Engine) systemError(ctx context.Context, title, message string) {
	userID := e.currentUser()
	se := &database.SystemError{
		UserID:  userID,
		Title:   title,
		Source:  fmt.Sprintf("%s bot", e.cfg.Mode),
		Message: message,
	}
	if err := e.repo.CreateSystemError(ctx, se); err != nil {
		e.logger.Error().Err(err).Msg("system error not persisted")
	}
	e.bus.PublishSystemError(userID, title, se.Source, message)
}

func symbolSet(positions []*database.Position) []string {
	seen := make(map[string]struct{}, len(positions))
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		out = append(out, p.Symbol)
	}
	return out
}

func sameSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
