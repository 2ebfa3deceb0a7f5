package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/trading"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  map[string]int
}

func (f *fakePrices) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[symbol]++
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("feed down")
	}
	return p, nil
}

func newTestRepo(t *testing.T) *database.Repository {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return database.NewRepository(db)
}

func newUser(t *testing.T, repo *database.Repository) *database.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), "trader-"+t.Name(), "hash")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func position(userID, symbol string, dir trading.Direction, entry, sl, tp string, paper bool) *database.Position {
	p := &database.Position{
		UserID:       userID,
		Symbol:       symbol,
		Direction:    dir,
		EntryPrice:   decimal.RequireFromString(entry),
		Quantity:     decimal.RequireFromString("0.002"),
		TradingMode:  trading.ModeSpot,
		Strategy:     trading.StrategyTrendFollowing,
		IsPaperTrade: paper,
	}
	if dir == trading.DirectionShort || dir == trading.DirectionLong {
		p.TradingMode = trading.ModeLeverage
	}
	if sl != "" {
		p.StopLoss = decimal.NewNullDecimal(decimal.RequireFromString(sl))
	}
	if tp != "" {
		p.TakeProfit = decimal.NewNullDecimal(decimal.RequireFromString(tp))
	}
	return p
}

func TestSweepClosesPaperTakeProfit(t *testing.T) {
	repo := newTestRepo(t)
	user := newUser(t, repo)
	ctx := context.Background()

	pos := position(user.ID, "BTCUSDT", trading.DirectionUp, "50000", "48500", "53000", true)
	if err := repo.CreatePosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	prices := &fakePrices{prices: map[string]float64{"BTCUSDT": 53010}}
	m := New(repo, prices, events.NewBus(), 0, zerolog.Nop())
	m.Sweep(ctx)

	closed, err := repo.GetPosition(ctx, pos.ID)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != database.PositionClosed {
		t.Fatalf("expected closed, got %s", closed.Status)
	}
	if closed.CurrentPrice.String() != "53010" {
		t.Errorf("exit price must be frozen, got %s", closed.CurrentPrice)
	}
	if closed.PnL.String() != "6.02" {
		t.Errorf("expected pnl 6.02, got %s", closed.PnL)
	}

	trades, err := repo.GetTradeHistory(ctx, user.ID, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(trades))
	}
	if trades[0].PnL.String() != "6.02" {
		t.Errorf("trade pnl mismatch: %s", trades[0].PnL)
	}
}

func TestSweepClosesShortOnStop(t *testing.T) {
	repo := newTestRepo(t)
	user := newUser(t, repo)
	ctx := context.Background()

	pos := position(user.ID, "ETHUSDT", trading.DirectionShort, "1000", "1030", "940", true)
	if err := repo.CreatePosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	prices := &fakePrices{prices: map[string]float64{"ETHUSDT": 1035}}
	m := New(repo, prices, events.NewBus(), 0, zerolog.Nop())
	m.Sweep(ctx)

	closed, _ := repo.GetPosition(ctx, pos.ID)
	if closed.Status != database.PositionClosed {
		t.Fatalf("short breaching its stop must close, got %s", closed.Status)
	}
	// short 1000 → 1035 on 0.002: (1000-1035)*0.002 = -0.07
	if closed.PnL.String() != "-0.07" {
		t.Errorf("expected pnl -0.07, got %s", closed.PnL)
	}
}

func TestSweepUpdatesLivePositionWithoutClosing(t *testing.T) {
	repo := newTestRepo(t)
	user := newUser(t, repo)
	ctx := context.Background()

	pos := position(user.ID, "BTCUSDT", trading.DirectionUp, "50000", "48500", "53000", false)
	if err := repo.CreatePosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	prices := &fakePrices{prices: map[string]float64{"BTCUSDT": 53010}}
	m := New(repo, prices, events.NewBus(), 0, zerolog.Nop())
	m.Sweep(ctx)

	got, _ := repo.GetPosition(ctx, pos.ID)
	if got.Status != database.PositionOpen {
		t.Fatal("live positions are never auto-closed by the monitor")
	}
	if got.CurrentPrice.String() != "53010" {
		t.Errorf("price must still refresh, got %s", got.CurrentPrice)
	}
	if got.PnL.String() != "6.02" {
		t.Errorf("unrealized pnl must refresh, got %s", got.PnL)
	}
}

func TestSweepSkipsPositionsWithoutLevels(t *testing.T) {
	repo := newTestRepo(t)
	user := newUser(t, repo)
	ctx := context.Background()

	pos := position(user.ID, "BTCUSDT", trading.DirectionUp, "50000", "", "", true)
	if err := repo.CreatePosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	prices := &fakePrices{prices: map[string]float64{"BTCUSDT": 1}}
	m := New(repo, prices, events.NewBus(), 0, zerolog.Nop())
	m.Sweep(ctx)

	got, _ := repo.GetPosition(ctx, pos.ID)
	if got.Status != database.PositionOpen {
		t.Fatal("missing levels must only update the price")
	}
	if got.CurrentPrice.String() != "1" {
		t.Errorf("price must refresh, got %s", got.CurrentPrice)
	}
}

func TestSweepFetchesOnePricePerSymbol(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	alice := newUser(t, repo)
	bobRow, err := repo.CreateUser(ctx, "other-"+t.Name(), "hash")
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.CreatePosition(ctx, position(alice.ID, "BTCUSDT", trading.DirectionUp, "50000", "48500", "99999", true)); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreatePosition(ctx, position(bobRow.ID, "BTCUSDT", trading.DirectionUp, "51000", "49000", "99999", true)); err != nil {
		t.Fatal(err)
	}

	prices := &fakePrices{prices: map[string]float64{"BTCUSDT": 52000}}
	m := New(repo, prices, events.NewBus(), 0, zerolog.Nop())
	m.Sweep(ctx)

	if prices.calls["BTCUSDT"] != 1 {
		t.Errorf("expected one price fetch for the shared symbol, got %d", prices.calls["BTCUSDT"])
	}
}

func TestSweepSkipsSymbolWhenFeedDown(t *testing.T) {
	repo := newTestRepo(t)
	user := newUser(t, repo)
	ctx := context.Background()

	pos := position(user.ID, "BTCUSDT", trading.DirectionUp, "50000", "48500", "53000", true)
	if err := repo.CreatePosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	m := New(repo, &fakePrices{}, events.NewBus(), 0, zerolog.Nop())
	m.Sweep(ctx)

	got, _ := repo.GetPosition(ctx, pos.ID)
	if got.Status != database.PositionOpen {
		t.Fatal("feed outage must leave the position untouched")
	}
	if !got.PnL.IsZero() {
		t.Errorf("pnl must not move without a price, got %s", got.PnL)
	}
}
