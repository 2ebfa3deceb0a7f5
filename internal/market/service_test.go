package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/trading"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   int
	klines  map[string][]trading.Candle
	fail    map[string]error
	tickers map[string]*bybit.Ticker
}

func (f *fakeClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.fail[symbol]; ok {
		return nil, err
	}
	return f.klines[symbol], nil
}

func (f *fakeClient) GetTicker(ctx context.Context, symbol string) (*bybit.Ticker, error) {
	if err, ok := f.fail[symbol]; ok {
		return nil, err
	}
	t, ok := f.tickers[symbol]
	if !ok {
		return nil, errors.New("no ticker")
	}
	return t, nil
}

type fakeSink struct {
	mu   sync.Mutex
	rows []*database.MarketData
}

func (f *fakeSink) UpsertMarketData(ctx context.Context, md *database.MarketData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, md)
	return nil
}

func series(n int, close float64) []trading.Candle {
	out := make([]trading.Candle, n)
	ts := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := range out {
		out[i] = trading.Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      close, High: close, Low: close, Close: close, Volume: 1,
		}
	}
	return out
}

func TestBatchFetchRecordsEmptyOnFailure(t *testing.T) {
	spot := &fakeClient{
		klines: map[string][]trading.Candle{
			"BTCUSDT": series(60, 50000),
			"ETHUSDT": series(60, 3000),
		},
		fail: map[string]error{"SOLUSDT": errors.New("timeout")},
	}
	svc := NewService(spot, &fakeClient{}, nil, nil, zerolog.Nop())
	svc.batchPause = time.Millisecond

	got := svc.BatchFetchOHLCV(context.Background(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, "15m", 60, true)
	if len(got) != 3 {
		t.Fatalf("every symbol must appear in the result, got %d", len(got))
	}
	if len(got["SOLUSDT"]) != 0 {
		t.Error("failed symbol must record an empty series")
	}
	if len(got["BTCUSDT"]) != 60 {
		t.Errorf("expected 60 candles for BTCUSDT, got %d", len(got["BTCUSDT"]))
	}
}

func TestBatchFetchPausesBetweenBatches(t *testing.T) {
	klines := map[string][]trading.Candle{}
	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = TopTradingPairs(20)[i]
		klines[symbols[i]] = series(5, 100)
	}
	spot := &fakeClient{klines: klines}
	svc := NewService(spot, &fakeClient{}, nil, nil, zerolog.Nop())
	svc.batchPause = 50 * time.Millisecond

	start := time.Now()
	svc.BatchFetchOHLCV(context.Background(), symbols, "15m", 5, true)
	elapsed := time.Since(start)

	// 20 symbols / batch 8 = 3 batches = 2 pauses
	if elapsed < 100*time.Millisecond {
		t.Errorf("expected at least two inter-batch pauses, finished in %v", elapsed)
	}
	if spot.calls != 20 {
		t.Errorf("expected 20 fetches, got %d", spot.calls)
	}
}

func TestBatchFetchCancellable(t *testing.T) {
	klines := map[string][]trading.Candle{}
	symbols := TopTradingPairs(20)
	for _, s := range symbols {
		klines[s] = series(5, 100)
	}
	spot := &fakeClient{klines: klines}
	svc := NewService(spot, &fakeClient{}, nil, nil, zerolog.Nop())
	svc.batchPause = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan map[string][]trading.Candle, 1)
	go func() {
		done <- svc.BatchFetchOHLCV(ctx, symbols, "15m", 5, true)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case got := <-done:
		if len(got) >= 20 {
			t.Error("cancellation should stop at a batch boundary")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch fetch did not honor cancellation")
	}
}

func TestLatestPriceFallsBackToLinear(t *testing.T) {
	spot := &fakeClient{fail: map[string]error{"ETHUSDT": errors.New("down")}}
	linear := &fakeClient{klines: map[string][]trading.Candle{"ETHUSDT": series(1, 3050)}}
	svc := NewService(spot, linear, nil, nil, zerolog.Nop())

	price, err := svc.LatestPrice(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if price != 3050 {
		t.Errorf("expected linear fallback price 3050, got %f", price)
	}
}

func TestGetMarketDataUpserts(t *testing.T) {
	spot := &fakeClient{tickers: map[string]*bybit.Ticker{
		"BTCUSDT": {Symbol: "BTCUSDT", LastPrice: 50000, Price24hPcnt: 0.02, Volume24h: 1000, HighPrice24h: 51000, LowPrice24h: 49000},
	}}
	sink := &fakeSink{}
	svc := NewService(spot, &fakeClient{}, sink, nil, zerolog.Nop())

	md, err := svc.GetMarketData(context.Background(), "BTCUSDT", true)
	if err != nil {
		t.Fatal(err)
	}
	if md.Price.String() != "50000" {
		t.Errorf("expected price 50000, got %s", md.Price)
	}
	if len(sink.rows) != 1 {
		t.Fatalf("expected one advisory upsert, got %d", len(sink.rows))
	}
	if sink.rows[0].PriceChange24h.String() != "2" {
		t.Errorf("price change should widen to percent, got %s", sink.rows[0].PriceChange24h)
	}
}

func TestTopTradingPairsDeterministic(t *testing.T) {
	a := TopTradingPairs(10)
	b := TopTradingPairs(10)
	if len(a) != 10 {
		t.Fatalf("expected 10 pairs, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("registry prefix must be deterministic")
		}
	}
	if all := AllUSDTPairs(); len(TopTradingPairs(0)) != len(all) {
		t.Error("non-positive limit returns the full universe")
	}
}
