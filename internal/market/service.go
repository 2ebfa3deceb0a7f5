package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/cache"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/trading"
)

// ExchangeClient is the slice of the REST client the service needs.
type ExchangeClient interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error)
	GetTicker(ctx context.Context, symbol string) (*bybit.Ticker, error)
}

// Sink receives advisory ticker rows for the durable cache table.
type Sink interface {
	UpsertMarketData(ctx context.Context, md *database.MarketData) error
}

const (
	defaultBatchSize      = 8
	defaultBatchPause     = 500 * time.Millisecond
	defaultRequestTimeout = 10 * time.Second
)

// Service fetches public market data through two category-bound
// clients. Spot and linear each carry their own rate limiter; category
// selection is mandatory per call and mixing is incorrect.
type Service struct {
	spot   ExchangeClient
	linear ExchangeClient
	sink   Sink
	cache  *cache.Service
	logger zerolog.Logger

	batchSize      int
	batchPause     time.Duration
	requestTimeout time.Duration
}

// NewService wires the two clients. sink and tickerCache may be nil.
func NewService(spot, linear ExchangeClient, sink Sink, tickerCache *cache.Service, logger zerolog.Logger) *Service {
	return &Service{
		spot:           spot,
		linear:         linear,
		sink:           sink,
		cache:          tickerCache,
		logger:         logger.With().Str("component", "market").Logger(),
		batchSize:      defaultBatchSize,
		batchPause:     defaultBatchPause,
		requestTimeout: defaultRequestTimeout,
	}
}

func (s *Service) client(forSpot bool) ExchangeClient {
	if forSpot {
		return s.spot
	}
	return s.linear
}

// GetOHLCV fetches one chronologically ordered candle series.
func (s *Service) GetOHLCV(ctx context.Context, symbol, timeframe string, limit int, forSpot bool) ([]trading.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	return s.client(forSpot).GetKlines(ctx, symbol, bybit.IntervalFromTimeframe(timeframe), limit)
}

// GetMarketData returns the current ticker snapshot, consulting the
// optional Redis cache first and refreshing the durable advisory row
// on a live fetch.
func (s *Service) GetMarketData(ctx context.Context, symbol string, forSpot bool) (*database.MarketData, error) {
	if s.cache != nil {
		if snap := s.cache.GetTicker(ctx, symbol); snap != nil {
			return snapshotToRow(snap), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	ticker, err := s.client(forSpot).GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	md := &database.MarketData{
		Symbol:         ticker.Symbol,
		Price:          decimal.NewFromFloat(ticker.LastPrice),
		Volume24h:      decimal.NewFromFloat(ticker.Volume24h),
		PriceChange24h: decimal.NewFromFloat(ticker.Price24hPcnt * 100),
		High24h:        decimal.NewFromFloat(ticker.HighPrice24h),
		Low24h:         decimal.NewFromFloat(ticker.LowPrice24h),
		UpdatedAt:      time.Now().UTC(),
	}
	if md.Symbol == "" {
		md.Symbol = symbol
	}

	if s.sink != nil {
		if err := s.sink.UpsertMarketData(ctx, md); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("market data upsert failed")
		}
	}
	if s.cache != nil {
		s.cache.SetTicker(ctx, &cache.TickerSnapshot{
			Symbol:         md.Symbol,
			Price:          ticker.LastPrice,
			PriceChange24h: ticker.Price24hPcnt * 100,
			Volume24h:      ticker.Volume24h,
			High24h:        ticker.HighPrice24h,
			Low24h:         ticker.LowPrice24h,
			Timestamp:      md.UpdatedAt,
		})
	}
	return md, nil
}

func snapshotToRow(snap *cache.TickerSnapshot) *database.MarketData {
	return &database.MarketData{
		Symbol:         snap.Symbol,
		Price:          decimal.NewFromFloat(snap.Price),
		Volume24h:      decimal.NewFromFloat(snap.Volume24h),
		PriceChange24h: decimal.NewFromFloat(snap.PriceChange24h),
		High24h:        decimal.NewFromFloat(snap.High24h),
		Low24h:         decimal.NewFromFloat(snap.Low24h),
		UpdatedAt:      snap.Timestamp,
	}
}

// LatestPrice returns the close of the most recent 1-minute candle,
// preferring the spot feed and falling back to linear.
func (s *Service) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	candles, err := s.GetOHLCV(ctx, symbol, "1m", 1, true)
	if err != nil || len(candles) == 0 {
		candles, err = s.GetOHLCV(ctx, symbol, "1m", 1, false)
	}
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, ErrNoData
	}
	return candles[len(candles)-1].Close, nil
}

// BatchFetchOHLCV fetches candle series for many symbols: batches of
// batchSize issued concurrently, a fixed pause between batches, and a
// per-request timeout. A failed or timed-out symbol records an empty
// slice; the batch never aborts.
func (s *Service) BatchFetchOHLCV(ctx context.Context, symbols []string, timeframe string, limit int, forSpot bool) map[string][]trading.Candle {
	results := make(map[string][]trading.Candle, len(symbols))
	var mu sync.Mutex

	for start := 0; start < len(symbols); start += s.batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + s.batchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var wg sync.WaitGroup
		for _, symbol := range symbols[start:end] {
			wg.Add(1)
			go func(symbol string) {
				defer wg.Done()
				candles, err := s.GetOHLCV(ctx, symbol, timeframe, limit, forSpot)
				if err != nil {
					s.logger.Warn().Err(err).Str("symbol", symbol).Msg("ohlcv fetch failed")
					candles = nil
				}
				mu.Lock()
				results[symbol] = candles
				mu.Unlock()
			}(symbol)
		}
		wg.Wait()

		if end < len(symbols) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(s.batchPause):
			}
		}
	}
	return results
}
