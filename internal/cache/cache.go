// Package cache is an optional Redis layer in front of the REST ticker
// endpoint. It is disabled by default; the durable market_data table
// stays authoritative and every miss or Redis failure falls through to
// the live fetch.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config controls the optional ticker cache.
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// TickerSnapshot is the cached ticker payload.
type TickerSnapshot struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	PriceChange24h float64   `json:"priceChange24h"`
	Volume24h      float64   `json:"volume24h"`
	High24h        float64   `json:"high24h"`
	Low24h         float64   `json:"low24h"`
	Timestamp      time.Time `json:"timestamp"`
}

// Service wraps the Redis client with graceful degradation: any Redis
// error disables nothing, logs once at debug, and reports a miss.
type Service struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
	logger  zerolog.Logger
}

// New builds the cache service. With Enabled false (or an unreachable
// server) every lookup is a miss and writes are no-ops.
func New(cfg Config, logger zerolog.Logger) *Service {
	s := &Service{
		enabled: cfg.Enabled,
		ttl:     cfg.TTL,
		logger:  logger.With().Str("component", "cache").Logger(),
	}
	if s.ttl <= 0 {
		s.ttl = 10 * time.Second
	}
	if !cfg.Enabled {
		return s
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("redis unreachable, ticker cache disabled")
		s.enabled = false
		s.client.Close()
		s.client = nil
	}
	return s
}

// Enabled reports whether the cache is live.
func (s *Service) Enabled() bool {
	return s.enabled
}

// Close releases the Redis connection.
func (s *Service) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func tickerKey(symbol string) string {
	return fmt.Sprintf("ticker:%s", symbol)
}

// GetTicker returns the cached snapshot, or nil on miss or any Redis
// failure.
func (s *Service) GetTicker(ctx context.Context, symbol string) *TickerSnapshot {
	if !s.enabled {
		return nil
	}
	raw, err := s.client.Get(ctx, tickerKey(symbol)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug().Err(err).Str("symbol", symbol).Msg("cache read failed")
		}
		return nil
	}
	var snap TickerSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil
	}
	return &snap
}

// SetTicker stores a snapshot with the configured TTL. Failures are
// logged and ignored.
func (s *Service) SetTicker(ctx context.Context, snap *TickerSnapshot) {
	if !s.enabled || snap == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, tickerKey(snap.Symbol), raw, s.ttl).Err(); err != nil {
		s.logger.Debug().Err(err).Str("symbol", snap.Symbol).Msg("cache write failed")
	}
}
