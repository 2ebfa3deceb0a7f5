// Package monitor refreshes every open position on a fixed interval
// and auto-closes paper trades that breach their stop or target. Live
// exits belong to the bot engines; this loop only tracks their price.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/pnl"
)

// PriceSource yields one current price per symbol.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

const defaultInterval = 30 * time.Second

// Monitor is the global position supervisor across all users and
// both trading modes.
type Monitor struct {
	repo     *database.Repository
	prices   PriceSource
	bus      *events.Bus
	logger   zerolog.Logger
	interval time.Duration
}

// New builds a monitor; a non-positive interval takes the default.
func New(repo *database.Repository, prices PriceSource, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		repo:     repo,
		prices:   prices,
		bus:      bus,
		logger:   logger.With().Str("component", "position-monitor").Logger(),
		interval: interval,
	}
}

// Run loops until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one refresh pass: fetch open positions, resolve one
// price per symbol, persist price and P&L, auto-close breached paper
// positions.
func (m *Monitor) Sweep(ctx context.Context) {
	positions, err := m.repo.GetAllOpenPositions(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("open position fetch failed")
		return
	}
	if len(positions) == 0 {
		return
	}

	prices := make(map[string]float64)
	for _, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		if _, ok := prices[pos.Symbol]; ok {
			continue
		}
		price, err := m.prices.LatestPrice(ctx, pos.Symbol)
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("price unavailable, symbol skipped")
			continue
		}
		prices[pos.Symbol] = price
	}

	for _, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		m.refresh(ctx, pos, price)
	}
}

func (m *Monitor) refresh(ctx context.Context, pos *database.Position, price float64) {
	current := decimal.NewFromFloat(price)
	unrealized := pnl.Unrealized(pos.Direction, pos.EntryPrice, current, pos.Quantity)
	if err := m.repo.UpdatePositionPrice(ctx, pos.ID, current, unrealized); err != nil {
		m.logger.Warn().Err(err).Str("position", pos.ID).Msg("price update failed")
		return
	}

	if !pos.IsPaperTrade {
		return
	}
	reason := exitReason(pos, price)
	if reason == "" {
		return
	}
	m.autoClose(ctx, pos, current, reason)
}

// exitReason returns the close reason when the price breaches the
// position's levels. Positions missing either level never auto-close.
func exitReason(pos *database.Position, price float64) string {
	if !pos.StopLoss.Valid || !pos.TakeProfit.Valid {
		return ""
	}
	sl := pos.StopLoss.Decimal.InexactFloat64()
	tp := pos.TakeProfit.Decimal.InexactFloat64()

	if pos.Direction.IsLong() {
		switch {
		case price <= sl:
			return "Stop loss"
		case price >= tp:
			return "Take profit"
		}
		return ""
	}
	switch {
	case price >= sl:
		return "Stop loss"
	case price <= tp:
		return "Take profit"
	}
	return ""
}

func (m *Monitor) autoClose(ctx context.Context, pos *database.Position, exitPrice decimal.Decimal, reason string) {
	realized := pnl.Realized(pos.Direction, pos.EntryPrice, exitPrice, pos.Quantity)
	closed, err := m.repo.ClosePosition(ctx, pos.ID, exitPrice, realized)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyClosed) {
			return
		}
		m.logger.Error().Err(err).Str("position", pos.ID).Msg("auto-close failed")
		return
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
	if err := m.repo.CreateTrade(ctx, trade); err != nil {
		m.logger.Error().Err(err).Str("position", closed.ID).Msg("trade row not recorded")
	}

	log := &database.BotLog{
		UserID:  closed.UserID,
		Level:   database.LogMonitor,
		Message: fmt.Sprintf("%s closed %s at %s, pnl %s", reason, closed.Symbol, exitPrice.String(), realized.String()),
		Symbol:  closed.Symbol,
		Data: map[string]interface{}{
			"reason": reason,
			"pnl":    realized.String(),
		},
	}
	if err := m.repo.CreateBotLog(ctx, log); err != nil {
		m.logger.Warn().Err(err).Msg("bot log not persisted")
	}
	m.bus.PublishBotLog(closed.UserID, database.LogMonitor, log.Message, closed.Symbol, log.Data)
	m.bus.PublishPositionClosed(closed.UserID, closed, reason)
}
