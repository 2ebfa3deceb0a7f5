// Package pnl holds the single profit-and-loss computation used by the
// bot engine, the position monitor and store aggregates.
package pnl

import (
	"time"

	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/trading"
)

// Unrealized returns the P&L of an open position at the given price.
// LONG/UP positions gain as the price rises, SHORT positions gain as
// it falls.
func Unrealized(direction trading.Direction, entryPrice, currentPrice, quantity decimal.Decimal) decimal.Decimal {
	if direction.IsLong() {
		return currentPrice.Sub(entryPrice).Mul(quantity)
	}
	return entryPrice.Sub(currentPrice).Mul(quantity)
}

// Realized returns the P&L of a closed position. Identical arithmetic
// to Unrealized with the exit price frozen.
func Realized(direction trading.Direction, entryPrice, exitPrice, quantity decimal.Decimal) decimal.Decimal {
	return Unrealized(direction, entryPrice, exitPrice, quantity)
}

// Quantity converts a quote-currency allocation into a base quantity
// at the entry price, truncated to six decimal places.
func Quantity(usdtPerTrade, entryPrice decimal.Decimal) decimal.Decimal {
	if entryPrice.IsZero() {
		return decimal.Zero
	}
	return usdtPerTrade.DivRound(entryPrice, 8).Truncate(6)
}

// DurationMinutes returns the whole minutes between entry and exit.
// Clock skew never produces a negative duration.
func DurationMinutes(entryTime, exitTime time.Time) int64 {
	d := exitTime.Sub(entryTime)
	if d < 0 {
		return 0
	}
	return int64(d.Minutes())
}
