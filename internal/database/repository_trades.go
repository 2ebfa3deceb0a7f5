package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/trading"
)

const tradeColumns = `id, user_id, symbol, direction, entry_price, exit_price,
	quantity, pnl, duration_minutes, strategy, trading_mode, is_paper_trade,
	entry_time, exit_time`

// CreateTrade records one completed round-trip. Trades are immutable.
func (r *Repository) CreateTrade(ctx context.Context, t *Trade) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO trades (`+tradeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Symbol, string(t.Direction), t.EntryPrice, t.ExitPrice,
		t.Quantity, t.PnL, t.DurationMinutes, string(t.Strategy), string(t.TradingMode),
		t.IsPaperTrade, fmtTime(t.EntryTime), fmtTime(t.ExitTime))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTradeHistory lists completed trades for a user, newest first. The
// paper filter is optional; nil returns both paper and live.
func (r *Repository) GetTradeHistory(ctx context.Context, userID string, isPaper *bool, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = ?`
	args := []interface{}{userID}
	if isPaper != nil {
		query += ` AND is_paper_trade = ?`
		args = append(args, *isPaper)
	}
	query += ` ORDER BY exit_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	return out, nil
}

func scanTrade(row rowScanner) (*Trade, error) {
	var t Trade
	var direction, strategy, mode, entryTime, exitTime string
	err := row.Scan(
		&t.ID, &t.UserID, &t.Symbol, &direction, &t.EntryPrice, &t.ExitPrice,
		&t.Quantity, &t.PnL, &t.DurationMinutes, &strategy, &mode, &t.IsPaperTrade,
		&entryTime, &exitTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	t.Direction = trading.Direction(direction)
	t.Strategy = trading.Strategy(strategy)
	t.TradingMode = trading.Mode(mode)
	if t.EntryTime, err = parseTime(entryTime); err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	if t.ExitTime, err = parseTime(exitTime); err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	return &t, nil
}

// ---------------------------------------------------------------------------
// Aggregates. Decimal text columns widen to REAL for summation only;
// results convert back to decimal at the boundary.
// ---------------------------------------------------------------------------

// GetTradingStats aggregates closed trades and the live open count.
func (r *Repository) GetTradingStats(ctx context.Context, userID string, isPaper *bool) (*TradingStats, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN CAST(pnl AS REAL) > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN CAST(pnl AS REAL) < 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CAST(pnl AS REAL)), 0),
		COALESCE(AVG(CAST(pnl AS REAL)), 0),
		COALESCE(MAX(CAST(pnl AS REAL)), 0),
		COALESCE(MIN(CAST(pnl AS REAL)), 0)
	FROM trades WHERE user_id = ?`
	args := []interface{}{userID}
	if isPaper != nil {
		query += ` AND is_paper_trade = ?`
		args = append(args, *isPaper)
	}

	var s TradingStats
	var totalPnL, avgPnL, best, worst float64
	err := r.db.conn.QueryRowContext(ctx, query, args...).Scan(
		&s.TotalTrades, &s.WinningTrades, &s.LosingTrades,
		&totalPnL, &avgPnL, &best, &worst)
	if err != nil {
		return nil, fmt.Errorf("trading stats: %w", err)
	}
	s.TotalPnL = decimal.NewFromFloat(totalPnL)
	s.AveragePnL = decimal.NewFromFloat(avgPnL)
	s.BestTrade = decimal.NewFromFloat(best)
	s.WorstTrade = decimal.NewFromFloat(worst)
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}

	err = r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE user_id = ? AND status = 'open'`,
		userID).Scan(&s.OpenPositions)
	if err != nil {
		return nil, fmt.Errorf("trading stats: %w", err)
	}
	return &s, nil
}

// GetStrategyPerformance aggregates closed trades per strategy label.
func (r *Repository) GetStrategyPerformance(ctx context.Context, userID string, isPaper *bool) ([]*StrategyPerformance, error) {
	query := `SELECT strategy,
		COUNT(*),
		COALESCE(SUM(CASE WHEN CAST(pnl AS REAL) > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CAST(pnl AS REAL)), 0)
	FROM trades WHERE user_id = ?`
	args := []interface{}{userID}
	if isPaper != nil {
		query += ` AND is_paper_trade = ?`
		args = append(args, *isPaper)
	}
	query += ` GROUP BY strategy ORDER BY SUM(CAST(pnl AS REAL)) DESC`

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("strategy performance: %w", err)
	}
	defer rows.Close()

	var out []*StrategyPerformance
	for rows.Next() {
		var p StrategyPerformance
		var strategy string
		var totalPnL float64
		if err := rows.Scan(&strategy, &p.TotalTrades, &p.Wins, &totalPnL); err != nil {
			return nil, fmt.Errorf("strategy performance: %w", err)
		}
		p.Strategy = trading.Strategy(strategy)
		p.TotalPnL = decimal.NewFromFloat(totalPnL)
		if p.TotalTrades > 0 {
			p.WinRate = float64(p.Wins) / float64(p.TotalTrades) * 100
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("strategy performance: %w", err)
	}
	return out, nil
}

// GetPortfolioData returns the cumulative realized P&L series over the
// user's closed trades, oldest first.
func (r *Repository) GetPortfolioData(ctx context.Context, userID string, isPaper *bool) ([]*PortfolioPoint, error) {
	query := `SELECT exit_time, CAST(pnl AS REAL) FROM trades WHERE user_id = ?`
	args := []interface{}{userID}
	if isPaper != nil {
		query += ` AND is_paper_trade = ?`
		args = append(args, *isPaper)
	}
	query += ` ORDER BY exit_time ASC`

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("portfolio data: %w", err)
	}
	defer rows.Close()

	var out []*PortfolioPoint
	cumulative := decimal.Zero
	for rows.Next() {
		var exitTime string
		var pnl float64
		if err := rows.Scan(&exitTime, &pnl); err != nil {
			return nil, fmt.Errorf("portfolio data: %w", err)
		}
		t, err := parseTime(exitTime)
		if err != nil {
			return nil, fmt.Errorf("portfolio data: %w", err)
		}
		cumulative = cumulative.Add(decimal.NewFromFloat(pnl))
		out = append(out, &PortfolioPoint{Time: t, CumulativePnL: cumulative})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("portfolio data: %w", err)
	}
	return out, nil
}

// GetTradingSummary builds the dashboard header: open exposure,
// unrealized and realized P&L, and today's trade count.
func (r *Repository) GetTradingSummary(ctx context.Context, userID string) (*TradingSummary, error) {
	var sum TradingSummary

	var unrealized float64
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CAST(pnl AS REAL)), 0)
		 FROM positions WHERE user_id = ? AND status = 'open'`,
		userID).Scan(&sum.OpenPositions, &unrealized)
	if err != nil {
		return nil, fmt.Errorf("trading summary: %w", err)
	}
	sum.UnrealizedPnL = decimal.NewFromFloat(unrealized)

	var realized float64
	err = r.db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CAST(pnl AS REAL)), 0) FROM trades WHERE user_id = ?`,
		userID).Scan(&realized)
	if err != nil {
		return nil, fmt.Errorf("trading summary: %w", err)
	}
	sum.RealizedPnL = decimal.NewFromFloat(realized)

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	err = r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE user_id = ? AND exit_time >= ?`,
		userID, fmtTime(dayStart)).Scan(&sum.TradesToday)
	if err != nil {
		return nil, fmt.Errorf("trading summary: %w", err)
	}
	return &sum, nil
}
