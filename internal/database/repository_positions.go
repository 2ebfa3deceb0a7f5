package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/trading"
)

const positionColumns = `id, user_id, symbol, direction, entry_price, current_price,
	stop_loss, take_profit, quantity, pnl, status, trading_mode, strategy,
	is_paper_trade, order_id, created_at, closed_at`

// CreatePosition inserts a position without admission checks. Used by
// tests and manual entry; the engines go through CreatePositionGated.
func (r *Repository) CreatePosition(ctx context.Context, p *Position) error {
	prepareNewPosition(p)
	if _, err := r.db.conn.ExecContext(ctx, insertPositionSQL, positionArgs(p)...); err != nil {
		return wrapPositionInsertErr(err)
	}
	return nil
}

// CheckAdmission runs the cap and uniqueness predicates without
// inserting. The live execution path calls it before placing an
// exchange order so a denial cannot trail a filled order;
// CreatePositionGated remains the authoritative transactional check.
func (r *Repository) CheckAdmission(ctx context.Context, userID, symbol string, mode trading.Mode, maxPositions int) error {
	var openCount int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE user_id = ? AND status = 'open'`,
		userID).Scan(&openCount)
	if err != nil {
		return fmt.Errorf("count open positions: %w", err)
	}
	if openCount >= maxPositions {
		return ErrCapReached
	}

	var dup int
	err = r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions
		 WHERE user_id = ? AND symbol = ? AND trading_mode = ? AND status = 'open'`,
		userID, symbol, string(mode)).Scan(&dup)
	if err != nil {
		return fmt.Errorf("check duplicate position: %w", err)
	}
	if dup > 0 {
		return ErrDuplicatePosition
	}
	return nil
}

// CreatePositionGated atomically checks the admission predicates and
// inserts the position in one transaction: the user's open-position
// count must be below maxPositions and no open position may exist for
// the same (user, symbol, tradingMode). Concurrent cycles cannot
// double-enter.
func (r *Repository) CreatePositionGated(ctx context.Context, p *Position, maxPositions int) error {
	prepareNewPosition(p)

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("position tx: %w", err)
	}
	defer tx.Rollback()

	var openCount int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE user_id = ? AND status = 'open'`,
		p.UserID).Scan(&openCount)
	if err != nil {
		return fmt.Errorf("count open positions: %w", err)
	}
	if openCount >= maxPositions {
		return ErrCapReached
	}

	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions
		 WHERE user_id = ? AND symbol = ? AND trading_mode = ? AND status = 'open'`,
		p.UserID, p.Symbol, string(p.TradingMode)).Scan(&dup)
	if err != nil {
		return fmt.Errorf("check duplicate position: %w", err)
	}
	if dup > 0 {
		return ErrDuplicatePosition
	}

	if _, err := tx.ExecContext(ctx, insertPositionSQL, positionArgs(p)...); err != nil {
		return wrapPositionInsertErr(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("position tx: %w", err)
	}
	return nil
}

const insertPositionSQL = `INSERT INTO positions (` + positionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func prepareNewPosition(p *Position) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = PositionOpen
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.CurrentPrice.IsZero() {
		p.CurrentPrice = p.EntryPrice
	}
}

func positionArgs(p *Position) []interface{} {
	var closedAt interface{}
	if p.ClosedAt != nil {
		closedAt = fmtTime(*p.ClosedAt)
	}
	return []interface{}{
		p.ID, p.UserID, p.Symbol, string(p.Direction), p.EntryPrice, p.CurrentPrice,
		p.StopLoss, p.TakeProfit, p.Quantity, p.PnL, p.Status, string(p.TradingMode),
		string(p.Strategy), p.IsPaperTrade, p.OrderID, fmtTime(p.CreatedAt), closedAt,
	}
}

func wrapPositionInsertErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicatePosition
	}
	return fmt.Errorf("insert position: %w", err)
}

// GetPosition fetches one position by id.
func (r *Repository) GetPosition(ctx context.Context, id string) (*Position, error) {
	return scanPosition(r.db.conn.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id))
}

// GetOpenPositions lists open positions for a user, optionally filtered
// by trading mode and paper flag. Nil filters return both.
func (r *Repository) GetOpenPositions(ctx context.Context, userID string, mode *trading.Mode, isPaper *bool) ([]*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = ? AND status = 'open'`
	args := []interface{}{userID}
	if mode != nil {
		query += ` AND trading_mode = ?`
		args = append(args, string(*mode))
	}
	if isPaper != nil {
		query += ` AND is_paper_trade = ?`
		args = append(args, *isPaper)
	}
	query += ` ORDER BY created_at ASC`
	return r.queryPositions(ctx, query, args...)
}

// GetAllOpenPositions lists open positions across every user and both
// modes. The global position monitor drives off this.
func (r *Repository) GetAllOpenPositions(ctx context.Context) ([]*Position, error) {
	return r.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = 'open' ORDER BY symbol ASC`)
}

// UpdatePositionPrice sets the current price and running pnl of an
// open position. Closed positions are never touched.
func (r *Repository) UpdatePositionPrice(ctx context.Context, id string, currentPrice, pnl decimal.Decimal) error {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE positions SET current_price = ?, pnl = ? WHERE id = ? AND status = 'open'`,
		currentPrice, pnl, id)
	if err != nil {
		return fmt.Errorf("update position price: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClosePosition marks a position closed with a frozen exit price and
// realized pnl. Idempotent: closing an already-closed position returns
// the existing row unchanged together with ErrAlreadyClosed.
func (r *Repository) ClosePosition(ctx context.Context, id string, exitPrice, pnl decimal.Decimal) (*Position, error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("close tx: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPosition(tx.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if p.Status == PositionClosed {
		return p, ErrAlreadyClosed
	}

	closedAt := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE positions SET status = 'closed', current_price = ?, pnl = ?, closed_at = ? WHERE id = ?`,
		exitPrice, pnl, fmtTime(closedAt), id)
	if err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("close tx: %w", err)
	}

	p.Status = PositionClosed
	p.CurrentPrice = exitPrice
	p.PnL = pnl
	p.ClosedAt = &closedAt
	return p, nil
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*Position, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	return out, nil
}

func scanPosition(row rowScanner) (*Position, error) {
	var p Position
	var direction, mode, strategy, createdAt string
	var closedAt sql.NullString
	err := row.Scan(
		&p.ID, &p.UserID, &p.Symbol, &direction, &p.EntryPrice, &p.CurrentPrice,
		&p.StopLoss, &p.TakeProfit, &p.Quantity, &p.PnL, &p.Status, &mode,
		&strategy, &p.IsPaperTrade, &p.OrderID, &createdAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}
	p.Direction = trading.Direction(direction)
	p.TradingMode = trading.Mode(mode)
	p.Strategy = trading.Strategy(strategy)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.ClosedAt = &t
	}
	return &p, nil
}
