package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateBotLog appends one structured log row.
func (r *Repository) CreateBotLog(ctx context.Context, log *BotLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	var data interface{}
	if len(log.Data) > 0 {
		b, err := json.Marshal(log.Data)
		if err != nil {
			return fmt.Errorf("marshal log data: %w", err)
		}
		data = string(b)
	}
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO bot_logs (id, user_id, level, message, symbol, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.Level, log.Message, log.Symbol, data, fmtTime(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert bot log: %w", err)
	}
	return nil
}

// GetBotLogs returns the newest logs for a user, descending by
// creation time.
func (r *Repository) GetBotLogs(ctx context.Context, userID string, limit int) ([]*BotLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT id, user_id, level, message, symbol, data, created_at
		 FROM bot_logs WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bot logs: %w", err)
	}
	defer rows.Close()

	var out []*BotLog
	for rows.Next() {
		var l BotLog
		var data sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Level, &l.Message, &l.Symbol, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan bot log: %w", err)
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &l.Data); err != nil {
				return nil, fmt.Errorf("scan bot log: %w", err)
			}
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("scan bot log: %w", err)
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query bot logs: %w", err)
	}
	return out, nil
}

// ClearBotLogs bulk-deletes a user's logs. System errors are a
// separate table and are never affected.
func (r *Repository) ClearBotLogs(ctx context.Context, userID string) error {
	if _, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM bot_logs WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear bot logs: %w", err)
	}
	return nil
}

// CreateSystemError records an operator-visible failure.
func (r *Repository) CreateSystemError(ctx context.Context, se *SystemError) error {
	if se.ID == "" {
		se.ID = uuid.New().String()
	}
	if se.CreatedAt.IsZero() {
		se.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO system_errors (id, user_id, title, message, source, error_code, resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		se.ID, se.UserID, se.Title, se.Message, se.Source, se.ErrorCode, se.Resolved, fmtTime(se.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert system error: %w", err)
	}
	return nil
}

// GetSystemErrors lists a user's system errors, unresolved first,
// newest first within each group.
func (r *Repository) GetSystemErrors(ctx context.Context, userID string, limit int) ([]*SystemError, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT id, user_id, title, message, source, error_code, resolved, created_at
		 FROM system_errors WHERE user_id = ?
		 ORDER BY resolved ASC, created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query system errors: %w", err)
	}
	defer rows.Close()

	var out []*SystemError
	for rows.Next() {
		var se SystemError
		var createdAt string
		if err := rows.Scan(&se.ID, &se.UserID, &se.Title, &se.Message, &se.Source,
			&se.ErrorCode, &se.Resolved, &createdAt); err != nil {
			return nil, fmt.Errorf("scan system error: %w", err)
		}
		if se.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("scan system error: %w", err)
		}
		out = append(out, &se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query system errors: %w", err)
	}
	return out, nil
}

// ResolveSystemError flips the resolved flag.
func (r *Repository) ResolveSystemError(ctx context.Context, id, userID string) error {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE system_errors SET resolved = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("resolve system error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertMarketData refreshes the advisory ticker cache row.
func (r *Repository) UpsertMarketData(ctx context.Context, md *MarketData) error {
	if md.UpdatedAt.IsZero() {
		md.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO market_data (symbol, price, volume_24h, price_change_24h, high_24h, low_24h, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET
			price = excluded.price,
			volume_24h = excluded.volume_24h,
			price_change_24h = excluded.price_change_24h,
			high_24h = excluded.high_24h,
			low_24h = excluded.low_24h,
			updated_at = excluded.updated_at`,
		md.Symbol, md.Price, md.Volume24h, md.PriceChange24h, md.High24h, md.Low24h,
		fmtTime(md.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert market data: %w", err)
	}
	return nil
}

// GetMarketData returns the cached ticker for a symbol.
func (r *Repository) GetMarketData(ctx context.Context, symbol string) (*MarketData, error) {
	var md MarketData
	var updatedAt string
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT symbol, price, volume_24h, price_change_24h, high_24h, low_24h, updated_at
		 FROM market_data WHERE symbol = ?`, symbol).
		Scan(&md.Symbol, &md.Price, &md.Volume24h, &md.PriceChange24h, &md.High24h,
			&md.Low24h, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market data: %w", err)
	}
	if md.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("get market data: %w", err)
	}
	return &md, nil
}
