package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository is the data access layer. All methods take a context and
// return wrapped storage errors; sentinel errors from errors.go mark
// the business outcomes callers branch on.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the given database.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user with a pre-hashed password.
func (r *Repository) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, fmtTime(user.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	return r.scanUser(r.db.conn.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id))
}

// GetUserByUsername fetches a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return r.scanUser(r.db.conn.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username))
}

// UpdateUserPassword rotates a user's password hash.
func (r *Repository) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// Trading settings
// ---------------------------------------------------------------------------

const settingsColumns = `user_id, usdt_per_trade, risk_per_trade, stop_loss_percent,
	take_profit_percent, max_positions, api_key, api_secret, environment,
	spot_paper_trading, leverage_paper_trading, rsi_period, rsi_low, rsi_high,
	ema_fast, ema_slow, macd_signal, adx_period, spot_strategies,
	leverage_strategies, spot_ai_trading, leverage_ai_trading, timeframe,
	min_confidence, place_exchange_stops, updated_at`

// GetTradingSettings returns the user's settings row, creating the
// defaults atomically on first read.
func (r *Repository) GetTradingSettings(ctx context.Context, userID string) (*TradingSettings, error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("settings tx: %w", err)
	}
	defer tx.Rollback()

	defaults := DefaultTradingSettings(userID)
	defaults.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO trading_settings (`+settingsColumns+`) VALUES
		 (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		settingsArgs(defaults)...)
	if err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}

	s, err := scanSettings(tx.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM trading_settings WHERE user_id = ?`, userID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("settings tx: %w", err)
	}
	return s, nil
}

// UpdateTradingSettings validates and persists the full settings row.
func (r *Repository) UpdateTradingSettings(ctx context.Context, s *TradingSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE trading_settings SET
			usdt_per_trade = ?, risk_per_trade = ?, stop_loss_percent = ?,
			take_profit_percent = ?, max_positions = ?, api_key = ?, api_secret = ?,
			environment = ?, spot_paper_trading = ?, leverage_paper_trading = ?,
			rsi_period = ?, rsi_low = ?, rsi_high = ?, ema_fast = ?, ema_slow = ?,
			macd_signal = ?, adx_period = ?, spot_strategies = ?, leverage_strategies = ?,
			spot_ai_trading = ?, leverage_ai_trading = ?, timeframe = ?,
			min_confidence = ?, place_exchange_stops = ?, updated_at = ?
		 WHERE user_id = ?`,
		s.USDTPerTrade, s.RiskPerTrade, s.StopLossPercent, s.TakeProfitPercent,
		s.MaxPositions, s.APIKey, s.APISecret, s.Environment,
		s.SpotPaperTrading, s.LeveragePaperTrading,
		s.RSIPeriod, s.RSILow, s.RSIHigh, s.EMAFast, s.EMASlow,
		s.MACDSignal, s.ADXPeriod, s.SpotStrategies, s.LeverageStrategies,
		s.SpotAITrading, s.LeverageAITrading, s.Timeframe,
		s.MinConfidence, s.PlaceExchangeStops, fmtTime(s.UpdatedAt), s.UserID)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func settingsArgs(s *TradingSettings) []interface{} {
	return []interface{}{
		s.UserID, s.USDTPerTrade, s.RiskPerTrade, s.StopLossPercent,
		s.TakeProfitPercent, s.MaxPositions, s.APIKey, s.APISecret, s.Environment,
		s.SpotPaperTrading, s.LeveragePaperTrading, s.RSIPeriod, s.RSILow, s.RSIHigh,
		s.EMAFast, s.EMASlow, s.MACDSignal, s.ADXPeriod, s.SpotStrategies,
		s.LeverageStrategies, s.SpotAITrading, s.LeverageAITrading, s.Timeframe,
		s.MinConfidence, s.PlaceExchangeStops, fmtTime(s.UpdatedAt),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettings(row rowScanner) (*TradingSettings, error) {
	var s TradingSettings
	var updatedAt string
	err := row.Scan(
		&s.UserID, &s.USDTPerTrade, &s.RiskPerTrade, &s.StopLossPercent,
		&s.TakeProfitPercent, &s.MaxPositions, &s.APIKey, &s.APISecret, &s.Environment,
		&s.SpotPaperTrading, &s.LeveragePaperTrading, &s.RSIPeriod, &s.RSILow, &s.RSIHigh,
		&s.EMAFast, &s.EMASlow, &s.MACDSignal, &s.ADXPeriod, &s.SpotStrategies,
		&s.LeverageStrategies, &s.SpotAITrading, &s.LeverageAITrading, &s.Timeframe,
		&s.MinConfidence, &s.PlaceExchangeStops, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession stores a refresh-token hash for a user.
func (r *Repository) CreateSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*Session, error) {
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.TokenHash, fmtTime(s.ExpiresAt), fmtTime(s.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// GetSessionByTokenHash returns a live session or ErrNotFound.
func (r *Repository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	var s Session
	var expiresAt, createdAt string
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at FROM sessions WHERE token_hash = ?`,
		tokenHash).Scan(&s.ID, &s.UserID, &s.TokenHash, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if time.Now().UTC().After(s.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &s, nil
}

// DeleteSession removes a session by id.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
