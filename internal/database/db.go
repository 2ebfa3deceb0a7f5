package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the embedded SQLite database file.
type DB struct {
	conn   *sql.DB
	logger zerolog.Logger
}

// timeLayout is the canonical timestamp format: ISO-8601 in UTC with a
// fixed-width fraction so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NewDB opens (or creates) the database file and applies migrations.
// The parent directory must already exist; a missing directory is a
// fatal startup error.
func NewDB(path string, logger zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("database directory missing: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger.With().Str("component", "database").Logger(),
	}
	if err := db.runMigrations(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	db.logger.Info().Str("path", path).Msg("database ready")
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// runMigrations executes the additive migration list. Statements must
// be idempotent; destructive migrations are never performed in place.
func (db *DB) runMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS trading_settings (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			usdt_per_trade TEXT NOT NULL,
			risk_per_trade TEXT NOT NULL,
			stop_loss_percent TEXT NOT NULL,
			take_profit_percent TEXT NOT NULL,
			max_positions INTEGER NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			api_secret TEXT NOT NULL DEFAULT '',
			environment TEXT NOT NULL DEFAULT 'mainnet',
			spot_paper_trading INTEGER NOT NULL DEFAULT 1,
			leverage_paper_trading INTEGER NOT NULL DEFAULT 1,
			rsi_period INTEGER NOT NULL,
			rsi_low REAL NOT NULL,
			rsi_high REAL NOT NULL,
			ema_fast INTEGER NOT NULL,
			ema_slow INTEGER NOT NULL,
			macd_signal INTEGER NOT NULL,
			adx_period INTEGER NOT NULL,
			spot_strategies TEXT NOT NULL,
			leverage_strategies TEXT NOT NULL,
			spot_ai_trading INTEGER NOT NULL DEFAULT 0,
			leverage_ai_trading INTEGER NOT NULL DEFAULT 0,
			timeframe TEXT NOT NULL DEFAULT '15m',
			min_confidence REAL NOT NULL DEFAULT 70,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			current_price TEXT NOT NULL,
			stop_loss TEXT,
			take_profit TEXT,
			quantity TEXT NOT NULL,
			pnl TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL DEFAULT 'open',
			trading_mode TEXT NOT NULL,
			strategy TEXT NOT NULL,
			is_paper_trade INTEGER NOT NULL DEFAULT 1,
			order_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_unique
			ON positions(user_id, symbol, trading_mode) WHERE status = 'open'`,

		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			pnl TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			trading_mode TEXT NOT NULL,
			is_paper_trade INTEGER NOT NULL,
			entry_time TEXT NOT NULL,
			exit_time TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, exit_time)`,

		`CREATE TABLE IF NOT EXISTS bot_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			data TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_logs_user ON bot_logs(user_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS system_errors (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			source TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_system_errors_user ON system_errors(user_id, resolved)`,

		`CREATE TABLE IF NOT EXISTS market_data (
			symbol TEXT PRIMARY KEY,
			price TEXT NOT NULL,
			volume_24h TEXT NOT NULL DEFAULT '0',
			price_change_24h TEXT NOT NULL DEFAULT '0',
			high_24h TEXT NOT NULL DEFAULT '0',
			low_24h TEXT NOT NULL DEFAULT '0',
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			token_hash TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,

		// Added after initial release: resting exchange stop orders are
		// an operator choice, off by default.
		`ALTER TABLE trading_settings ADD COLUMN place_exchange_stops INTEGER NOT NULL DEFAULT 0`,
	}

	for _, stmt := range migrations {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// isDuplicateColumn recognizes re-running an additive ALTER TABLE.
func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older rows may carry variable precision.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, err
}
