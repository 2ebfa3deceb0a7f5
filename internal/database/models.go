package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/trading"
)

// Position status values
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// BotLog levels
const (
	LogInfo     = "INFO"
	LogAnalysis = "ANALYSIS"
	LogSignal   = "SIGNAL"
	LogTrade    = "TRADE"
	LogOrder    = "ORDER"
	LogMonitor  = "MONITOR"
	LogScan     = "SCAN"
	LogSuccess  = "SUCCESS"
	LogWarn     = "WARN"
	LogError    = "ERROR"
	LogConfig   = "CONFIG"
	LogAI       = "AI"
)

// User is an operator account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// StrategyToggles enables or disables each evaluator per bot. Stored
// as a JSON text column.
type StrategyToggles struct {
	TrendFollowing  bool `json:"trendFollowing"`
	MeanReversion   bool `json:"meanReversion"`
	BreakoutTrading bool `json:"breakoutTrading"`
	PullbackTrading bool `json:"pullbackTrading"`
}

// Enabled reports whether the given strategy is switched on.
func (s StrategyToggles) Enabled(strategy trading.Strategy) bool {
	switch strategy {
	case trading.StrategyTrendFollowing:
		return s.TrendFollowing
	case trading.StrategyMeanReversion:
		return s.MeanReversion
	case trading.StrategyBreakout:
		return s.BreakoutTrading
	case trading.StrategyPullback:
		return s.PullbackTrading
	}
	return false
}

// Value implements driver.Valuer.
func (s StrategyToggles) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StrategyToggles) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = StrategyToggles{}
		return nil
	case string:
		return json.Unmarshal([]byte(v), s)
	case []byte:
		return json.Unmarshal(v, s)
	}
	return fmt.Errorf("cannot scan %T into StrategyToggles", src)
}

// TradingSettings is the single per-user configuration row. Created
// lazily with defaults on first read. Exchange credentials live here
// and are never sourced from the environment.
type TradingSettings struct {
	UserID               string          `json:"user_id"`
	USDTPerTrade         decimal.Decimal `json:"usdt_per_trade"`
	RiskPerTrade         decimal.Decimal `json:"risk_per_trade"`
	StopLossPercent      decimal.Decimal `json:"stop_loss_percent"`
	TakeProfitPercent    decimal.Decimal `json:"take_profit_percent"`
	MaxPositions         int             `json:"max_positions"`
	APIKey               string          `json:"api_key,omitempty"`
	APISecret            string          `json:"-"`
	Environment          string          `json:"environment"`
	SpotPaperTrading     bool            `json:"spot_paper_trading"`
	LeveragePaperTrading bool            `json:"leverage_paper_trading"`
	RSIPeriod            int             `json:"rsi_period"`
	RSILow               float64         `json:"rsi_low"`
	RSIHigh              float64         `json:"rsi_high"`
	EMAFast              int             `json:"ema_fast"`
	EMASlow              int             `json:"ema_slow"`
	MACDSignal           int             `json:"macd_signal"`
	ADXPeriod            int             `json:"adx_period"`
	SpotStrategies       StrategyToggles `json:"spot_strategies"`
	LeverageStrategies   StrategyToggles `json:"leverage_strategies"`
	SpotAITrading        bool            `json:"spot_ai_trading"`
	LeverageAITrading    bool            `json:"leverage_ai_trading"`
	Timeframe            string          `json:"timeframe"`
	MinConfidence        float64         `json:"min_confidence"`
	PlaceExchangeStops   bool            `json:"place_exchange_stops"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// DefaultTradingSettings returns the settings row created on first read.
func DefaultTradingSettings(userID string) *TradingSettings {
	return &TradingSettings{
		UserID:               userID,
		USDTPerTrade:         decimal.NewFromInt(100),
		RiskPerTrade:         decimal.NewFromInt(2),
		StopLossPercent:      decimal.NewFromInt(3),
		TakeProfitPercent:    decimal.NewFromInt(6),
		MaxPositions:         10,
		Environment:          "mainnet",
		SpotPaperTrading:     true,
		LeveragePaperTrading: true,
		RSIPeriod:            14,
		RSILow:               30,
		RSIHigh:              70,
		EMAFast:              9,
		EMASlow:              21,
		MACDSignal:           9,
		ADXPeriod:            14,
		SpotStrategies: StrategyToggles{
			TrendFollowing: true, MeanReversion: true,
		},
		LeverageStrategies: StrategyToggles{
			TrendFollowing: true, MeanReversion: true,
		},
		Timeframe:     "15m",
		MinConfidence: 70,
	}
}

// Validate checks cross-field invariants before an update is accepted.
func (s *TradingSettings) Validate() error {
	if s.EMAFast >= s.EMASlow {
		return fmt.Errorf("%w: emaFast must be below emaSlow", ErrValidation)
	}
	if s.RSILow >= s.RSIHigh {
		return fmt.Errorf("%w: rsiLow must be below rsiHigh", ErrValidation)
	}
	if s.MinConfidence < 0 || s.MinConfidence > 100 {
		return fmt.Errorf("%w: minConfidence must be within [0,100]", ErrValidation)
	}
	if s.MaxPositions < 1 {
		return fmt.Errorf("%w: maxPositions must be at least 1", ErrValidation)
	}
	switch s.Timeframe {
	case "1m", "5m", "15m", "1h", "4h":
	default:
		return fmt.Errorf("%w: unsupported timeframe %q", ErrValidation, s.Timeframe)
	}
	if s.Environment != "mainnet" {
		return fmt.Errorf("%w: unsupported environment %q", ErrValidation, s.Environment)
	}
	return nil
}

// HasCredentials reports whether exchange keys are configured.
func (s *TradingSettings) HasCredentials() bool {
	return s.APIKey != "" && s.APISecret != ""
}

// PaperTrading returns the paper flag for the given mode.
func (s *TradingSettings) PaperTrading(mode trading.Mode) bool {
	if mode == trading.ModeLeverage {
		return s.LeveragePaperTrading
	}
	return s.SpotPaperTrading
}

// Strategies returns the toggle set for the given mode.
func (s *TradingSettings) Strategies(mode trading.Mode) StrategyToggles {
	if mode == trading.ModeLeverage {
		return s.LeverageStrategies
	}
	return s.SpotStrategies
}

// AITrading returns the AI flag for the given mode.
func (s *TradingSettings) AITrading(mode trading.Mode) bool {
	if mode == trading.ModeLeverage {
		return s.LeverageAITrading
	}
	return s.SpotAITrading
}

// Position is one open or closed position. A closed position carries
// closedAt and a currentPrice frozen at the exit price.
type Position struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	Symbol       string              `json:"symbol"`
	Direction    trading.Direction   `json:"direction"`
	EntryPrice   decimal.Decimal     `json:"entry_price"`
	CurrentPrice decimal.Decimal     `json:"current_price"`
	StopLoss     decimal.NullDecimal `json:"stop_loss"`
	TakeProfit   decimal.NullDecimal `json:"take_profit"`
	Quantity     decimal.Decimal     `json:"quantity"`
	PnL          decimal.Decimal     `json:"pnl"`
	Status       string              `json:"status"`
	TradingMode  trading.Mode        `json:"trading_mode"`
	Strategy     trading.Strategy    `json:"strategy"`
	IsPaperTrade bool                `json:"is_paper_trade"`
	OrderID      string              `json:"order_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
}

// Trade is the immutable record of a completed round-trip.
type Trade struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Symbol          string            `json:"symbol"`
	Direction       trading.Direction `json:"direction"`
	EntryPrice      decimal.Decimal   `json:"entry_price"`
	ExitPrice       decimal.Decimal   `json:"exit_price"`
	Quantity        decimal.Decimal   `json:"quantity"`
	PnL             decimal.Decimal   `json:"pnl"`
	DurationMinutes int64             `json:"duration_minutes"`
	Strategy        trading.Strategy  `json:"strategy"`
	TradingMode     trading.Mode      `json:"trading_mode"`
	IsPaperTrade    bool              `json:"is_paper_trade"`
	EntryTime       time.Time         `json:"entry_time"`
	ExitTime        time.Time         `json:"exit_time"`
}

// BotLog is one append-only structured log row.
type BotLog struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Symbol    string                 `json:"symbol,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// SystemError is an operator-visible failure row with a resolve flag.
type SystemError struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	ErrorCode string    `json:"error_code,omitempty"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// MarketData is the advisory last-ticker cache row per symbol.
type MarketData struct {
	Symbol         string          `json:"symbol"`
	Price          decimal.Decimal `json:"price"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	PriceChange24h decimal.Decimal `json:"price_change_24h"`
	High24h        decimal.Decimal `json:"high_24h"`
	Low24h         decimal.Decimal `json:"low_24h"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Session is a persisted refresh token.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TradingStats aggregates closed trades for the dashboard.
type TradingStats struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       float64         `json:"win_rate"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	AveragePnL    decimal.Decimal `json:"average_pnl"`
	BestTrade     decimal.Decimal `json:"best_trade"`
	WorstTrade    decimal.Decimal `json:"worst_trade"`
	OpenPositions int             `json:"open_positions"`
}

// StrategyPerformance aggregates closed trades per strategy label.
type StrategyPerformance struct {
	Strategy    trading.Strategy `json:"strategy"`
	TotalTrades int              `json:"total_trades"`
	Wins        int              `json:"wins"`
	WinRate     float64          `json:"win_rate"`
	TotalPnL    decimal.Decimal  `json:"total_pnl"`
}

// PortfolioPoint is one cumulative P&L sample for the portfolio chart.
type PortfolioPoint struct {
	Time          time.Time       `json:"time"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
}

// TradingSummary is the compact header shown on the dashboard.
type TradingSummary struct {
	OpenPositions   int             `json:"open_positions"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	TradesToday     int             `json:"trades_today"`
	SpotRunning     bool            `json:"spot_running"`
	LeverageRunning bool            `json:"leverage_running"`
}
