package trading

import "time"

// Mode selects which engine a position or settings block belongs to.
type Mode string

const (
	ModeSpot     Mode = "spot"
	ModeLeverage Mode = "leverage"
)

// Valid reports whether m is one of the two known modes.
func (m Mode) Valid() bool {
	return m == ModeSpot || m == ModeLeverage
}

// Category returns the exchange market category for the mode.
func (m Mode) Category() string {
	if m == ModeLeverage {
		return "linear"
	}
	return "spot"
}

// Direction of a position. Spot positions are long-only and use UP;
// leverage positions use LONG or SHORT.
type Direction string

const (
	DirectionUp    Direction = "UP"
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// IsLong reports whether the direction profits from rising prices.
func (d Direction) IsLong() bool {
	return d == DirectionUp || d == DirectionLong
}

// AllowedIn reports whether the direction is valid for the mode.
func (d Direction) AllowedIn(m Mode) bool {
	switch m {
	case ModeSpot:
		return d == DirectionUp
	case ModeLeverage:
		return d == DirectionLong || d == DirectionShort
	}
	return false
}

// Strategy identifies which evaluator produced a signal.
type Strategy string

const (
	StrategyTrendFollowing Strategy = "Trend Following"
	StrategyMeanReversion  Strategy = "Mean Reversion"
	StrategyBreakout       Strategy = "Breakout Trading"
	StrategyPullback       Strategy = "Pullback Trading"
	StrategyAIAdvisor      Strategy = "AI Advisor"
)

// StrategyPriority is the stable admission order when several
// strategies fire on the same symbol in one cycle.
var StrategyPriority = []Strategy{
	StrategyTrendFollowing,
	StrategyMeanReversion,
	StrategyBreakout,
	StrategyPullback,
}

// Candle is one OHLCV bucket. Candles are transient; they live only
// inside a scan cycle and are never persisted individually.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Signal is the output of strategy evaluation or the AI advisor for a
// single symbol.
type Signal struct {
	Symbol     string
	Direction  Direction
	Confidence float64
	Strategy   Strategy
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Reasoning  string
}
