// Package strategy maps an indicator snapshot onto zero or more typed
// trade signals. Evaluation is pure; the bot engine owns admission and
// execution.
package strategy

import (
	"math"

	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/trading"
)

// Config carries the per-user evaluation inputs for one bot.
type Config struct {
	Mode              trading.Mode
	RSILow            float64
	RSIHigh           float64
	StopLossPercent   float64 // e.g. 3 for 3%
	TakeProfitPercent float64
	MinConfidence     float64

	TrendFollowing  bool
	MeanReversion   bool
	BreakoutTrading bool
	PullbackTrading bool
}

func (c Config) enabled(s trading.Strategy) bool {
	switch s {
	case trading.StrategyTrendFollowing:
		return c.TrendFollowing
	case trading.StrategyMeanReversion:
		return c.MeanReversion
	case trading.StrategyBreakout:
		return c.BreakoutTrading
	case trading.StrategyPullback:
		return c.PullbackTrading
	}
	return false
}

// Evaluate runs every enabled strategy against the snapshot and
// returns the signals at or above MinConfidence, in stable strategy
// priority order. For the spot mode only long signals survive and are
// relabeled UP; leverage keeps both directions.
func Evaluate(symbol string, snap *indicators.Snapshot, cfg Config) []trading.Signal {
	if snap == nil {
		return nil
	}

	var out []trading.Signal
	for _, name := range trading.StrategyPriority {
		if !cfg.enabled(name) {
			continue
		}
		var sig *trading.Signal
		switch name {
		case trading.StrategyTrendFollowing:
			sig = trendFollowing(symbol, snap, cfg)
		case trading.StrategyMeanReversion:
			sig = meanReversion(symbol, snap, cfg)
		case trading.StrategyBreakout:
			sig = breakout(symbol, snap, cfg)
		case trading.StrategyPullback:
			sig = pullback(symbol, snap, cfg)
		}
		if sig == nil || sig.Confidence < cfg.MinConfidence {
			continue
		}
		if cfg.Mode == trading.ModeSpot {
			if sig.Direction != trading.DirectionLong {
				continue
			}
			sig.Direction = trading.DirectionUp
		}
		out = append(out, *sig)
	}
	return out
}

// trendFollowing: ADX-confirmed EMA/MACD alignment. All inequalities
// are strict; ADX exactly 25 does not fire.
func trendFollowing(symbol string, snap *indicators.Snapshot, cfg Config) *trading.Signal {
	price := snap.Price
	long := snap.ADX > 25 && snap.EMAFast > snap.EMASlow && snap.MACD > snap.MACDSignal
	short := snap.ADX > 25 && snap.EMAFast < snap.EMASlow && snap.MACD < snap.MACDSignal
	if !long && !short {
		return nil
	}

	confidence := 60 + math.Min(snap.ADX-25, 30)
	if healthyRSI(snap.RSI) {
		confidence += 10
	}

	sig := &trading.Signal{
		Symbol:     symbol,
		Strategy:   trading.StrategyTrendFollowing,
		Confidence: clamp(confidence, 0, 100),
		EntryPrice: price,
	}
	if long {
		sig.Direction = trading.DirectionLong
		sig.StopLoss = price * (1 - cfg.StopLossPercent/100)
		sig.TakeProfit = price * (1 + cfg.TakeProfitPercent/100)
	} else {
		sig.Direction = trading.DirectionShort
		sig.StopLoss = price * (1 + cfg.StopLossPercent/100)
		sig.TakeProfit = price * (1 - cfg.TakeProfitPercent/100)
	}
	return sig
}

// healthyRSI is the non-exhausted momentum band used by the trend
// confidence bonus.
func healthyRSI(rsi float64) bool {
	return rsi > 40 && rsi < 70
}

// meanReversion: oversold below the lower band, overbought above the
// upper band. The take profit targets the band middle.
func meanReversion(symbol string, snap *indicators.Snapshot, cfg Config) *trading.Signal {
	price := snap.Price
	long := snap.RSI < cfg.RSILow && price < snap.BBLower
	short := snap.RSI > cfg.RSIHigh && price > snap.BBUpper
	if !long && !short {
		return nil
	}

	sig := &trading.Signal{
		Symbol:     symbol,
		Strategy:   trading.StrategyMeanReversion,
		EntryPrice: price,
		TakeProfit: snap.BBMiddle,
	}
	if long {
		sig.Direction = trading.DirectionLong
		sig.Confidence = math.Min(70+2*math.Max(cfg.RSILow-snap.RSI, 0), 95)
		sig.StopLoss = price * (1 - cfg.StopLossPercent/100)
	} else {
		sig.Direction = trading.DirectionShort
		sig.Confidence = math.Min(70+2*math.Max(snap.RSI-cfg.RSIHigh, 0), 95)
		sig.StopLoss = price * (1 + cfg.StopLossPercent/100)
	}
	return sig
}

// breakout: band escape with ADX confirmation. The stop returns to the
// band middle.
func breakout(symbol string, snap *indicators.Snapshot, cfg Config) *trading.Signal {
	price := snap.Price
	long := price > snap.BBUpper && snap.ADX > 20
	short := price < snap.BBLower && snap.ADX > 20
	if !long && !short {
		return nil
	}

	sig := &trading.Signal{
		Symbol:     symbol,
		Strategy:   trading.StrategyBreakout,
		Confidence: math.Min(75+math.Min(snap.ADX-20, 20), 95),
		EntryPrice: price,
		StopLoss:   snap.BBMiddle,
	}
	if long {
		sig.Direction = trading.DirectionLong
		sig.TakeProfit = price * (1 + cfg.TakeProfitPercent/100)
	} else {
		sig.Direction = trading.DirectionShort
		sig.TakeProfit = price * (1 - cfg.TakeProfitPercent/100)
	}
	return sig
}

// pullback: continuation entry while RSI rests mid-range.
func pullback(symbol string, snap *indicators.Snapshot, cfg Config) *trading.Signal {
	price := snap.Price
	midRange := snap.RSI > 40 && snap.RSI < 60
	long := snap.EMAFast > snap.EMASlow && midRange && snap.MACDHistogram > 0
	short := snap.EMAFast < snap.EMASlow && midRange && snap.MACDHistogram < 0
	if !long && !short {
		return nil
	}

	sig := &trading.Signal{
		Symbol:     symbol,
		Strategy:   trading.StrategyPullback,
		Confidence: math.Min(65+0.5*(60-math.Abs(snap.RSI-50)), 90),
		EntryPrice: price,
	}
	if long {
		sig.Direction = trading.DirectionLong
		sig.StopLoss = price * (1 - cfg.StopLossPercent/100)
		sig.TakeProfit = price * (1 + cfg.TakeProfitPercent/100)
	} else {
		sig.Direction = trading.DirectionShort
		sig.StopLoss = price * (1 + cfg.StopLossPercent/100)
		sig.TakeProfit = price * (1 - cfg.TakeProfitPercent/100)
	}
	return sig
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
