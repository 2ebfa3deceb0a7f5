package ai

import (
	"fmt"

	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/strategy"
	"bybit-trading-bot/internal/trading"
)

// fallbackConfidenceCap keeps rule-derived advisories below the level
// a strong direct strategy signal can reach.
const fallbackConfidenceCap = 85

// Fallback is the deterministic advisory used whenever the LLM is
// unavailable or its response cannot be trusted. It runs all four
// strategies and only advises when at least two agree on direction;
// anything less is a HOLD (nil).
func Fallback(symbol string, snap *indicators.Snapshot, cfg strategy.Config) *trading.Signal {
	composite := cfg
	composite.TrendFollowing = true
	composite.MeanReversion = true
	composite.BreakoutTrading = true
	composite.PullbackTrading = true
	composite.MinConfidence = 0

	signals := strategy.Evaluate(symbol, snap, composite)
	if len(signals) == 0 {
		return nil
	}

	byDirection := make(map[trading.Direction][]trading.Signal)
	for _, sig := range signals {
		byDirection[sig.Direction] = append(byDirection[sig.Direction], sig)
	}

	// Priority order is stable, so scanning signals front to back
	// finds the highest-priority signal of the winning direction.
	for _, sig := range signals {
		agreeing := byDirection[sig.Direction]
		if len(agreeing) < 2 {
			continue
		}
		sum := 0.0
		for _, s := range agreeing {
			sum += s.Confidence
		}
		avg := sum / float64(len(agreeing))
		if avg > fallbackConfidenceCap {
			avg = fallbackConfidenceCap
		}
		out := sig
		out.Strategy = trading.StrategyAIAdvisor
		out.Confidence = avg
		out.Reasoning = fmt.Sprintf("rule-based fallback: %d of 4 strategies agree on %s", len(agreeing), sig.Direction)
		return &out
	}
	return nil
}
