// Package ai adapts a market and indicator snapshot to an external LLM
// and converts the advisory response into a typed trade signal. Every
// failure path degrades to the deterministic rule-based fallback; the
// advisor never errors into the scan cycle.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/strategy"
	"bybit-trading-bot/internal/trading"
)

// Completer is the slice of the LLM client the advisor needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	IsConfigured() bool
}

// MarketSnapshot is the ticker view handed to the advisor.
type MarketSnapshot struct {
	Symbol         string
	CurrentPrice   float64
	PriceChange24h float64
	Volume24h      float64
	High24h        float64
	Low24h         float64
	Timestamp      time.Time
}

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Advice is the parsed advisory response.
type Advice struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Risk       string  `json:"risk"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Reasoning  string  `json:"reasoning"`
}

const defaultAdvisorTimeout = 15 * time.Second

// Advisor wraps the LLM round trip with its own timeout, strict
// response validation and the rule-based fallback.
type Advisor struct {
	client  Completer
	timeout time.Duration
	// legacyParse enables the ACTION:/CONFIDENCE: text shim for
	// providers that ignore the JSON instruction.
	legacyParse bool
	logger      zerolog.Logger
}

// NewAdvisor builds an advisor. client may be nil; every call then
// takes the fallback path.
func NewAdvisor(client Completer, timeout time.Duration, legacyParse bool, logger zerolog.Logger) *Advisor {
	if timeout <= 0 {
		timeout = defaultAdvisorTimeout
	}
	return &Advisor{
		client:      client,
		timeout:     timeout,
		legacyParse: legacyParse,
		logger:      logger.With().Str("component", "ai_advisor").Logger(),
	}
}

// Advise returns at most one signal for the symbol. A HOLD verdict,
// from the LLM or the fallback, returns nil. The error return is
// always nil-safe for the caller: a non-nil error only reports that
// the fallback was used and why.
func (a *Advisor) Advise(ctx context.Context, market MarketSnapshot, snap *indicators.Snapshot, cfg strategy.Config) (*trading.Signal, error) {
	if snap == nil {
		return nil, fmt.Errorf("advisor: no indicator snapshot")
	}
	if a.client == nil || !a.client.IsConfigured() {
		return Fallback(market.Symbol, snap, cfg), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.client.Complete(callCtx, systemPrompt, buildPrompt(market, snap, cfg.Mode))
	if err != nil {
		a.logger.Warn().Err(err).Str("symbol", market.Symbol).Msg("advisor call failed, using fallback")
		return Fallback(market.Symbol, snap, cfg), fmt.Errorf("advisor: %w", err)
	}

	advice, err := a.parse(raw)
	if err != nil {
		a.logger.Warn().Err(err).Str("symbol", market.Symbol).Msg("advisor response malformed, using fallback")
		return Fallback(market.Symbol, snap, cfg), fmt.Errorf("advisor: %w", err)
	}
	return a.toSignal(market, advice, cfg), nil
}

func (a *Advisor) parse(raw string) (*Advice, error) {
	advice, err := parseJSON(raw)
	if err != nil && a.legacyParse {
		advice, err = parseLegacy(raw)
	}
	if err != nil {
		return nil, err
	}
	if err := advice.validate(); err != nil {
		return nil, err
	}
	return advice, nil
}

func (adv *Advice) validate() error {
	switch adv.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("invalid action %q", adv.Action)
	}
	if adv.Confidence < 0 || adv.Confidence > 100 {
		return fmt.Errorf("confidence %f out of range", adv.Confidence)
	}
	switch adv.Risk {
	case "LOW", "MEDIUM", "HIGH", "":
	default:
		return fmt.Errorf("invalid risk %q", adv.Risk)
	}
	return nil
}

// parseJSON extracts the first JSON object from the response. Models
// often wrap it in code fences or prose.
func parseJSON(raw string) (*Advice, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var adv Advice
	if err := json.Unmarshal([]byte(raw[start:end+1]), &adv); err != nil {
		return nil, fmt.Errorf("bad JSON: %w", err)
	}
	adv.Action = strings.ToUpper(strings.TrimSpace(adv.Action))
	adv.Risk = strings.ToUpper(strings.TrimSpace(adv.Risk))
	return &adv, nil
}

// parseLegacy reads the older line-oriented format:
//
//	ACTION: BUY
//	CONFIDENCE: 80
//	RISK: MEDIUM
//	...
func parseLegacy(raw string) (*Advice, error) {
	adv := &Advice{}
	found := false
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "ACTION":
			adv.Action = strings.ToUpper(value)
			found = true
		case "CONFIDENCE":
			f, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
			if err != nil {
				return nil, fmt.Errorf("bad confidence %q", value)
			}
			adv.Confidence = f
		case "RISK":
			adv.Risk = strings.ToUpper(value)
		case "ENTRY":
			adv.Entry, _ = strconv.ParseFloat(value, 64)
		case "STOP_LOSS":
			adv.StopLoss, _ = strconv.ParseFloat(value, 64)
		case "TAKE_PROFIT":
			adv.TakeProfit, _ = strconv.ParseFloat(value, 64)
		case "REASONING":
			adv.Reasoning = value
		}
	}
	if !found {
		return nil, fmt.Errorf("no ACTION field in response")
	}
	return adv, nil
}

// toSignal converts a validated advice into a signal. HOLD yields nil,
// as does SELL on a spot bot.
func (a *Advisor) toSignal(market MarketSnapshot, adv *Advice, cfg strategy.Config) *trading.Signal {
	if adv.Action == ActionHold {
		return nil
	}

	price := market.CurrentPrice
	sig := &trading.Signal{
		Symbol:     market.Symbol,
		Strategy:   trading.StrategyAIAdvisor,
		Confidence: adv.Confidence,
		EntryPrice: price,
		StopLoss:   adv.StopLoss,
		TakeProfit: adv.TakeProfit,
		Reasoning:  adv.Reasoning,
	}
	if adv.Entry > 0 {
		sig.EntryPrice = adv.Entry
	}

	switch adv.Action {
	case ActionBuy:
		if cfg.Mode == trading.ModeSpot {
			sig.Direction = trading.DirectionUp
		} else {
			sig.Direction = trading.DirectionLong
		}
		if sig.StopLoss <= 0 {
			sig.StopLoss = price * (1 - cfg.StopLossPercent/100)
		}
		if sig.TakeProfit <= 0 {
			sig.TakeProfit = price * (1 + cfg.TakeProfitPercent/100)
		}
	case ActionSell:
		if cfg.Mode == trading.ModeSpot {
			return nil
		}
		sig.Direction = trading.DirectionShort
		if sig.StopLoss <= 0 {
			sig.StopLoss = price * (1 + cfg.StopLossPercent/100)
		}
		if sig.TakeProfit <= 0 {
			sig.TakeProfit = price * (1 - cfg.TakeProfitPercent/100)
		}
	}
	return sig
}
