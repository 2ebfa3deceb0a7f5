package ai

import (
	"fmt"
	"strings"

	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/trading"
)

const systemPrompt = `You are a cryptocurrency trading analyst. You receive a market snapshot and technical indicators for one symbol and respond with a single trade verdict.

Respond with ONLY a JSON object, no prose, in this exact shape:
{
  "action": "BUY" | "SELL" | "HOLD",
  "confidence": 0-100,
  "risk": "LOW" | "MEDIUM" | "HIGH",
  "entry": number,
  "stop_loss": number,
  "take_profit": number,
  "reasoning": "one or two sentences"
}

Prefer HOLD when the picture is mixed. Never invent prices far from the current price.`

// buildPrompt renders the market and technical snapshot for the model.
func buildPrompt(market MarketSnapshot, snap *indicators.Snapshot, mode trading.Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\n", market.Symbol)
	fmt.Fprintf(&b, "Trading mode: %s\n\n", mode)

	b.WriteString("Market snapshot:\n")
	fmt.Fprintf(&b, "  Current price: %.8f\n", market.CurrentPrice)
	fmt.Fprintf(&b, "  24h change: %.2f%%\n", market.PriceChange24h)
	fmt.Fprintf(&b, "  24h volume: %.2f\n", market.Volume24h)
	fmt.Fprintf(&b, "  24h high: %.8f\n", market.High24h)
	fmt.Fprintf(&b, "  24h low: %.8f\n", market.Low24h)
	fmt.Fprintf(&b, "  As of: %s\n\n", market.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))

	b.WriteString("Technical indicators:\n")
	fmt.Fprintf(&b, "  RSI(14): %.2f\n", snap.RSI)
	fmt.Fprintf(&b, "  EMA fast: %.8f  EMA slow: %.8f\n", snap.EMAFast, snap.EMASlow)
	fmt.Fprintf(&b, "  MACD: %.8f  signal: %.8f  histogram: %.8f\n", snap.MACD, snap.MACDSignal, snap.MACDHistogram)
	fmt.Fprintf(&b, "  ADX: %.2f\n", snap.ADX)
	fmt.Fprintf(&b, "  Bollinger: upper %.8f  middle %.8f  lower %.8f\n", snap.BBUpper, snap.BBMiddle, snap.BBLower)
	fmt.Fprintf(&b, "  Support: %.8f  Resistance: %.8f\n", snap.Support, snap.Resistance)

	if mode == trading.ModeSpot {
		b.WriteString("\nThis is a spot account: SELL means do not enter, there is no short selling.\n")
	}
	return b.String()
}
