package strategy

import (
	"math"
	"testing"

	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/trading"
)

func spotConfig() Config {
	return Config{
		Mode:              trading.ModeSpot,
		RSILow:            30,
		RSIHigh:           70,
		StopLossPercent:   3,
		TakeProfitPercent: 6,
		MinConfidence:     70,
	}
}

func leverageConfig() Config {
	c := spotConfig()
	c.Mode = trading.ModeLeverage
	return c
}

func TestMeanReversionSpotOversold(t *testing.T) {
	cfg := spotConfig()
	cfg.MeanReversion = true
	snap := &indicators.Snapshot{
		Price:    20000,
		RSI:      25,
		BBLower:  20100,
		BBMiddle: 20400,
		BBUpper:  20700,
	}

	signals := Evaluate("BTCUSDT", snap, cfg)
	if len(signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Direction != trading.DirectionUp {
		t.Errorf("spot long must be relabeled UP, got %s", sig.Direction)
	}
	if sig.Strategy != trading.StrategyMeanReversion {
		t.Errorf("expected Mean Reversion, got %s", sig.Strategy)
	}
	if sig.EntryPrice != 20000 {
		t.Errorf("expected entry 20000, got %f", sig.EntryPrice)
	}
	if math.Abs(sig.StopLoss-19400) > 1e-9 {
		t.Errorf("expected stop 19400, got %f", sig.StopLoss)
	}
	if sig.TakeProfit != 20400 {
		t.Errorf("take profit must target the band middle, got %f", sig.TakeProfit)
	}
	// 70 + 2*(30-25) = 80
	if sig.Confidence != 80 {
		t.Errorf("expected confidence 80, got %f", sig.Confidence)
	}
}

func TestBreakoutShortOnBreakdown(t *testing.T) {
	cfg := leverageConfig()
	cfg.BreakoutTrading = true
	snap := &indicators.Snapshot{
		Price:    1000,
		ADX:      30,
		BBLower:  1010,
		BBMiddle: 1050,
		BBUpper:  1090,
	}

	signals := Evaluate("ETHUSDT", snap, cfg)
	if len(signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Direction != trading.DirectionShort {
		t.Errorf("expected SHORT, got %s", sig.Direction)
	}
	if sig.StopLoss != 1050 {
		t.Errorf("breakout stop must be the band middle, got %f", sig.StopLoss)
	}
	if math.Abs(sig.TakeProfit-940) > 1e-9 {
		t.Errorf("expected take profit 940, got %f", sig.TakeProfit)
	}
	// 75 + min(30-20, 20) = 85
	if sig.Confidence != 85 {
		t.Errorf("expected confidence 85, got %f", sig.Confidence)
	}
}

func TestSpotDropsShortSignals(t *testing.T) {
	cfg := spotConfig()
	cfg.BreakoutTrading = true
	snap := &indicators.Snapshot{Price: 1000, ADX: 30, BBLower: 1010, BBMiddle: 1050, BBUpper: 1090}

	if signals := Evaluate("ETHUSDT", snap, cfg); len(signals) != 0 {
		t.Errorf("spot bot must discard shorts, got %d signals", len(signals))
	}
}

func TestTrendFollowingStrictADXBoundary(t *testing.T) {
	cfg := leverageConfig()
	cfg.TrendFollowing = true
	snap := &indicators.Snapshot{
		Price:      100,
		ADX:        25, // exactly at the threshold
		EMAFast:    102,
		EMASlow:    100,
		MACD:       1,
		MACDSignal: 0.5,
		RSI:        55,
	}
	if signals := Evaluate("BTCUSDT", snap, cfg); len(signals) != 0 {
		t.Error("ADX exactly 25 must not fire (strict inequality)")
	}

	snap.ADX = 25.01
	signals := Evaluate("BTCUSDT", snap, cfg)
	if len(signals) != 1 {
		t.Fatal("ADX above 25 should fire")
	}
	// 60 + min(0.01,30) + 10 healthy-band bonus
	want := 60 + 0.01 + 10
	if math.Abs(signals[0].Confidence-want) > 1e-9 {
		t.Errorf("expected confidence %f, got %f", want, signals[0].Confidence)
	}
}

func TestMeanReversionStrictBoundaries(t *testing.T) {
	cfg := leverageConfig()
	cfg.MeanReversion = true
	snap := &indicators.Snapshot{
		Price:    20100, // exactly the lower band
		RSI:      30,    // exactly rsiLow
		BBLower:  20100,
		BBMiddle: 20400,
	}
	if signals := Evaluate("BTCUSDT", snap, cfg); len(signals) != 0 {
		t.Error("equality on RSI and band must not fire (strict inequality)")
	}
}

func TestMeanReversionConfidenceCap(t *testing.T) {
	cfg := leverageConfig()
	cfg.MeanReversion = true
	snap := &indicators.Snapshot{Price: 90, RSI: 5, BBLower: 100, BBMiddle: 110}

	signals := Evaluate("BTCUSDT", snap, cfg)
	if len(signals) != 1 {
		t.Fatal("expected deep-oversold signal")
	}
	// 70 + 2*25 = 120, capped at 95
	if signals[0].Confidence != 95 {
		t.Errorf("expected cap 95, got %f", signals[0].Confidence)
	}
}

func TestPullbackConfidenceCap(t *testing.T) {
	cfg := leverageConfig()
	cfg.PullbackTrading = true
	snap := &indicators.Snapshot{
		Price:         100,
		RSI:           50,
		EMAFast:       102,
		EMASlow:       100,
		MACDHistogram: 0.5,
	}

	signals := Evaluate("BTCUSDT", snap, cfg)
	if len(signals) != 1 {
		t.Fatal("expected pullback signal")
	}
	// 65 + 0.5*60 = 95, capped at 90
	if signals[0].Confidence != 90 {
		t.Errorf("expected cap 90, got %f", signals[0].Confidence)
	}
}

func TestMinConfidenceFilter(t *testing.T) {
	cfg := leverageConfig()
	cfg.PullbackTrading = true
	cfg.MinConfidence = 95
	snap := &indicators.Snapshot{
		Price: 100, RSI: 50, EMAFast: 102, EMASlow: 100, MACDHistogram: 0.5,
	}
	if signals := Evaluate("BTCUSDT", snap, cfg); len(signals) != 0 {
		t.Error("signals below minConfidence must be suppressed")
	}
}

func TestEvaluationOrderIsStrategyPriority(t *testing.T) {
	cfg := leverageConfig()
	cfg.TrendFollowing = true
	cfg.BreakoutTrading = true
	// both trend and breakout fire long
	snap := &indicators.Snapshot{
		Price:      110,
		ADX:        35,
		EMAFast:    108,
		EMASlow:    100,
		MACD:       2,
		MACDSignal: 1,
		RSI:        55,
		BBUpper:    105,
		BBMiddle:   100,
		BBLower:    95,
	}

	signals := Evaluate("BTCUSDT", snap, cfg)
	if len(signals) != 2 {
		t.Fatalf("expected both strategies to fire, got %d", len(signals))
	}
	if signals[0].Strategy != trading.StrategyTrendFollowing {
		t.Errorf("trend following must come first, got %s", signals[0].Strategy)
	}
	if signals[1].Strategy != trading.StrategyBreakout {
		t.Errorf("breakout must come second, got %s", signals[1].Strategy)
	}
}

func TestDisabledStrategiesNeverFire(t *testing.T) {
	cfg := leverageConfig() // no toggles on
	snap := &indicators.Snapshot{
		Price: 90, RSI: 5, BBLower: 100, BBMiddle: 110, ADX: 40,
		EMAFast: 95, EMASlow: 90, MACD: 1, MACDSignal: 0, MACDHistogram: 1,
	}
	if signals := Evaluate("BTCUSDT", snap, cfg); len(signals) != 0 {
		t.Errorf("disabled strategies must not fire, got %d", len(signals))
	}
}

func TestNilSnapshotYieldsNoSignals(t *testing.T) {
	cfg := leverageConfig()
	cfg.TrendFollowing = true
	if signals := Evaluate("BTCUSDT", nil, cfg); signals != nil {
		t.Error("nil snapshot must yield no signals")
	}
}
