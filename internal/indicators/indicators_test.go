package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"bybit-trading-bot/internal/trading"
)

func candlesFromCloses(closes []float64) []trading.Candle {
	out := make([]trading.Candle, len(closes))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = trading.Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      c, High: c, Low: c, Close: c, Volume: 1000,
		}
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	got, err := SMA([]float64{1, 2, 3, 4, 5}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got, 3) {
		t.Errorf("expected 3, got %f", got)
	}

	if _, err := SMA([]float64{1, 2}, 5); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestEMAConstantSeries(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 42
	}
	got, err := EMA(closes, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got, 42) {
		t.Errorf("EMA of constant series should be the constant, got %f", got)
	}
}

func TestEMASeriesLength(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	series, err := EMASeries(closes, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 7 {
		t.Errorf("expected 7 values, got %d", len(series))
	}
	// seed is SMA of first 4 closes
	if !almostEqual(series[0], 2.5) {
		t.Errorf("expected seed 2.5, got %f", series[0])
	}
}

func TestRSIExtremes(t *testing.T) {
	rising := make([]float64, 30)
	falling := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(100 + i)
		falling[i] = float64(100 - i)
	}

	up, err := RSI(rising, 14)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(up, 100) {
		t.Errorf("all-gains RSI should be 100, got %f", up)
	}

	down, err := RSI(falling, 14)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(down, 0) {
		t.Errorf("all-losses RSI should be 0, got %f", down)
	}
}

func TestRSIBounded(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/3)
	}
	got, err := RSI(closes, 14)
	if err != nil {
		t.Fatal(err)
	}
	if got < 0 || got > 100 {
		t.Errorf("RSI out of range: %f", got)
	}
}

func TestMACDConstantSeriesIsZero(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 500
	}
	macd, signal, hist, err := MACD(closes, 9, 21, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(macd, 0) || !almostEqual(signal, 0) || !almostEqual(hist, 0) {
		t.Errorf("constant series should yield zero MACD, got %f %f %f", macd, signal, hist)
	}
}

func TestMACDFastMustBeBelowSlow(t *testing.T) {
	closes := make([]float64, 60)
	if _, _, _, err := MACD(closes, 21, 9, 9); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected error when fast >= slow, got %v", err)
	}
}

func TestMACDUptrendPositive(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.01, float64(i))
	}
	macd, _, _, err := MACD(closes, 9, 21, 9)
	if err != nil {
		t.Fatal(err)
	}
	if macd <= 0 {
		t.Errorf("accelerating uptrend should have positive MACD, got %f", macd)
	}
}

func TestBollingerBands(t *testing.T) {
	// last 20 closes alternate 10 and 20: mean 15, stddev 5
	closes := make([]float64, 40)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 10
		} else {
			closes[i] = 20
		}
	}
	upper, middle, lower, err := BollingerBands(closes, 20, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(middle, 15) {
		t.Errorf("expected middle 15, got %f", middle)
	}
	if !almostEqual(upper, 25) {
		t.Errorf("expected upper 25, got %f", upper)
	}
	if !almostEqual(lower, 5) {
		t.Errorf("expected lower 5, got %f", lower)
	}
}

func TestADXFlatSeriesIsZero(t *testing.T) {
	candles := candlesFromCloses(make([]float64, 60))
	for i := range candles {
		candles[i].Open, candles[i].High, candles[i].Low, candles[i].Close = 100, 100, 100, 100
	}
	got, err := ADX(candles, 14)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got, 0) {
		t.Errorf("flat market ADX should be 0, got %f", got)
	}
}

func TestADXStrongTrend(t *testing.T) {
	candles := make([]trading.Candle, 80)
	ts := time.Now()
	for i := range candles {
		base := 100 + float64(i)*2
		candles[i] = trading.Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      base, High: base + 1, Low: base - 1, Close: base + 0.5, Volume: 1,
		}
	}
	got, err := ADX(candles, 14)
	if err != nil {
		t.Fatal(err)
	}
	if got < 25 {
		t.Errorf("persistent uptrend should produce strong ADX, got %f", got)
	}
	if got > 100 {
		t.Errorf("ADX cannot exceed 100, got %f", got)
	}
}

func TestComputeRequiresFiftyCandles(t *testing.T) {
	short := candlesFromCloses(make([]float64, 49))
	if _, err := Compute(short, DefaultParams()); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for 49 candles, got %v", err)
	}
}

func TestComputeSnapshot(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 3*math.Sin(float64(i)/4)
	}
	snap, err := Compute(candlesFromCloses(closes), DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(snap.Price, closes[len(closes)-1]) {
		t.Errorf("snapshot price should be last close")
	}
	if snap.BBLower > snap.BBMiddle || snap.BBMiddle > snap.BBUpper {
		t.Errorf("band ordering violated: %f %f %f", snap.BBLower, snap.BBMiddle, snap.BBUpper)
	}
	if snap.RSI < 0 || snap.RSI > 100 {
		t.Errorf("RSI out of range: %f", snap.RSI)
	}
}

func TestSupportResistance(t *testing.T) {
	candles := candlesFromCloses([]float64{5, 3, 9, 7})
	candles[1].Low = 2.5
	candles[2].High = 9.5
	support, resistance := SupportResistance(candles, 50)
	if !almostEqual(support, 2.5) {
		t.Errorf("expected support 2.5, got %f", support)
	}
	if !almostEqual(resistance, 9.5) {
		t.Errorf("expected resistance 9.5, got %f", resistance)
	}
}
