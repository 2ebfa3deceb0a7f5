// Package indicators computes technical indicators over a closed
// candle series. All functions are pure; the engine calls Compute once
// per symbol per scan cycle.
package indicators

import (
	"errors"
	"math"

	"bybit-trading-bot/internal/trading"
)

// MinCandles is the minimum closed-series length required to emit a
// snapshot. Shorter series produce no output and the symbol is skipped
// for the cycle.
const MinCandles = 50

// ErrInsufficientData is returned when the candle series is too short
// for any indicator to be defined.
var ErrInsufficientData = errors.New("indicators: insufficient candle data")

// Params are the per-user indicator settings.
type Params struct {
	RSIPeriod  int
	EMAFast    int
	EMASlow    int
	MACDSignal int
	ADXPeriod  int
}

// DefaultParams mirrors the default trading settings.
func DefaultParams() Params {
	return Params{RSIPeriod: 14, EMAFast: 9, EMASlow: 21, MACDSignal: 9, ADXPeriod: 14}
}

// Snapshot is one indicator readout computed on the last closed candle.
type Snapshot struct {
	Price         float64 `json:"price"`
	RSI           float64 `json:"rsi"`
	EMAFast       float64 `json:"emaFast"`
	EMASlow       float64 `json:"emaSlow"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macdSignal"`
	MACDHistogram float64 `json:"macdHistogram"`
	ADX           float64 `json:"adx"`
	BBUpper       float64 `json:"bbUpper"`
	BBMiddle      float64 `json:"bbMiddle"`
	BBLower       float64 `json:"bbLower"`
	SMA20         float64 `json:"sma20"`
	Support       float64 `json:"support"`
	Resistance    float64 `json:"resistance"`
}

// Compute builds the full snapshot for a chronologically ordered candle
// series. Returns ErrInsufficientData when fewer than MinCandles
// candles are supplied or any component indicator is undefined for the
// given params.
func Compute(candles []trading.Candle, p Params) (*Snapshot, error) {
	if len(candles) < MinCandles {
		return nil, ErrInsufficientData
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsi, err := RSI(closes, p.RSIPeriod)
	if err != nil {
		return nil, err
	}
	emaFast, err := EMA(closes, p.EMAFast)
	if err != nil {
		return nil, err
	}
	emaSlow, err := EMA(closes, p.EMASlow)
	if err != nil {
		return nil, err
	}
	macd, signal, hist, err := MACD(closes, p.EMAFast, p.EMASlow, p.MACDSignal)
	if err != nil {
		return nil, err
	}
	adx, err := ADX(candles, p.ADXPeriod)
	if err != nil {
		return nil, err
	}
	upper, middle, lower, err := BollingerBands(closes, 20, 2)
	if err != nil {
		return nil, err
	}
	sma20, err := SMA(closes, 20)
	if err != nil {
		return nil, err
	}
	support, resistance := SupportResistance(candles, MinCandles)

	return &Snapshot{
		Price:         closes[len(closes)-1],
		RSI:           rsi,
		EMAFast:       emaFast,
		EMASlow:       emaSlow,
		MACD:          macd,
		MACDSignal:    signal,
		MACDHistogram: hist,
		ADX:           adx,
		BBUpper:       upper,
		BBMiddle:      middle,
		BBLower:       lower,
		SMA20:         sma20,
		Support:       support,
		Resistance:    resistance,
	}, nil
}

// SMA returns the simple moving average of the last period closes.
func SMA(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), nil
}

// EMASeries returns the exponential moving average series, seeded with
// the SMA of the first period closes. The result is aligned so that
// index i corresponds to closes[i+period-1].
func EMASeries(closes []float64, period int) ([]float64, error) {
	if period <= 0 || len(closes) < period {
		return nil, ErrInsufficientData
	}
	seed := 0.0
	for _, c := range closes[:period] {
		seed += c
	}
	seed /= float64(period)

	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(closes)-period+1)
	out = append(out, seed)
	ema := seed
	for _, c := range closes[period:] {
		ema = (c-ema)*k + ema
		out = append(out, ema)
	}
	return out, nil
}

// EMA returns the last value of the EMA series.
func EMA(closes []float64, period int) (float64, error) {
	series, err := EMASeries(closes, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// RSI computes the classic Wilder relative strength index. Requires at
// least period+1 closes.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period+1 {
		return 0, ErrInsufficientData
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// MACD computes the MACD line, its signal line (an EMA of the MACD
// series, not an approximation) and the histogram.
func MACD(closes []float64, fast, slow, signalPeriod int) (macd, signal, histogram float64, err error) {
	if fast >= slow {
		return 0, 0, 0, ErrInsufficientData
	}
	if len(closes) < slow+signalPeriod {
		return 0, 0, 0, ErrInsufficientData
	}

	fastSeries, err := EMASeries(closes, fast)
	if err != nil {
		return 0, 0, 0, err
	}
	slowSeries, err := EMASeries(closes, slow)
	if err != nil {
		return 0, 0, 0, err
	}

	// Both series end at the last close; align on the tail.
	n := len(slowSeries)
	macdSeries := make([]float64, n)
	offset := len(fastSeries) - n
	for i := 0; i < n; i++ {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries, err := EMASeries(macdSeries, signalPeriod)
	if err != nil {
		return 0, 0, 0, err
	}

	macd = macdSeries[len(macdSeries)-1]
	signal = signalSeries[len(signalSeries)-1]
	return macd, signal, macd - signal, nil
}

// BollingerBands returns the upper, middle and lower bands for the
// last period closes using a population standard deviation.
func BollingerBands(closes []float64, period int, mult float64) (upper, middle, lower float64, err error) {
	middle, err = SMA(closes, period)
	if err != nil {
		return 0, 0, 0, err
	}
	variance := 0.0
	for _, c := range closes[len(closes)-period:] {
		d := c - middle
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(period))
	return middle + mult*stddev, middle, middle - mult*stddev, nil
}

// ADX computes Wilder's average directional index with true DI+/DI-
// smoothing. Requires at least 2*period+1 candles.
func ADX(candles []trading.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0, ErrInsufficientData
	}

	n := len(candles) - 1
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		tr[i-1] = math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}

	// Wilder smoothing: seed with the first period sum, then
	// smoothed = prev - prev/period + current.
	smooth := func(vals []float64) []float64 {
		out := make([]float64, 0, len(vals)-period+1)
		sum := 0.0
		for _, v := range vals[:period] {
			sum += v
		}
		out = append(out, sum)
		for _, v := range vals[period:] {
			sum = sum - sum/float64(period) + v
			out = append(out, sum)
		}
		return out
	}

	trS := smooth(tr)
	plusS := smooth(plusDM)
	minusS := smooth(minusDM)

	dx := make([]float64, len(trS))
	for i := range trS {
		if trS[i] == 0 {
			continue
		}
		diPlus := 100 * plusS[i] / trS[i]
		diMinus := 100 * minusS[i] / trS[i]
		if diPlus+diMinus == 0 {
			continue
		}
		dx[i] = 100 * math.Abs(diPlus-diMinus) / (diPlus + diMinus)
	}

	if len(dx) < period {
		return 0, ErrInsufficientData
	}
	adx := 0.0
	for _, v := range dx[:period] {
		adx += v
	}
	adx /= float64(period)
	for _, v := range dx[period:] {
		adx = (adx*float64(period-1) + v) / float64(period)
	}
	return adx, nil
}

// SupportResistance returns the lowest low and highest high over the
// last window candles. Used by the AI advisor snapshot.
func SupportResistance(candles []trading.Candle, window int) (support, resistance float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	if window > len(candles) {
		window = len(candles)
	}
	tail := candles[len(candles)-window:]
	support, resistance = tail[0].Low, tail[0].High
	for _, c := range tail[1:] {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}
	return support, resistance
}
