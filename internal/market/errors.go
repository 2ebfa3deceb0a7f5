package market

import "errors"

// ErrNoData is returned when a symbol yields no valid candles.
var ErrNoData = errors.New("market: no candle data")
