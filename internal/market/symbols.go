package market

// usdtPairs is the static symbol registry: canonical USDT pairs in
// liquidity order. Dynamic discovery may extend this later but must
// never block startup.
var usdtPairs = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT",
	"DOGEUSDT", "ADAUSDT", "AVAXUSDT", "LINKUSDT", "DOTUSDT",
	"TONUSDT", "TRXUSDT", "MATICUSDT", "NEARUSDT", "LTCUSDT",
	"UNIUSDT", "ATOMUSDT", "APTUSDT", "ARBUSDT", "OPUSDT",
	"INJUSDT", "FILUSDT", "SUIUSDT", "RNDRUSDT", "AAVEUSDT",
	"ALGOUSDT", "FTMUSDT", "SANDUSDT", "MANAUSDT", "GRTUSDT",
}

// AllUSDTPairs returns the full registered universe.
func AllUSDTPairs() []string {
	out := make([]string, len(usdtPairs))
	copy(out, usdtPairs)
	return out
}

// TopTradingPairs returns a deterministic prefix of the registry.
func TopTradingPairs(limit int) []string {
	if limit <= 0 || limit > len(usdtPairs) {
		limit = len(usdtPairs)
	}
	out := make([]string, limit)
	copy(out, usdtPairs[:limit])
	return out
}
