package bybit

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Market categories. Category selection is a mandatory per-call
// parameter; spot and linear are never mixed on one client.
const (
	CategorySpot   = "spot"
	CategoryLinear = "linear"
)

// Order sides and types.
const (
	SideBuy  = "Buy"
	SideSell = "Sell"

	OrderTypeMarket = "Market"
	OrderTypeLimit  = "Limit"
)

// MainnetBaseURL is the REST base for the production exchange.
const MainnetBaseURL = "https://api.bybit.com"

// Public WebSocket stream URLs per category.
const (
	MainnetWSSpot   = "wss://stream.bybit.com/v5/public/spot"
	MainnetWSLinear = "wss://stream.bybit.com/v5/public/linear"
)

// ErrCredentialsMissing is returned when an authenticated call is made
// without configured API keys. Public market-data calls never need
// credentials.
var ErrCredentialsMissing = errors.New("bybit: api credentials not configured")

// APIError is a non-zero retCode from the exchange.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit: retCode %d: %s", e.Code, e.Message)
}

// Credentials are the per-user exchange keys, read from the settings
// row at bot start and immutable until the next start.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Valid reports whether both keys are present.
func (c *Credentials) Valid() bool {
	return c != nil && c.APIKey != "" && c.APISecret != ""
}

// response is the v5 envelope carried by every REST reply.
type response struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Ticker is one /v5/market/tickers row.
type Ticker struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"lastPrice,string"`
	Price24hPcnt  float64 `json:"price24hPcnt,string"`
	HighPrice24h  float64 `json:"highPrice24h,string"`
	LowPrice24h   float64 `json:"lowPrice24h,string"`
	Volume24h     float64 `json:"volume24h,string"`
	Turnover24h   float64 `json:"turnover24h,string"`
	PrevPrice24h  float64 `json:"prevPrice24h,string"`
	UsdIndexPrice string  `json:"usdIndexPrice,omitempty"`
}

// OrderRequest is the /v5/order/create payload.
type OrderRequest struct {
	Category  string `json:"category"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	OrderType string `json:"orderType"`
	Qty       string `json:"qty"`
	Price     string `json:"price,omitempty"`
}

// OrderResult is the assigned order identity on success.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// ExchangePosition is one /v5/position/list row.
type ExchangePosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
}
