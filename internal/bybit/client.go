package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bybit-trading-bot/internal/trading"
)

const defaultRecvWindow = 5000

// Client is a Bybit v5 REST client bound to one market category.
// Credentials may be nil; public market-data calls continue to work
// and authenticated calls fail with ErrCredentialsMissing.
type Client struct {
	baseURL    string
	category   string
	creds      *Credentials
	recvWindow int
	httpClient *http.Client
	limiter    *RateLimiter
	logger     zerolog.Logger
}

// NewClient creates a client for the given category. Pass nil
// credentials for public-only use.
func NewClient(baseURL, category string, creds *Credentials, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		category:   category,
		creds:      creds,
		recvWindow: defaultRecvWindow,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    NewRateLimiter(10, 20),
		logger:     logger.With().Str("component", "bybit").Str("category", category).Logger(),
	}
}

// Category returns the market category this client serves.
func (c *Client) Category() string {
	return c.category
}

// HasCredentials reports whether authenticated calls can be made.
func (c *Client) HasCredentials() bool {
	return c.creds.Valid()
}

// SetCredentials installs the key pair for authenticated calls.
// Credentials come from the user's settings row, set once at bot
// start; rotation requires a stop and restart.
func (c *Client) SetCredentials(apiKey, apiSecret string) {
	if apiKey == "" || apiSecret == "" {
		c.creds = nil
		return
	}
	c.creds = &Credentials{APIKey: apiKey, APISecret: apiSecret}
}

// IntervalFromTimeframe maps a settings timeframe to the kline
// interval parameter.
func IntervalFromTimeframe(tf string) string {
	switch tf {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "1h":
		return "60"
	case "4h":
		return "240"
	}
	return "15"
}

// TestConnection verifies reachability via the public server-time
// endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.get(ctx, "/v5/market/time", url.Values{}, false)
	return err
}

// GetKlines fetches up to limit candles and returns them in
// chronological order. Candles with non-finite fields are dropped with
// a warning.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	raw, err := c.get(ctx, "/v5/market/kline", params, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	// The exchange returns newest first.
	candles := make([]trading.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		candle, ok := parseCandle(row)
		if !ok {
			c.logger.Warn().Str("symbol", symbol).Strs("row", row).Msg("dropping invalid candle")
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(row []string) (trading.Candle, bool) {
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return trading.Candle{}, false
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return trading.Candle{}, false
		}
		vals[i] = v
	}
	return trading.Candle{
		Timestamp: time.UnixMilli(ms).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, true
}

// GetTicker fetches the latest ticker snapshot for one symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	raw, err := c.get(ctx, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}
	var result struct {
		List []Ticker `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tickers: %w", err)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("no ticker for %s", symbol)
	}
	return &result.List[0], nil
}

// GetWalletBalance returns the unified-account balance for one coin.
func (c *Client) GetWalletBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", coin)

	raw, err := c.get(ctx, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	for _, acct := range result.List {
		for _, entry := range acct.Coin {
			if entry.Coin == coin {
				bal, err := decimal.NewFromString(entry.WalletBalance)
				if err != nil {
					return decimal.Zero, fmt.Errorf("parse balance: %w", err)
				}
				return bal, nil
			}
		}
	}
	return decimal.Zero, nil
}

// PlaceOrder submits an order and returns the assigned id. Exchange
// rejections surface as *APIError.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Category == "" {
		req.Category = c.category
	}
	raw, err := c.post(ctx, "/v5/order/create", req)
	if err != nil {
		return nil, err
	}
	var result OrderResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse order result: %w", err)
	}
	c.logger.Info().Str("symbol", req.Symbol).Str("side", req.Side).
		Str("orderId", result.OrderID).Msg("order placed")
	return &result, nil
}

// GetPositions lists exchange-side positions for the client category.
func (c *Client) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("settleCoin", "USDT")

	raw, err := c.get(ctx, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}
	var result struct {
		List []ExchangePosition `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	return result.List, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, params url.Values, authed bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := params.Encode()
	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if authed {
		if err := c.signRequest(req, query); err != nil {
			return nil, err
		}
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.signRequest(req, string(payload)); err != nil {
		return nil, err
	}
	return c.do(req)
}

// signRequest attaches the v5 auth headers. The signature is
// HMAC-SHA256 over timestamp || apiKey || recvWindow || payload where
// payload is the query string for GET and the JSON body for POST.
func (c *Client) signRequest(req *http.Request, payload string) error {
	if !c.creds.Valid() {
		return ErrCredentialsMissing
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recvWindow := strconv.Itoa(c.recvWindow)

	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(timestamp + c.creds.APIKey + recvWindow + payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-BAPI-API-KEY", c.creds.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", signature)
	return nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bybit request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bybit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit http %d: %s", resp.StatusCode, string(body))
	}

	var envelope response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("bybit envelope: %w", err)
	}
	if envelope.RetCode != 0 {
		return nil, &APIError{Code: envelope.RetCode, Message: envelope.RetMsg}
	}
	return envelope.Result, nil
}
