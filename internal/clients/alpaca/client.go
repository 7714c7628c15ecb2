// Package alpaca implements the brokerage client: account state, market
// orders, open-order management, crypto pair quotes and conversions, and the
// order-update stream.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxResponseBytes = 4 << 20

	// usdCurrency is the account currency every crypto conversion settles in
	usdCurrency = "USD"
)

// Config holds Alpaca API credentials and endpoints
type Config struct {
	KeyID       string
	SecretKey   string
	BaseURL     string // trading API, e.g. https://paper-api.alpaca.markets
	DataBaseURL string // market data API, e.g. https://data.alpaca.markets
}

// Client is a REST client for the Alpaca trading and data APIs.
// Implements domain.BrokerClient and the arbitrage broker surface.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Alpaca client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("client", "alpaca").Logger(),
	}
}

type accountResponse struct {
	Cash   string `json:"cash"`
	Equity string `json:"equity"`
}

type positionResponse struct {
	Symbol string `json:"symbol"`
	Qty    string `json:"qty"`
}

type assetResponse struct {
	Symbol   string `json:"symbol"`
	Tradable bool   `json:"tradable"`
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Qty            string `json:"qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

// Equity returns total account equity
func (c *Client) Equity(ctx context.Context) (float64, error) {
	account, err := c.getAccount(ctx)
	if err != nil {
		return 0, err
	}
	return parseFloat(account.Equity, "equity")
}

// Cash returns the available cash balance
func (c *Client) Cash(ctx context.Context) (float64, error) {
	account, err := c.getAccount(ctx)
	if err != nil {
		return 0, err
	}
	return parseFloat(account.Cash, "cash")
}

func (c *Client) getAccount(ctx context.Context) (*accountResponse, error) {
	var account accountResponse
	if err := c.get(ctx, c.cfg.BaseURL+"/v2/account", &account); err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// PositionShares returns the held quantity for a symbol, 0 when no position
// is open.
func (c *Client) PositionShares(ctx context.Context, symbol string) (float64, error) {
	var position positionResponse
	err := c.get(ctx, c.cfg.BaseURL+"/v2/positions/"+url.PathEscape(symbol), &position)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get position for %s: %w", symbol, err)
	}
	return parseFloat(position.Qty, "position qty")
}

// IsTradable reports whether the asset can currently be traded
func (c *Client) IsTradable(ctx context.Context, symbol string) (bool, error) {
	var asset assetResponse
	err := c.get(ctx, c.cfg.BaseURL+"/v2/assets/"+url.PathEscape(symbol), &asset)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get asset %s: %w", symbol, err)
	}
	return asset.Tradable, nil
}

// SubmitOrder places a GTC market order and returns the broker order ID.
// Each submission carries a fresh client order ID so a retried request can
// never double-execute.
func (c *Client) SubmitOrder(ctx context.Context, order domain.Order) (string, error) {
	req := orderRequest{
		Symbol:        order.Symbol,
		Qty:           formatFloat(order.Shares),
		Side:          sideParam(order.Side),
		Type:          "market",
		TimeInForce:   "gtc",
		ClientOrderID: uuid.NewString(),
	}

	var resp orderResponse
	if err := c.post(ctx, c.cfg.BaseURL+"/v2/orders", req, &resp); err != nil {
		return "", fmt.Errorf("failed to submit %s order for %s: %w", order.Side, order.Symbol, err)
	}

	c.log.Info().
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Float64("shares", order.Shares).
		Str("order_id", resp.ID).
		Msg("Order submitted")

	return resp.ID, nil
}

// OpenOrders lists resting orders
func (c *Client) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	var orders []orderResponse
	if err := c.get(ctx, c.cfg.BaseURL+"/v2/orders?status=open", &orders); err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	open := make([]domain.OpenOrder, 0, len(orders))
	for _, o := range orders {
		qty, err := parseFloat(o.Qty, "order qty")
		if err != nil {
			return nil, err
		}
		side := domain.OrderSideBuy
		if o.Side == "sell" {
			side = domain.OrderSideSell
		}
		open = append(open, domain.OpenOrder{
			ID:     o.ID,
			Symbol: o.Symbol,
			Side:   side,
			Shares: qty,
		})
	}
	return open, nil
}

// CancelOrder cancels a single resting order
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.do(ctx, http.MethodDelete, c.cfg.BaseURL+"/v2/orders/"+url.PathEscape(orderID), nil, nil); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return nil
}

type cryptoQuotesResponse struct {
	Quotes map[string]struct {
		AskPrice float64 `json:"ap"`
		BidPrice float64 `json:"bp"`
	} `json:"quotes"`
}

// PairPrice returns the price of one unit of base in quote units. When the
// pair only trades in the opposite orientation, the inverse of that quote is
// used.
func (c *Client) PairPrice(ctx context.Context, base, quote string) (float64, error) {
	price, err := c.latestPairMid(ctx, base+"/"+quote)
	if err == nil {
		return price, nil
	}

	inverse, invErr := c.latestPairMid(ctx, quote+"/"+base)
	if invErr != nil {
		return 0, fmt.Errorf("no quote in either orientation for %s/%s: %w", base, quote, err)
	}
	if inverse == 0 {
		return 0, fmt.Errorf("zero inverse quote for %s/%s", quote, base)
	}
	return 1 / inverse, nil
}

func (c *Client) latestPairMid(ctx context.Context, pair string) (float64, error) {
	endpoint := c.cfg.DataBaseURL + "/v1beta3/crypto/us/latest/quotes?symbols=" + url.QueryEscape(pair)

	var resp cryptoQuotesResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("failed to get crypto quote for %s: %w", pair, err)
	}

	quote, ok := resp.Quotes[pair]
	if !ok {
		return 0, fmt.Errorf("no quote returned for %s", pair)
	}
	if quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		return 0, fmt.Errorf("degenerate quote for %s", pair)
	}
	return (quote.BidPrice + quote.AskPrice) / 2, nil
}

// Convert spends the full available balance of the from currency on the to
// currency with a market order. USD balances buy by notional; crypto
// balances sell their whole position.
func (c *Client) Convert(ctx context.Context, from, to string) (string, error) {
	if from == usdCurrency {
		cash, err := c.Cash(ctx)
		if err != nil {
			return "", err
		}
		if cash <= 0 {
			return "", fmt.Errorf("no cash available to convert to %s", to)
		}
		return c.submitCryptoOrder(ctx, orderRequest{
			Symbol:   to + "/" + usdCurrency,
			Notional: formatFloat(cash),
			Side:     "buy",
		})
	}

	qty, err := c.PositionShares(ctx, from)
	if err != nil {
		return "", err
	}
	if qty <= 0 {
		return "", fmt.Errorf("no %s balance to convert", from)
	}

	// Sell the from currency priced in to; fall back to buying to priced
	// in from when only that orientation trades
	if _, err := c.latestPairMid(ctx, from+"/"+to); err == nil {
		return c.submitCryptoOrder(ctx, orderRequest{
			Symbol: from + "/" + to,
			Qty:    formatFloat(qty),
			Side:   "sell",
		})
	}
	return c.submitCryptoOrder(ctx, orderRequest{
		Symbol:   to + "/" + from,
		Notional: formatFloat(qty),
		Side:     "buy",
	})
}

func (c *Client) submitCryptoOrder(ctx context.Context, req orderRequest) (string, error) {
	req.Type = "market"
	req.TimeInForce = "gtc"
	req.ClientOrderID = uuid.NewString()

	var resp orderResponse
	if err := c.post(ctx, c.cfg.BaseURL+"/v2/orders", req, &resp); err != nil {
		return "", fmt.Errorf("failed to submit crypto order for %s: %w", req.Symbol, err)
	}

	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("order_id", resp.ID).
		Msg("Crypto order submitted")

	return resp.ID, nil
}

// httpError carries the status code for not-found detection
type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func isNotFound(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, body, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func sideParam(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "sell"
	}
	return "buy"
}

func parseFloat(value, field string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", field, value, err)
	}
	return parsed, nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
