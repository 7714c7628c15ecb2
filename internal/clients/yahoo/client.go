// Package yahoo retrieves daily price history and current quotes from the
// Yahoo Finance chart and quote endpoints.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

const maxResponseBytes = 8 << 20

// Client implements domain.MarketData against the Yahoo Finance API
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Yahoo Finance client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("client", "yahoo").Logger(),
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// PriceSeries returns daily candles for a symbol, oldest first. Days with a
// null close (holidays, halts) are dropped.
func (c *Client) PriceSeries(ctx context.Context, symbol string, from, to time.Time) ([]domain.Candle, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d",
		c.baseURL, url.PathEscape(symbol), from.Unix(), to.Unix())

	var parsed chartResponse
	if err := c.get(ctx, endpoint, &parsed); err != nil {
		return nil, fmt.Errorf("failed to fetch chart for %s: %w", symbol, err)
	}

	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("chart error for %s: %s (%s)",
			symbol, parsed.Chart.Error.Description, parsed.Chart.Error.Code)
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("empty chart result for %s", symbol)
	}

	result := parsed.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	candles := make([]domain.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Date:  time.Unix(ts, 0).UTC(),
			Open:  deref(quote.Open, i),
			High:  deref(quote.High, i),
			Low:   deref(quote.Low, i),
			Close: *quote.Close[i],
		})
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no usable candles for %s", symbol)
	}

	c.log.Debug().Str("symbol", symbol).Int("candles", len(candles)).Msg("Fetched price series")
	return candles, nil
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol string  `json:"symbol"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

// Quote returns the current bid/ask for a symbol
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	endpoint := c.baseURL + "/v7/finance/quote?symbols=" + url.QueryEscape(symbol)

	var parsed quoteResponse
	if err := c.get(ctx, endpoint, &parsed); err != nil {
		return domain.Quote{}, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}

	if len(parsed.QuoteResponse.Result) == 0 {
		return domain.Quote{}, fmt.Errorf("no quote result for %s", symbol)
	}

	result := parsed.QuoteResponse.Result[0]
	if result.Bid <= 0 && result.Ask <= 0 {
		return domain.Quote{}, fmt.Errorf("degenerate quote for %s", symbol)
	}

	return domain.Quote{Symbol: symbol, Bid: result.Bid, Ask: result.Ask}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	// Yahoo rejects requests without a browser-like user agent
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; helmsman/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func deref(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated " + strconv.Itoa(len(s)-n) + " bytes)"
}
