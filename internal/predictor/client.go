// Package predictor produces next-day expected price change signals. The
// primary source is an external prediction microservice; a local momentum
// estimator covers outages and backtests.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	maxResponseBytes   = 1 << 20
)

// Client talks to the prediction service over HTTP. Implements
// domain.Predictor: an unreachable or misbehaving service degrades to
// ok=false, never to an error that aborts a trading cycle.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

// NewClient creates a new prediction service client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		log:         log.With().Str("client", "predictor").Logger(),
	}
}

type predictRequest struct {
	Symbol string    `json:"symbol"`
	Closes []float64 `json:"closes"`
}

type predictResponse struct {
	ExpectedChange float64 `json:"expected_change"`
}

// PredictChange requests a prediction, retrying with exponential backoff.
// All attempts exhausted means no signal (ok=false), not an error.
func (c *Client) PredictChange(ctx context.Context, symbol string, closes []float64) (float64, bool) {
	if len(closes) == 0 {
		return 0, false
	}

	body, err := json.Marshal(predictRequest{Symbol: symbol, Closes: closes})
	if err != nil {
		c.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to encode prediction request")
		return 0, false
	}

	backoff := c.backoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		change, err := c.predict(ctx, body)
		if err == nil {
			return change, true
		}

		c.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Int("max_attempts", c.maxAttempts).
			Msg("Prediction request failed")

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return 0, false
}

func (c *Client) predict(ctx context.Context, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prediction service returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to read prediction response: %w", err)
	}

	var parsed predictResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode prediction response: %w", err)
	}

	return parsed.ExpectedChange, nil
}
