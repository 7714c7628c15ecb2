// Package telemetry ships activity and transaction rows to a spreadsheet
// webhook. Delivery is strictly fire-and-forget: telemetry failures are
// logged and swallowed, never surfaced to the trading control flow.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const deliverTimeout = 10 * time.Second

// SystemStats is a point-in-time host utilization snapshot
type SystemStats struct {
	Host       string  `json:"host"`
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
}

// CollectSystemStats samples host name, CPU and RAM utilization. Sampling
// failures degrade to zero values; a telemetry row without stats is still a
// row worth having.
func CollectSystemStats() SystemStats {
	stats := SystemStats{}

	if hostname, err := os.Hostname(); err == nil {
		stats.Host = hostname
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.RAMPercent = vm.UsedPercent
	}

	return stats
}

// Webhook implements domain.Telemetry against an HTTP webhook sink
type Webhook struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewWebhook creates a new webhook telemetry sink. An empty URL disables
// delivery entirely; Log and LogTransaction become no-ops.
func NewWebhook(url string, log zerolog.Logger) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: deliverTimeout},
		log:        log.With().Str("component", "telemetry").Logger(),
	}
}

type activityRow struct {
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Message   string  `json:"message"`
	Host      string  `json:"host"`
	CPU       float64 `json:"cpu_percent"`
	RAM       float64 `json:"ram_percent"`
}

type transactionRow struct {
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	OrderID   string  `json:"order_id"`
	Side      string  `json:"side"`
	Shares    float64 `json:"shares"`
	Price     float64 `json:"price"`
	Host      string  `json:"host"`
	CPU       float64 `json:"cpu_percent"`
	RAM       float64 `json:"ram_percent"`
}

// Log appends a free-form activity line
func (w *Webhook) Log(message string) {
	stats := CollectSystemStats()
	w.deliver(activityRow{
		Type:      "activity",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   message,
		Host:      stats.Host,
		CPU:       stats.CPUPercent,
		RAM:       stats.RAMPercent,
	})
}

// LogTransaction appends a structured transaction record
func (w *Webhook) LogTransaction(symbol, orderID string, side domain.OrderSide, shares, price float64) {
	stats := CollectSystemStats()
	w.deliver(transactionRow{
		Type:      "transaction",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Symbol:    symbol,
		OrderID:   orderID,
		Side:      string(side),
		Shares:    shares,
		Price:     price,
		Host:      stats.Host,
		CPU:       stats.CPUPercent,
		RAM:       stats.RAMPercent,
	})
}

func (w *Webhook) deliver(row any) {
	if w.url == "" {
		return
	}

	body, err := json.Marshal(row)
	if err != nil {
		w.log.Warn().Err(err).Msg("Failed to encode telemetry row")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Warn().Err(err).Msg("Failed to build telemetry request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.log.Warn().Err(err).Msg("Failed to deliver telemetry row")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.log.Warn().Int("status", resp.StatusCode).Msg("Telemetry sink rejected row")
	}
}
