package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/helmsman/internal/modules/backtest"
	"github.com/aristath/helmsman/internal/modules/trading"
	"github.com/aristath/helmsman/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// TradeSource provides the persisted trade history
type TradeSource interface {
	GetHistory(limit int) ([]trading.Trade, error)
	GetBySymbol(symbol string, limit int) ([]trading.Trade, error)
	GetTradeCountToday() (int, error)
	GetLastTradeTimestamp() (*time.Time, error)
}

// BacktestRunner executes a backtest and persists the result
type BacktestRunner interface {
	Execute(ctx context.Context, params backtest.RunParams) (string, *backtest.TestResult, error)
}

// RunSource provides stored backtest runs
type RunSource interface {
	Get(id string) (*backtest.Run, error)
	List(limit int) ([]backtest.RunSummary, error)
}

// CycleReporter exposes the current arbitrage cycle
type CycleReporter interface {
	TransactionOrder() map[string]string
}

// StreamStatus reports broker stream connectivity
type StreamStatus interface {
	IsConnected() bool
}

// Handlers holds the API endpoint handlers. The arbitrage and stream
// dependencies may be nil when the broker is not configured.
type Handlers struct {
	log         zerolog.Logger
	startupTime time.Time
	trades      TradeSource
	backtests   BacktestRunner
	runs        RunSource
	arbitrage   CycleReporter
	stream      StreamStatus
}

// NewHandlers creates the API handlers
func NewHandlers(
	trades TradeSource,
	backtests BacktestRunner,
	runs RunSource,
	arbitrage CycleReporter,
	stream StreamStatus,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		log:         log.With().Str("component", "handlers").Logger(),
		startupTime: time.Now(),
		trades:      trades,
		backtests:   backtests,
		runs:        runs,
		arbitrage:   arbitrage,
		stream:      stream,
	}
}

// StatusResponse represents the system status response
type StatusResponse struct {
	Status          string            `json:"status"`
	UptimeSeconds   float64           `json:"uptime_seconds"`
	Host            string            `json:"host"`
	CPUPercent      float64           `json:"cpu_percent"`
	RAMPercent      float64           `json:"ram_percent"`
	StreamConnected bool              `json:"stream_connected"`
	ArbitrageCycle  map[string]string `json:"arbitrage_cycle,omitempty"`
	TradesToday     int               `json:"trades_today"`
	LastTradeAt     string            `json:"last_trade_at,omitempty"`
}

// HandleStatus returns system status
// GET /api/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stats := telemetry.CollectSystemStats()

	response := StatusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		Host:          stats.Host,
		CPUPercent:    stats.CPUPercent,
		RAMPercent:    stats.RAMPercent,
	}

	if h.stream != nil {
		response.StreamConnected = h.stream.IsConnected()
	}
	if h.arbitrage != nil {
		response.ArbitrageCycle = h.arbitrage.TransactionOrder()
	}

	if count, err := h.trades.GetTradeCountToday(); err == nil {
		response.TradesToday = count
	} else {
		h.log.Warn().Err(err).Msg("Failed to count today's trades")
	}
	if last, err := h.trades.GetLastTradeTimestamp(); err == nil && last != nil {
		response.LastTradeAt = last.Format(time.RFC3339)
	}

	h.writeJSON(w, response)
}

// HandleGetTrades returns the trade history, newest first
// GET /api/trades?limit=N
func (h *Handlers) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.GetHistory(limitParam(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get trade history")
		h.writeError(w, http.StatusInternalServerError, "failed to get trade history")
		return
	}

	h.writeJSON(w, map[string]any{
		"trades": trades,
		"count":  len(trades),
	})
}

// HandleGetTradesBySymbol returns trades for one symbol
// GET /api/trades/{symbol}
func (h *Handlers) HandleGetTradesBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	trades, err := h.trades.GetBySymbol(symbol, limitParam(r))
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to get trades for symbol")
		h.writeError(w, http.StatusInternalServerError, "failed to get trades")
		return
	}

	h.writeJSON(w, map[string]any{
		"symbol": symbol,
		"trades": trades,
		"count":  len(trades),
	})
}

// HandleListBacktests returns stored backtest run summaries, newest first
// GET /api/backtests?limit=N
func (h *Handlers) HandleListBacktests(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(limitParam(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backtest runs")
		h.writeError(w, http.StatusInternalServerError, "failed to list backtest runs")
		return
	}

	h.writeJSON(w, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleGetBacktest returns a single stored run with its full result
// GET /api/backtests/{id}
func (h *Handlers) HandleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.runs.Get(id)
	if err != nil {
		h.log.Warn().Err(err).Str("id", id).Msg("Backtest run not found")
		h.writeError(w, http.StatusNotFound, "backtest run not found")
		return
	}

	h.writeJSON(w, run)
}

// BacktestRequest is the payload for triggering a backtest
type BacktestRequest struct {
	Symbols      []string `json:"symbols"`
	HistoryDays  int      `json:"history_days"`
	StartingCash float64  `json:"starting_cash"`
	WarmupDays   int      `json:"warmup_days"`
}

// HandleRunBacktest runs a backtest synchronously and returns the result
// POST /api/backtests
func (h *Handlers) HandleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Symbols) == 0 {
		h.writeError(w, http.StatusBadRequest, "at least one symbol is required")
		return
	}

	h.log.Info().
		Strs("symbols", req.Symbols).
		Int("history_days", req.HistoryDays).
		Msg("Backtest triggered via API")

	id, result, err := h.backtests.Execute(r.Context(), backtest.RunParams{
		Symbols:      req.Symbols,
		HistoryDays:  req.HistoryDays,
		StartingCash: req.StartingCash,
		WarmupDays:   req.WarmupDays,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Backtest failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]any{
		"id":     id,
		"result": result,
	})
}

// limitParam parses the optional limit query parameter, 0 means default
func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func (h *Handlers) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": message,
	})
}
