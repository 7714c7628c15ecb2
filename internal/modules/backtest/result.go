package backtest

import (
	"time"

	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/pkg/formulas"
)

// TestResult is the output of one simulation run. It is built incrementally
// by the simulator and immutable once returned.
type TestResult struct {
	StartedAt   time.Time `json:"started_at" msgpack:"started_at"`
	InitialCash float64   `json:"initial_cash" msgpack:"initial_cash"`

	// FinalCash is fully cash-settled: the simulator force-liquidates all
	// remaining positions at the last available price before reporting it.
	FinalCash float64 `json:"final_cash" msgpack:"final_cash"`

	// FinalPositions is the holdings snapshot just before terminal
	// liquidation (what the strategy was holding on the last day).
	FinalPositions map[string]ledger.Position `json:"final_positions" msgpack:"final_positions"`

	NetWorthSeries []float64            `json:"net_worth_series" msgpack:"net_worth_series"`
	HoldingsSeries map[string][]float64 `json:"holdings_series" msgpack:"holdings_series"`
	ProfitBySymbol map[string]float64   `json:"profit_by_symbol" msgpack:"profit_by_symbol"`

	Days   int `json:"days" msgpack:"days"`
	Wins   int `json:"wins" msgpack:"wins"`
	Losses int `json:"losses" msgpack:"losses"`
}

// Profit returns the absolute cash profit of the run
func (r *TestResult) Profit() float64 {
	return formulas.Round3(r.FinalCash - r.InitialCash)
}

// ProfitFraction returns profit as a fraction of initial cash
func (r *TestResult) ProfitFraction() float64 {
	if r.InitialCash == 0 {
		return 0
	}
	return r.Profit() / r.InitialCash
}

// AnnualizedReturn compounds the run's profit to a yearly rate
func (r *TestResult) AnnualizedReturn() float64 {
	return formulas.AnnualizedReturn(r.ProfitFraction(), r.Days)
}

// WinRate returns wins / (wins + losses) over closed sells; zero-profit
// sells count toward neither side. Returns 0 when no sell ever closed.
func (r *TestResult) WinRate() float64 {
	total := r.Wins + r.Losses
	if total == 0 {
		return 0
	}
	return float64(r.Wins) / float64(total)
}

// Volatility returns the annualized volatility of the net-worth series
func (r *TestResult) Volatility() float64 {
	return formulas.AnnualizedVolatility(formulas.CalculateReturns(r.NetWorthSeries))
}

// MaxDrawdown returns the worst peak-to-trough decline of the net-worth series
func (r *TestResult) MaxDrawdown() float64 {
	return formulas.MaxDrawdown(r.NetWorthSeries)
}
