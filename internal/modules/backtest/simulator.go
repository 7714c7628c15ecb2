// Package backtest replays a trading strategy over historical price series,
// one day at a time, and reports what the portfolio would have done. No day
// ever sees a price or a signal from a later day.
package backtest

import (
	"time"

	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// Simulator drives the planner and rebalancer over historical data. It is
// stateless across runs; each Run gets a fresh ledger.
type Simulator struct {
	planner    *allocation.Planner
	rebalancer *rebalancing.Rebalancer
	log        zerolog.Logger
}

// NewSimulator creates a new simulator
func NewSimulator(planner *allocation.Planner, rebalancer *rebalancing.Rebalancer, log zerolog.Logger) *Simulator {
	return &Simulator{
		planner:    planner,
		rebalancer: rebalancer,
		log:        log.With().Str("service", "backtest").Logger(),
	}
}

// Run replays the strategy day by day. pricesBySymbol and changesBySymbol are
// day-ascending and index-aligned: day i uses prices[symbol][i] and
// changes[symbol][i]. Symbols whose series are too short for a given day are
// skipped on that day only. After the last day every remaining position is
// liquidated at its last available price so FinalCash is fully cash-settled.
func (s *Simulator) Run(startingCash float64, pricesBySymbol map[string][]float64, changesBySymbol map[string][]float64) *TestResult {
	days := 0
	for _, series := range pricesBySymbol {
		if len(series) > days {
			days = len(series)
		}
	}

	led := ledger.New(startingCash, s.log)

	netWorth := make([]float64, 0, days)
	holdings := make(map[string][]float64, len(pricesBySymbol))
	for symbol := range pricesBySymbol {
		holdings[symbol] = make([]float64, 0, days)
	}

	for day := 0; day < days; day++ {
		price := s.priceLookup(pricesBySymbol, day)

		signals := make(map[string]float64)
		for symbol, changes := range changesBySymbol {
			if day >= len(changes) || day >= len(pricesBySymbol[symbol]) {
				continue
			}
			signals[symbol] = changes[day]
		}

		plan := s.planner.Plan(signals)
		s.rebalancer.Rebalance(led, plan, price)

		netWorth = append(netWorth, led.TotalEquity(price))
		for symbol := range holdings {
			holdings[symbol] = append(holdings[symbol], led.PositionOf(symbol).Shares*price(symbol))
		}
	}

	finalPositions := led.Positions()

	// Terminal liquidation at the last available price per symbol
	if days > 0 {
		price := s.priceLookup(pricesBySymbol, days-1)
		for _, symbol := range led.Symbols() {
			led.ApplySell(symbol, led.PositionOf(symbol).Shares, price(symbol))
		}
	}

	result := &TestResult{
		StartedAt:      time.Now().UTC(),
		InitialCash:    startingCash,
		FinalCash:      led.Cash(),
		FinalPositions: finalPositions,
		NetWorthSeries: netWorth,
		HoldingsSeries: holdings,
		ProfitBySymbol: led.ProfitBySymbol(),
		Days:           days,
		Wins:           led.Wins(),
		Losses:         led.Losses(),
	}

	s.log.Info().
		Int("days", days).
		Float64("initial_cash", result.InitialCash).
		Float64("final_cash", result.FinalCash).
		Float64("profit", result.Profit()).
		Int("wins", result.Wins).
		Int("losses", result.Losses).
		Msg("Simulation complete")

	return result
}

// priceLookup resolves prices for one simulated day. A series that ends
// before the day reports its last known price, so open positions in a
// delisted symbol are still valued; a missing or empty series reports 0.
func (s *Simulator) priceLookup(pricesBySymbol map[string][]float64, day int) ledger.PriceLookup {
	return func(symbol string) float64 {
		series := pricesBySymbol[symbol]
		if len(series) == 0 {
			return 0
		}
		if day >= len(series) {
			return series[len(series)-1]
		}
		return series[day]
	}
}
