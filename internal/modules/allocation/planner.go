// Package allocation converts per-symbol prediction signals into a
// normalized target allocation and a set of sell candidates.
package allocation

import (
	"sort"

	"github.com/rs/zerolog"
)

// TargetAllocation maps symbol -> fraction of total equity to hold.
// Weights sum to 1 across the buy-candidate set, except in the degenerate
// case where every candidate's expected change is zero (all weights zero,
// effectively hold cash).
type TargetAllocation map[string]float64

// Plan is the result of one planning pass
type Plan struct {
	Weights        TargetAllocation
	SellCandidates []string // symbols with negative expected change, sorted
}

// Planner is a pure signal-to-allocation function. It never filters by
// current holdings: the trading service filters sell candidates by broker
// positions in live mode, and the simulator's share clamp makes holding
// checks unnecessary in backtests.
type Planner struct {
	log zerolog.Logger
}

// NewPlanner creates a new allocation planner
func NewPlanner(log zerolog.Logger) *Planner {
	return &Planner{
		log: log.With().Str("service", "allocation").Logger(),
	}
}

// Plan splits signals into sell candidates (expected change < 0) and buy
// candidates (expected change >= 0), weighting each buy candidate by its
// share of the total expected change. A symbol with exactly zero expected
// change is a buy candidate with weight zero, never a sell candidate.
func (p *Planner) Plan(expectedChanges map[string]float64) Plan {
	weights := make(TargetAllocation)
	sellCandidates := make([]string, 0)

	total := 0.0
	for symbol, change := range expectedChanges {
		if change < 0 {
			sellCandidates = append(sellCandidates, symbol)
			continue
		}
		weights[symbol] = change
		total += change
	}
	sort.Strings(sellCandidates)

	// total == 0 means no candidate carries a positive signal: hold cash.
	// Every weight stays zero rather than dividing by zero.
	for symbol := range weights {
		if total != 0 {
			weights[symbol] = weights[symbol] / total
		} else {
			weights[symbol] = 0
		}
	}

	p.log.Debug().
		Int("buy_candidates", len(weights)).
		Int("sell_candidates", len(sellCandidates)).
		Float64("total_signal", total).
		Msg("Built target allocation")

	return Plan{
		Weights:        weights,
		SellCandidates: sellCandidates,
	}
}
