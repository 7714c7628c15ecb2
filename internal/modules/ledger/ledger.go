// Package ledger tracks portfolio state during a simulation or trading run:
// cash, per-symbol share counts, weighted-average cost basis, and realized
// profit. The ledger is the single owner of this state; all mutation goes
// through ApplyBuy/ApplySell, synchronously, from one goroutine.
package ledger

import (
	"sort"

	"github.com/aristath/helmsman/pkg/formulas"
	"github.com/rs/zerolog"
)

// Epsilon is one unit of account at the ledger's 3-decimal rounding.
// Rounding may overshoot cash by at most this much; anything beyond it is an
// accounting inconsistency in the caller.
const Epsilon = 0.001

// PriceLookup resolves a symbol to its current price
type PriceLookup func(symbol string) float64

// Position is a per-symbol holding. AverageCost is the weighted-average
// purchase price of the remaining shares; it is meaningless (zero) when
// Shares is zero, updated on buys and left unchanged on sells.
type Position struct {
	Shares      float64 `json:"shares"`
	AverageCost float64 `json:"average_cost"`
}

// Ledger holds cash and positions for one run. Not safe for concurrent use:
// concurrent mutation would break the weighted-average-cost invariant, so
// callers must serialize access (the simulator and trading loop both do).
type Ledger struct {
	cash           float64
	positions      map[string]Position
	profitBySymbol map[string]float64
	wins           int
	losses         int
	log            zerolog.Logger
}

// New creates a ledger with the given starting cash
func New(startingCash float64, log zerolog.Logger) *Ledger {
	return &Ledger{
		cash:           formulas.Round3(startingCash),
		positions:      make(map[string]Position),
		profitBySymbol: make(map[string]float64),
		log:            log.With().Str("service", "ledger").Logger(),
	}
}

// Cash returns the current cash balance
func (l *Ledger) Cash() float64 {
	return l.cash
}

// PositionOf returns the position for a symbol (zero value if none held)
func (l *Ledger) PositionOf(symbol string) Position {
	return l.positions[symbol]
}

// Symbols returns the symbols with open positions, sorted for determinism
func (l *Ledger) Symbols() []string {
	symbols := make([]string, 0, len(l.positions))
	for symbol := range l.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// TotalEquity returns cash plus the market value of all open positions at
// the prices supplied by the lookup.
func (l *Ledger) TotalEquity(price PriceLookup) float64 {
	equity := l.cash
	for symbol, pos := range l.positions {
		equity += pos.Shares * price(symbol)
	}
	return formulas.Round3(equity)
}

// ApplyBuy decrements cash and adds shares at the given price, updating the
// weighted-average cost basis. The caller must size orders so the cost does
// not exceed available cash; an overshoot beyond Epsilon is logged as an
// accounting inconsistency but still applied (the root cause is a sizing or
// price-staleness bug upstream, not something the ledger can correct).
// Cash is clamped at zero so rounding overshoot never leaves it negative.
func (l *Ledger) ApplyBuy(symbol string, shares, price float64) {
	if shares <= 0 {
		return
	}

	cost := formulas.Round3(shares * price)
	if cost > l.cash+Epsilon {
		l.log.Warn().
			Str("symbol", symbol).
			Float64("cost", cost).
			Float64("cash", l.cash).
			Float64("shares", shares).
			Float64("price", price).
			Msg("Buy cost exceeds available cash beyond rounding tolerance")
	}

	pos := l.positions[symbol]
	if pos.Shares == 0 {
		pos.AverageCost = formulas.Round3(price)
	} else {
		pos.AverageCost = formulas.Round3(
			(price*shares + pos.AverageCost*pos.Shares) / (shares + pos.Shares))
	}
	pos.Shares = formulas.Round3(pos.Shares + shares)
	l.positions[symbol] = pos

	l.cash = formulas.Round3(l.cash - cost)
	if l.cash < 0 {
		l.cash = 0
	}
}

// ApplySell removes shares at the given price, crediting cash and realized
// profit against the weighted-average cost basis. The quantity is clamped to
// the current holding, never an error; the basis of the remaining shares is
// unchanged. Returns the realized profit of this trade.
func (l *Ledger) ApplySell(symbol string, shares, price float64) float64 {
	pos := l.positions[symbol]
	if shares > pos.Shares {
		shares = pos.Shares
	}
	if shares <= 0 {
		return 0
	}

	tradeProfit := formulas.Round3(shares * (price - pos.AverageCost))
	l.profitBySymbol[symbol] = formulas.Round3(l.profitBySymbol[symbol] + tradeProfit)

	if tradeProfit > 0 {
		l.wins++
	} else if tradeProfit < 0 {
		l.losses++
	}

	l.cash = formulas.Round3(l.cash + shares*price)

	pos.Shares = formulas.Round3(pos.Shares - shares)
	if pos.Shares <= 0 {
		delete(l.positions, symbol)
	} else {
		l.positions[symbol] = pos
	}

	return tradeProfit
}

// ProfitBySymbol returns a copy of the accumulated realized profit per symbol
func (l *Ledger) ProfitBySymbol() map[string]float64 {
	out := make(map[string]float64, len(l.profitBySymbol))
	for symbol, profit := range l.profitBySymbol {
		out[symbol] = profit
	}
	return out
}

// Positions returns a copy of all open positions
func (l *Ledger) Positions() map[string]Position {
	out := make(map[string]Position, len(l.positions))
	for symbol, pos := range l.positions {
		out[symbol] = pos
	}
	return out
}

// Wins returns the number of closed sells with positive realized profit
func (l *Ledger) Wins() int {
	return l.wins
}

// Losses returns the number of closed sells with negative realized profit
func (l *Ledger) Losses() int {
	return l.losses
}
