// Package rebalancing computes and applies the incremental buy/sell orders
// that move a portfolio from its current composition toward a target
// allocation. Sells always settle before any buy is sized or applied: sell
// proceeds fund the buys, so the ordering is load-bearing.
package rebalancing

import (
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/pkg/formulas"
	"github.com/rs/zerolog"
)

// Rebalancer is stateless per call; all portfolio state lives in the ledger
type Rebalancer struct {
	log zerolog.Logger
}

// New creates a new rebalancer
func New(log zerolog.Logger) *Rebalancer {
	return &Rebalancer{
		log: log.With().Str("service", "rebalancing").Logger(),
	}
}

// ComputeOrders builds the order batch for one rebalancing pass without
// touching the ledger:
//
//  1. Every sell candidate with an open position is liquidated in full.
//  2. Each target symbol is sized to weight * totalEquity / price; holdings
//     below target produce a buy for the difference, holdings above target
//     are trimmed with a sell (and any buy for that symbol is dropped).
//  3. Orders that round to zero shares are never emitted.
func (r *Rebalancer) ComputeOrders(led *ledger.Ledger, plan allocation.Plan, price ledger.PriceLookup) (sells, buys []domain.Order) {
	sellShares := make(map[string]float64)
	buyShares := make(map[string]float64)

	// Full liquidation of negative-signal symbols we actually hold
	for _, symbol := range plan.SellCandidates {
		if held := led.PositionOf(symbol).Shares; held > 0 {
			sellShares[symbol] = held
		}
	}

	totalEquity := led.TotalEquity(price)

	for symbol, weight := range plan.Weights {
		p := price(symbol)
		if p <= 0 {
			r.log.Warn().Str("symbol", symbol).Msg("No usable price for target symbol, skipping")
			continue
		}

		targetShares := weight * totalEquity / p
		currentShares := led.PositionOf(symbol).Shares

		if currentShares <= targetShares {
			buyShares[symbol] = targetShares - currentShares
		} else {
			// Trimming, not growing: augment the sell, drop any buy
			sellShares[symbol] += currentShares - targetShares
			delete(buyShares, symbol)
		}
	}

	return toOrders(sellShares, domain.OrderSideSell), toOrders(buyShares, domain.OrderSideBuy)
}

// Apply mutates the ledger with a computed order batch. All sells settle
// first so buys are funded by the post-sell cash balance. If the batch's
// total buy value still exceeds cash beyond rounding tolerance the state is
// dumped and execution proceeds best-effort: the root cause is price
// staleness between sizing and application, which the ledger cannot fix.
func (r *Rebalancer) Apply(led *ledger.Ledger, sells, buys []domain.Order, price ledger.PriceLookup) {
	for _, order := range sells {
		led.ApplySell(order.Symbol, order.Shares, price(order.Symbol))
	}

	totalBuyValue := 0.0
	for _, order := range buys {
		totalBuyValue += order.Shares * price(order.Symbol)
	}
	if totalBuyValue > led.Cash()+ledger.Epsilon {
		r.log.Error().
			Float64("total_buy_value", totalBuyValue).
			Float64("cash", led.Cash()).
			Interface("buys", buys).
			Interface("positions", led.Positions()).
			Msg("Accounting inconsistency: buy value exceeds available cash")
	}

	for _, order := range buys {
		led.ApplyBuy(order.Symbol, order.Shares, price(order.Symbol))
	}
}

// Rebalance runs one full pass: compute the order batch, apply it to the
// ledger, and return it. Calling it twice with unchanged prices yields an
// empty second batch.
func (r *Rebalancer) Rebalance(led *ledger.Ledger, plan allocation.Plan, price ledger.PriceLookup) (sells, buys []domain.Order) {
	sells, buys = r.ComputeOrders(led, plan, price)
	r.Apply(led, sells, buys, price)
	return sells, buys
}

// toOrders converts a share map into sorted orders, rounding quantities to
// the ledger's 3-decimal unit and dropping anything that rounds to zero.
func toOrders(shares map[string]float64, side domain.OrderSide) []domain.Order {
	symbols := make([]string, 0, len(shares))
	for symbol := range shares {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	orders := make([]domain.Order, 0, len(symbols))
	for _, symbol := range symbols {
		qty := formulas.Round3(shares[symbol])
		if qty <= 0 {
			continue
		}
		orders = append(orders, domain.Order{
			Symbol: symbol,
			Side:   side,
			Shares: qty,
		})
	}
	return orders
}
