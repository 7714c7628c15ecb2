package rebalancing

import (
	"testing"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceMap(prices map[string]float64) ledger.PriceLookup {
	return func(symbol string) float64 { return prices[symbol] }
}

func TestRebalancer_BuysFromCash(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	r := New(log)
	led := ledger.New(1000, log)

	plan := allocation.Plan{
		Weights: allocation.TargetAllocation{"A": 0.6, "B": 0.4},
	}
	prices := priceMap(map[string]float64{"A": 10, "B": 20})

	sells, buys := r.ComputeOrders(led, plan, prices)

	assert.Empty(t, sells)
	require.Len(t, buys, 2)
	assert.Equal(t, domain.Order{Symbol: "A", Side: domain.OrderSideBuy, Shares: 60}, buys[0])
	assert.Equal(t, domain.Order{Symbol: "B", Side: domain.OrderSideBuy, Shares: 20}, buys[1])
}

func TestRebalancer_SellCandidatesLiquidatedInFull(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	r := New(log)
	led := ledger.New(1000, log)
	led.ApplyBuy("C", 10, 10)

	plan := allocation.Plan{
		Weights:        allocation.TargetAllocation{},
		SellCandidates: []string{"C", "D"}, // D is not held, no order for it
	}
	prices := priceMap(map[string]float64{"C": 11, "D": 5})

	sells, buys := r.ComputeOrders(led, plan, prices)

	assert.Empty(t, buys)
	require.Len(t, sells, 1)
	assert.Equal(t, domain.Order{Symbol: "C", Side: domain.OrderSideSell, Shares: 10}, sells[0])
}

func TestRebalancer_TrimsOverweightPosition(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	r := New(log)
	led := ledger.New(1000, log)
	led.ApplyBuy("A", 50, 10) // 500 in A, 500 cash

	// Target only 20% in A at equity 1000 -> 20 shares, trim 30
	plan := allocation.Plan{
		Weights: allocation.TargetAllocation{"A": 0.2},
	}
	prices := priceMap(map[string]float64{"A": 10})

	sells, buys := r.ComputeOrders(led, plan, prices)

	assert.Empty(t, buys)
	require.Len(t, sells, 1)
	assert.Equal(t, "A", sells[0].Symbol)
	assert.InDelta(t, 30.0, sells[0].Shares, 1e-9)
}

func TestRebalancer_SellsSettleBeforeBuys(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	r := New(log)
	led := ledger.New(0, log) // no cash, everything must be funded by the sell
	led.ApplyBuy("OLD", 100, 0)
	// Fake position acquired at zero cost so cash stays 0
	require.Equal(t, 0.0, led.Cash())

	plan := allocation.Plan{
		Weights:        allocation.TargetAllocation{"NEW": 1.0},
		SellCandidates: []string{"OLD"},
	}
	prices := priceMap(map[string]float64{"OLD": 10, "NEW": 20})

	sells, buys := r.Rebalance(led, plan, prices)

	require.Len(t, sells, 1)
	require.Len(t, buys, 1)
	// Equity at compute time: 100 * 10 = 1000 -> 50 shares of NEW
	assert.InDelta(t, 50.0, buys[0].Shares, 1e-9)
	assert.Equal(t, 0.0, led.PositionOf("OLD").Shares)
	assert.InDelta(t, 50.0, led.PositionOf("NEW").Shares, 1e-9)
	assert.GreaterOrEqual(t, led.Cash(), 0.0)
}

func TestRebalancer_StalePricesBetweenSizingAndApply(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	r := New(log)
	led := ledger.New(1000, log)

	plan := allocation.Plan{
		Weights: allocation.TargetAllocation{"A": 0.6, "B": 0.4},
	}
	sized := priceMap(map[string]float64{"A": 10, "B": 20})

	sells, buys := r.ComputeOrders(led, plan, sized)
	require.Empty(t, sells)
	require.Len(t, buys, 2)

	// Prices move up before the batch lands: 60*12 + 20*25 = 1220 > 1000.
	// The batch is still applied in full, the ledger absorbs the overshoot.
	raised := priceMap(map[string]float64{"A": 12, "B": 25})
	r.Apply(led, sells, buys, raised)

	assert.InDelta(t, 60.0, led.PositionOf("A").Shares, 1e-9)
	assert.InDelta(t, 20.0, led.PositionOf("B").Shares, 1e-9)
	assert.Equal(t, 0.0, led.Cash())
}

func TestRebalancer_Idempotent(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	r := New(log)
	led := ledger.New(1000, log)

	plan := allocation.Plan{
		Weights: allocation.TargetAllocation{"A": 0.6, "B": 0.4},
	}
	prices := priceMap(map[string]float64{"A": 10, "B": 20})

	r.Rebalance(led, plan, prices)
	sells, buys := r.Rebalance(led, plan, prices)

	// Already at target: the second pass emits nothing
	assert.Empty(t, sells)
	assert.Empty(t, buys)
}

func TestRebalancer_ZeroShareOrdersDropped(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	r := New(log)
	led := ledger.New(1000, log)

	// Degenerate allocation: all weights zero -> no orders at all
	plan := allocation.Plan{
		Weights: allocation.TargetAllocation{"A": 0, "B": 0},
	}
	prices := priceMap(map[string]float64{"A": 10, "B": 20})

	sells, buys := r.Rebalance(led, plan, prices)

	assert.Empty(t, sells)
	assert.Empty(t, buys)
	assert.Equal(t, 1000.0, led.Cash())
}

func TestRebalancer_MissingPriceSkipsSymbol(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	r := New(log)
	led := ledger.New(1000, log)

	plan := allocation.Plan{
		Weights: allocation.TargetAllocation{"A": 0.5, "BAD": 0.5},
	}
	prices := priceMap(map[string]float64{"A": 10}) // BAD has no price

	_, buys := r.ComputeOrders(led, plan, prices)

	require.Len(t, buys, 1)
	assert.Equal(t, "A", buys[0].Symbol)
}
