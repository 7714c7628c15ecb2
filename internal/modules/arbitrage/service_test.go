package arbitrage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCryptoBroker struct {
	mu         sync.Mutex
	prices     map[string]float64 // "BASE/QUOTE" -> price
	converts   []string
	convertErr error
}

func (b *fakeCryptoBroker) PairPrice(_ context.Context, base, quote string) (float64, error) {
	if price, ok := b.prices[base+"/"+quote]; ok {
		return price, nil
	}
	if price, ok := b.prices[quote+"/"+base]; ok && price != 0 {
		return 1 / price, nil
	}
	return 0, errors.New("pair not found")
}

func (b *fakeCryptoBroker) Convert(_ context.Context, from, to string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.convertErr != nil {
		return "", b.convertErr
	}
	b.converts = append(b.converts, from+"->"+to)
	return "conv-" + from + "-" + to, nil
}

type nopTelemetry struct{}

func (nopTelemetry) Log(string)                                              {}
func (nopTelemetry) LogTransaction(string, string, domain.OrderSide, float64, float64) {}

func newTestArbitrage(broker *fakeCryptoBroker, pairs map[string][]string) *Service {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	return NewService(broker, nopTelemetry{}, Config{Pairs: pairs}, log)
}

func TestComputeRate(t *testing.T) {
	broker := &fakeCryptoBroker{prices: map[string]float64{
		"A/USD": 2,
		"A/B":   4,
		"B/USD": 1,
	}}

	rate, err := computeRate(context.Background(), broker, "A", "B")
	require.NoError(t, err)
	// 1/2 USD->A, *4 A->B, *1 B->USD
	assert.InDelta(t, 2.0, rate, 1e-9)
}

func TestOptimalTriangle_PicksBetterDirection(t *testing.T) {
	broker := &fakeCryptoBroker{prices: map[string]float64{
		"A/USD": 2,
		"A/B":   4,
		"B/USD": 1,
	}}

	triangle, err := optimalTriangle(context.Background(), broker, "B", "A")
	require.NoError(t, err)
	// The A-first direction rates 2.0, the B-first direction 0.5
	assert.Equal(t, "A", triangle.First)
	assert.Equal(t, "B", triangle.Second)
	assert.InDelta(t, 2.0, triangle.Rate, 1e-9)
}

func TestOptimalTriangle_NoPrices(t *testing.T) {
	broker := &fakeCryptoBroker{prices: map[string]float64{}}

	_, err := optimalTriangle(context.Background(), broker, "A", "B")
	assert.Error(t, err)
}

func TestRescan_InstallsProfitableCycle(t *testing.T) {
	broker := &fakeCryptoBroker{prices: map[string]float64{
		"A/USD": 2,
		"A/B":   4,
		"B/USD": 1,
	}}
	svc := newTestArbitrage(broker, map[string][]string{"A": {"B"}})

	svc.rescan(context.Background())

	assert.Equal(t, map[string]string{
		"USD": "A",
		"A":   "B",
		"B":   "USD",
	}, svc.TransactionOrder())
}

func TestRescan_UnwindsWhenNothingProfitable(t *testing.T) {
	// Rates hover around 1.0: below the 1.0025 fee threshold
	broker := &fakeCryptoBroker{prices: map[string]float64{
		"A/USD": 2,
		"A/B":   2,
		"B/USD": 1,
	}}
	svc := newTestArbitrage(broker, map[string][]string{"A": {"B"}})
	svc.order = map[string]string{"USD": "A", "A": "B", "B": "USD"}

	svc.rescan(context.Background())

	// Everything in flight now points home; the entry leg is gone
	assert.Equal(t, map[string]string{"A": "USD", "B": "USD"}, svc.TransactionOrder())
}

func TestMaybeStartCycle_SubmitsEntryLegOnce(t *testing.T) {
	broker := &fakeCryptoBroker{}
	svc := newTestArbitrage(broker, nil)
	svc.order = map[string]string{"USD": "A", "A": "B", "B": "USD"}

	svc.maybeStartCycle(context.Background())
	svc.maybeStartCycle(context.Background())

	// The second call is a no-op while the first cycle is in flight
	assert.Equal(t, []string{"USD->A"}, broker.converts)
}

func TestHandleOrderUpdate_ChainsLegs(t *testing.T) {
	broker := &fakeCryptoBroker{}
	svc := newTestArbitrage(broker, nil)
	svc.order = map[string]string{"USD": "A", "A": "B", "B": "USD"}
	svc.cycling = true

	// Entry leg filled: bought A with USD
	svc.HandleOrderUpdate(domain.OrderUpdate{
		Event:  domain.OrderEventFill,
		Symbol: "A/USD",
		Side:   domain.OrderSideBuy,
	})
	require.Equal(t, []string{"A->B"}, broker.converts)

	// Middle leg filled: sold A for B
	svc.HandleOrderUpdate(domain.OrderUpdate{
		Event:  domain.OrderEventFill,
		Symbol: "A/B",
		Side:   domain.OrderSideSell,
	})
	require.Equal(t, []string{"A->B", "B->USD"}, broker.converts)

	// Exit leg filled: back in USD, cycle complete
	svc.HandleOrderUpdate(domain.OrderUpdate{
		Event:  domain.OrderEventFill,
		Symbol: "B/USD",
		Side:   domain.OrderSideSell,
	})
	assert.Equal(t, []string{"A->B", "B->USD"}, broker.converts)
	assert.False(t, svc.cycling)
}

func TestHandleOrderUpdate_MalformedSymbolIgnored(t *testing.T) {
	broker := &fakeCryptoBroker{}
	svc := newTestArbitrage(broker, nil)
	svc.order = map[string]string{"USD": "A", "A": "B", "B": "USD"}

	svc.HandleOrderUpdate(domain.OrderUpdate{
		Event:  domain.OrderEventFill,
		Symbol: "not-a-pair",
		Side:   domain.OrderSideBuy,
	})

	assert.Empty(t, broker.converts)
}

func TestHandleOrderUpdate_RejectedLegResetsCycle(t *testing.T) {
	broker := &fakeCryptoBroker{}
	svc := newTestArbitrage(broker, nil)
	svc.order = map[string]string{"USD": "A", "A": "B", "B": "USD"}
	svc.cycling = true

	svc.HandleOrderUpdate(domain.OrderUpdate{
		Event:  domain.OrderEventRejected,
		Symbol: "A/USD",
		Side:   domain.OrderSideBuy,
	})

	assert.False(t, svc.cycling)
	assert.Empty(t, broker.converts)
}
