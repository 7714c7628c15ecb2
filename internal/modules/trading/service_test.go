package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu         sync.Mutex
	equity     float64
	cash       float64
	positions  map[string]float64
	open       []domain.OpenOrder
	canceled   []string
	submitted  []domain.Order
	submitErr  error
	untradable map[string]bool
}

func (b *fakeBroker) Equity(context.Context) (float64, error) { return b.equity, nil }
func (b *fakeBroker) Cash(context.Context) (float64, error)   { return b.cash, nil }

func (b *fakeBroker) PositionShares(_ context.Context, symbol string) (float64, error) {
	return b.positions[symbol], nil
}

func (b *fakeBroker) IsTradable(_ context.Context, symbol string) (bool, error) {
	return !b.untradable[symbol], nil
}

func (b *fakeBroker) SubmitOrder(_ context.Context, order domain.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.submitted = append(b.submitted, order)
	return "order-" + order.Symbol, nil
}

func (b *fakeBroker) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	return b.open, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled = append(b.canceled, orderID)
	return nil
}

type fakeQuotes struct {
	quotes map[string]domain.Quote
	closes []float64
}

func (f *fakeQuotes) PriceSeries(_ context.Context, _ string, _, _ time.Time) ([]domain.Candle, error) {
	candles := make([]domain.Candle, len(f.closes))
	for i, c := range f.closes {
		candles[i] = domain.Candle{Close: c}
	}
	return candles, nil
}

func (f *fakeQuotes) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return domain.Quote{}, errors.New("no quote")
	}
	return q, nil
}

type mapPredictor struct {
	mu      sync.Mutex
	changes map[string]float64
}

func (p *mapPredictor) PredictChange(_ context.Context, symbol string, _ []float64) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	change, ok := p.changes[symbol]
	return change, ok
}

type recordingTelemetry struct {
	mu           sync.Mutex
	messages     []string
	transactions []string
}

func (t *recordingTelemetry) Log(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, message)
}

func (t *recordingTelemetry) LogTransaction(symbol, _ string, side domain.OrderSide, _, _ float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transactions = append(t.transactions, string(side)+":"+symbol)
}

func newTestRepository(t *testing.T) *TradeRepository {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Pretty: false})

	db, err := database.New(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewTradeRepository(db, log)
	require.NoError(t, err)
	return repo
}

func newTestService(t *testing.T, broker *fakeBroker, md *fakeQuotes, pred *mapPredictor, tel *recordingTelemetry, cfg Config) *Service {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	return NewService(broker, md, pred, allocation.NewPlanner(log), newTestRepository(t), tel, cfg, log)
}

func TestService_RunDailyCycle(t *testing.T) {
	broker := &fakeBroker{
		equity:    1000,
		cash:      1000,
		positions: map[string]float64{"C": 10},
	}
	md := &fakeQuotes{
		closes: []float64{10, 10, 10},
		quotes: map[string]domain.Quote{
			"A": {Symbol: "A", Bid: 10, Ask: 10.1},
			"B": {Symbol: "B", Bid: 20, Ask: 20.2},
			"C": {Symbol: "C", Bid: 5, Ask: 5.1},
		},
	}
	pred := &mapPredictor{changes: map[string]float64{"A": 0.3, "B": 0.1, "C": -0.2}}
	tel := &recordingTelemetry{}
	svc := newTestService(t, broker, md, pred, tel, Config{
		Symbols:     []string{"A", "B", "C"},
		HistoryDays: 30,
	})

	err := svc.RunDailyCycle(context.Background())
	require.NoError(t, err)

	// Sell of C first, then buys sized from equity and bid
	require.Len(t, broker.submitted, 3)
	assert.Equal(t, domain.Order{Symbol: "C", Side: domain.OrderSideSell, Shares: 10}, broker.submitted[0])
	assert.Equal(t, domain.Order{Symbol: "A", Side: domain.OrderSideBuy, Shares: 75}, broker.submitted[1])
	assert.Equal(t, domain.Order{Symbol: "B", Side: domain.OrderSideBuy, Shares: 12.5}, broker.submitted[2])

	// Every submission is recorded and telemetered
	history, err := svc.trades.GetHistory(10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Contains(t, tel.transactions, "SELL:C")
	assert.Contains(t, tel.transactions, "BUY:A")
	assert.Contains(t, tel.transactions, "BUY:B")
}

func TestService_CancelsTrackedOpenOrders(t *testing.T) {
	broker := &fakeBroker{
		equity: 100,
		cash:   100,
		open: []domain.OpenOrder{
			{ID: "ord-1", Symbol: "A", Side: domain.OrderSideBuy, Shares: 5},
			{ID: "ord-2", Symbol: "UNRELATED", Side: domain.OrderSideBuy, Shares: 5},
		},
	}
	md := &fakeQuotes{closes: []float64{10}, quotes: map[string]domain.Quote{"A": {Symbol: "A", Bid: 10}}}
	pred := &mapPredictor{changes: map[string]float64{"A": 0}}
	tel := &recordingTelemetry{}
	svc := newTestService(t, broker, md, pred, tel, Config{Symbols: []string{"A"}})

	err := svc.RunDailyCycle(context.Background())
	require.NoError(t, err)

	// Only the tracked symbol's order is cancelled
	assert.Equal(t, []string{"ord-1"}, broker.canceled)
	assert.Contains(t, tel.transactions, "CANCEL:A")
	assert.NotContains(t, tel.transactions, "CANCEL:UNRELATED")
}

func TestService_RejectsOverspendingBuyBatch(t *testing.T) {
	// Equity counts an untracked holding, but almost no cash is available:
	// the sized batch cannot be funded and must be rejected wholesale
	broker := &fakeBroker{
		equity: 1000,
		cash:   10,
	}
	md := &fakeQuotes{closes: []float64{10}, quotes: map[string]domain.Quote{"A": {Symbol: "A", Bid: 10}}}
	pred := &mapPredictor{changes: map[string]float64{"A": 0.5}}
	tel := &recordingTelemetry{}
	svc := newTestService(t, broker, md, pred, tel, Config{Symbols: []string{"A"}})

	err := svc.RunDailyCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, broker.submitted)
}

func TestService_SkipsBuysBelowMinimumNotional(t *testing.T) {
	broker := &fakeBroker{equity: 10, cash: 10}
	md := &fakeQuotes{closes: []float64{10}, quotes: map[string]domain.Quote{"A": {Symbol: "A", Bid: 10}}}
	pred := &mapPredictor{changes: map[string]float64{"A": 0.5}}
	tel := &recordingTelemetry{}
	svc := newTestService(t, broker, md, pred, tel, Config{
		Symbols:       []string{"A"},
		MinOrderValue: 25,
	})

	err := svc.RunDailyCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, broker.submitted)
}

func TestService_SellCandidateNotHeldProducesNoOrder(t *testing.T) {
	broker := &fakeBroker{equity: 100, cash: 100}
	md := &fakeQuotes{closes: []float64{10}, quotes: map[string]domain.Quote{"A": {Symbol: "A", Bid: 10}}}
	pred := &mapPredictor{changes: map[string]float64{"A": -0.5}}
	tel := &recordingTelemetry{}
	svc := newTestService(t, broker, md, pred, tel, Config{Symbols: []string{"A"}})

	err := svc.RunDailyCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, broker.submitted)
}

func TestService_MissingPredictionMeansHold(t *testing.T) {
	broker := &fakeBroker{equity: 100, cash: 100}
	md := &fakeQuotes{closes: []float64{10}, quotes: map[string]domain.Quote{
		"A": {Symbol: "A", Bid: 10},
		"B": {Symbol: "B", Bid: 10},
	}}
	// B has no prediction: its signal degrades to 0 and A absorbs everything
	pred := &mapPredictor{changes: map[string]float64{"A": 0.5}}
	tel := &recordingTelemetry{}
	svc := newTestService(t, broker, md, pred, tel, Config{Symbols: []string{"A", "B"}})

	err := svc.RunDailyCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, broker.submitted, 1)
	assert.Equal(t, "A", broker.submitted[0].Symbol)
	assert.InDelta(t, 10.0, broker.submitted[0].Shares, 1e-9)
}

func TestService_UntradableSymbolSkipped(t *testing.T) {
	broker := &fakeBroker{
		equity:     100,
		cash:       100,
		untradable: map[string]bool{"A": true},
	}
	md := &fakeQuotes{closes: []float64{10}, quotes: map[string]domain.Quote{"A": {Symbol: "A", Bid: 10}}}
	pred := &mapPredictor{changes: map[string]float64{"A": 0.5}}
	tel := &recordingTelemetry{}
	svc := newTestService(t, broker, md, pred, tel, Config{Symbols: []string{"A"}})

	err := svc.RunDailyCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, broker.submitted)
}
