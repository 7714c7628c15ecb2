// Package trading runs the live daily trade cycle against a real brokerage
// account. The broker is the store of truth for cash and positions; this
// package only decides orders and records what it submitted.
package trading

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/pkg/formulas"
	"github.com/rs/zerolog"
)

// Config holds trading service configuration
type Config struct {
	Symbols           []string
	HistoryDays       int
	MinOrderValue     float64
	SellSettleDelay   time.Duration
	PredictionWorkers int
}

// Service orchestrates one daily cycle: predict, cancel stale orders, sell,
// wait for settlement, buy.
type Service struct {
	broker     domain.BrokerClient
	marketData domain.MarketData
	predictor  domain.Predictor
	planner    *allocation.Planner
	trades     *TradeRepository
	telemetry  domain.Telemetry
	cfg        Config
	log        zerolog.Logger
}

// NewService creates a new trading service
func NewService(
	broker domain.BrokerClient,
	marketData domain.MarketData,
	predictor domain.Predictor,
	planner *allocation.Planner,
	trades *TradeRepository,
	telemetry domain.Telemetry,
	cfg Config,
	log zerolog.Logger,
) *Service {
	return &Service{
		broker:     broker,
		marketData: marketData,
		predictor:  predictor,
		planner:    planner,
		trades:     trades,
		telemetry:  telemetry,
		cfg:        cfg,
		log:        log.With().Str("service", "trading").Logger(),
	}
}

// pricedOrder is an order paired with the quote it was sized against
type pricedOrder struct {
	order domain.Order
	price float64
}

// RunDailyCycle executes one full trading day:
//
//  1. Collect expected changes for every tracked symbol.
//  2. Cancel resting orders for tracked symbols.
//  3. Submit full-liquidation sells for held negative-signal symbols.
//  4. Wait for sell proceeds to settle.
//  5. Size buys from account equity and quoted bids, validate the whole
//     batch against available cash, and submit it.
//
// The buy batch is all-or-nothing: an accounting inconsistency rejects it
// before any order reaches the broker.
func (s *Service) RunDailyCycle(ctx context.Context) error {
	s.log.Info().Strs("symbols", s.cfg.Symbols).Msg("Starting daily trade cycle")
	s.telemetry.Log("Starting daily trade cycle")

	signals := s.collectSignals(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.cancelOpenOrders(ctx); err != nil {
		// Stale orders are cancelled again next cycle; keep going
		s.log.Warn().Err(err).Msg("Failed to cancel some open orders")
	}

	plan := s.planner.Plan(signals)

	sells, err := s.buildSells(ctx, plan.SellCandidates)
	if err != nil {
		return fmt.Errorf("failed to build sell batch: %w", err)
	}
	if err := s.submitBatch(ctx, sells); err != nil {
		return fmt.Errorf("failed to submit sell batch: %w", err)
	}

	if len(sells) > 0 {
		if err := s.waitForSettlement(ctx); err != nil {
			return err
		}
	}

	buys, err := s.buildBuys(ctx, plan.Weights)
	if err != nil {
		return fmt.Errorf("failed to build buy batch: %w", err)
	}
	if err := s.submitBatch(ctx, buys); err != nil {
		return fmt.Errorf("failed to submit buy batch: %w", err)
	}

	s.log.Info().
		Int("sells", len(sells)).
		Int("buys", len(buys)).
		Msg("Daily trade cycle complete")
	s.telemetry.Log(fmt.Sprintf("Daily trade cycle complete: %d sells, %d buys", len(sells), len(buys)))

	return nil
}

// collectSignals fans predictions out over a bounded worker pool. A symbol
// whose history or prediction fails contributes a zero signal (hold), never
// an error: one bad symbol must not sink the whole cycle.
func (s *Service) collectSignals(ctx context.Context) map[string]float64 {
	workers := s.cfg.PredictionWorkers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(s.cfg.Symbols) {
		workers = len(s.cfg.Symbols)
	}

	type prediction struct {
		symbol string
		change float64
	}

	jobs := make(chan string)
	results := make(chan prediction, len(s.cfg.Symbols))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				results <- prediction{symbol: symbol, change: s.predictSymbol(ctx, symbol)}
			}
		}()
	}

	for _, symbol := range s.cfg.Symbols {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()
	close(results)

	signals := make(map[string]float64, len(s.cfg.Symbols))
	for p := range results {
		signals[p.symbol] = p.change
	}
	return signals
}

func (s *Service) predictSymbol(ctx context.Context, symbol string) float64 {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -s.cfg.HistoryDays)

	candles, err := s.marketData.PriceSeries(ctx, symbol, from, now)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch history, holding")
		return 0
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	change, ok := s.predictor.PredictChange(ctx, symbol, closes)
	if !ok {
		s.log.Warn().Str("symbol", symbol).Msg("No prediction available, holding")
		return 0
	}

	s.log.Debug().Str("symbol", symbol).Float64("expected_change", change).Msg("Collected signal")
	return change
}

// cancelOpenOrders cancels resting orders for tracked symbols so yesterday's
// unfilled orders never execute against today's signals.
func (s *Service) cancelOpenOrders(ctx context.Context) error {
	open, err := s.broker.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open orders: %w", err)
	}

	tracked := make(map[string]bool, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		tracked[symbol] = true
	}

	var firstErr error
	for _, order := range open {
		if !tracked[order.Symbol] {
			continue
		}
		if err := s.broker.CancelOrder(ctx, order.ID); err != nil {
			s.log.Warn().Err(err).Str("order_id", order.ID).Str("symbol", order.Symbol).Msg("Failed to cancel order")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.log.Info().Str("order_id", order.ID).Str("symbol", order.Symbol).Msg("Canceled open order")
		s.telemetry.LogTransaction(order.Symbol, order.ID, domain.OrderSideCancel, order.Shares, 0)
	}
	return firstErr
}

// buildSells turns sell candidates into full-liquidation orders. Candidates
// the account does not actually hold are dropped.
func (s *Service) buildSells(ctx context.Context, candidates []string) ([]pricedOrder, error) {
	var sells []pricedOrder
	for _, symbol := range candidates {
		held, err := s.broker.PositionShares(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to get position for %s: %w", symbol, err)
		}
		if held <= 0 {
			continue
		}

		quote, err := s.marketData.Quote(ctx, symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("No quote for sell candidate, skipping")
			continue
		}

		sells = append(sells, pricedOrder{
			order: domain.Order{Symbol: symbol, Side: domain.OrderSideSell, Shares: held},
			price: quote.Bid,
		})
	}
	return sells, nil
}

// buildBuys sizes buy orders from account equity and quoted bids, then
// validates the whole batch against available cash. A batch whose total
// value exceeds cash beyond rounding tolerance is rejected outright.
func (s *Service) buildBuys(ctx context.Context, weights allocation.TargetAllocation) ([]pricedOrder, error) {
	if len(weights) == 0 {
		return nil, nil
	}

	equity, err := s.broker.Equity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account equity: %w", err)
	}

	var buys []pricedOrder
	totalValue := 0.0

	for _, symbol := range sortedSymbols(weights) {
		weight := weights[symbol]
		if weight <= 0 {
			continue
		}

		tradable, err := s.broker.IsTradable(ctx, symbol)
		if err != nil || !tradable {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Symbol not tradable, skipping")
			continue
		}

		quote, err := s.marketData.Quote(ctx, symbol)
		if err != nil || quote.Bid <= 0 {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("No usable quote, skipping")
			continue
		}

		held, err := s.broker.PositionShares(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to get position for %s: %w", symbol, err)
		}

		targetShares := weight * equity / quote.Bid
		shares := formulas.Round3(targetShares - held)
		if shares <= 0 {
			continue
		}

		value := shares * quote.Bid
		if value < s.cfg.MinOrderValue {
			s.log.Debug().
				Str("symbol", symbol).
				Float64("value", value).
				Float64("min_order_value", s.cfg.MinOrderValue).
				Msg("Buy below minimum notional, skipping")
			continue
		}

		buys = append(buys, pricedOrder{
			order: domain.Order{Symbol: symbol, Side: domain.OrderSideBuy, Shares: shares},
			price: quote.Bid,
		})
		totalValue += value
	}

	cash, err := s.broker.Cash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get cash balance: %w", err)
	}

	if totalValue > cash+ledger.Epsilon {
		s.log.Error().
			Float64("total_buy_value", totalValue).
			Float64("cash", cash).
			Float64("equity", equity).
			Interface("buys", buys).
			Msg("Buy batch exceeds available cash, rejecting entire batch")
		return nil, fmt.Errorf("buy batch value %.3f exceeds available cash %.3f", totalValue, cash)
	}

	return buys, nil
}

// submitBatch submits orders one by one. A failed submission abandons the
// remainder of the batch; anything already submitted stays submitted, and
// the trade log reflects exactly what reached the broker.
func (s *Service) submitBatch(ctx context.Context, orders []pricedOrder) error {
	for _, po := range orders {
		orderID, err := s.broker.SubmitOrder(ctx, po.order)
		if err != nil {
			return fmt.Errorf("failed to submit %s %s: %w", po.order.Side, po.order.Symbol, err)
		}

		s.log.Info().
			Str("symbol", po.order.Symbol).
			Str("side", string(po.order.Side)).
			Float64("shares", po.order.Shares).
			Float64("price", po.price).
			Str("order_id", orderID).
			Msg("Order submitted")

		if err := s.trades.Create(Trade{
			Symbol:     po.order.Symbol,
			Side:       po.order.Side,
			Quantity:   po.order.Shares,
			Price:      po.price,
			OrderID:    orderID,
			ExecutedAt: time.Now().UTC(),
		}); err != nil {
			// The order is already live; losing the audit row is not a
			// reason to abandon the batch
			s.log.Error().Err(err).Str("order_id", orderID).Msg("Failed to record trade")
		}

		s.telemetry.LogTransaction(po.order.Symbol, orderID, po.order.Side, po.order.Shares, po.price)
	}
	return nil
}

// waitForSettlement blocks until sell proceeds are assumed available
func (s *Service) waitForSettlement(ctx context.Context) error {
	if s.cfg.SellSettleDelay <= 0 {
		return nil
	}

	s.log.Info().Dur("delay", s.cfg.SellSettleDelay).Msg("Waiting for sell proceeds to settle")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.SellSettleDelay):
		return nil
	}
}

func sortedSymbols(weights allocation.TargetAllocation) []string {
	symbols := make([]string, 0, len(weights))
	for symbol := range weights {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
