package arbitrage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultFeeThreshold is the minimum cycle rate worth trading: Alpaca takes
// 25bps per conversion, so anything below this loses money after fees.
const DefaultFeeThreshold = 1.0025

// DefaultScanInterval is how often the pair universe is rescanned
const DefaultScanInterval = time.Minute

// CryptoBroker is the broker surface the arbitrage loop needs
type CryptoBroker interface {
	PairQuoter

	// Convert spends the full available balance of the from currency on the
	// to currency with a market order. Returns the broker order ID.
	Convert(ctx context.Context, from, to string) (string, error)
}

// Config holds arbitrage service configuration. Pairs maps each entry
// currency to the partner currencies it can form a cycle with.
type Config struct {
	Pairs        map[string][]string
	FeeThreshold float64
	ScanInterval time.Duration
}

// Service runs the scan loop and reacts to fill events. The transaction
// order map (currency -> next currency in the cycle) is the shared state
// between the two: the scan loop installs it, fills walk it.
type Service struct {
	broker    CryptoBroker
	telemetry domain.Telemetry
	cfg       Config
	log       zerolog.Logger

	mu      sync.Mutex
	order   map[string]string
	cycling bool
}

// NewService creates a new arbitrage service
func NewService(broker CryptoBroker, telemetry domain.Telemetry, cfg Config, log zerolog.Logger) *Service {
	if cfg.FeeThreshold <= 0 {
		cfg.FeeThreshold = DefaultFeeThreshold
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	return &Service{
		broker:    broker,
		telemetry: telemetry,
		cfg:       cfg,
		log:       log.With().Str("service", "arbitrage").Logger(),
	}
}

// Run rescans the pair universe every interval until the context is
// cancelled. When a profitable cycle is installed and no cycle is already in
// flight, the USD entry leg is submitted; subsequent legs are driven by
// HandleOrderUpdate.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		s.rescan(ctx)
		s.maybeStartCycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// rescan prices every configured cycle and installs the best one above the
// fee threshold. With no profitable cycle the order map is pointed at USD so
// the next fills unwind any non-USD balance.
func (s *Service) rescan(ctx context.Context) {
	best := Triangle{}
	found := false

	for first, partners := range s.cfg.Pairs {
		for _, second := range partners {
			triangle, err := optimalTriangle(ctx, s.broker, first, second)
			if err != nil {
				s.log.Debug().Err(err).Str("first", first).Str("second", second).Msg("Cycle not priceable")
				continue
			}
			if !found || triangle.Rate > best.Rate {
				best = triangle
				found = true
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !found || best.Rate <= s.cfg.FeeThreshold {
		if found {
			s.log.Info().
				Str("first", best.First).
				Str("second", best.Second).
				Float64("rate", best.Rate).
				Float64("threshold", s.cfg.FeeThreshold).
				Msg("No profitable cycle, unwinding to USD")
		}
		// Point every in-flight currency back at USD and drop the entry leg
		for currency := range s.order {
			s.order[currency] = quoteCurrency
		}
		delete(s.order, quoteCurrency)
		return
	}

	s.log.Info().
		Str("first", best.First).
		Str("second", best.Second).
		Float64("rate", best.Rate).
		Msg("Installing cycle")
	s.telemetry.Log(fmt.Sprintf("Arbitrage cycle installed: USD -> %s -> %s -> USD (rate %.5f)", best.First, best.Second, best.Rate))

	s.order = map[string]string{
		quoteCurrency: best.First,
		best.First:    best.Second,
		best.Second:   quoteCurrency,
	}
}

// maybeStartCycle submits the USD entry leg when a cycle is installed and
// nothing is already in flight.
func (s *Service) maybeStartCycle(ctx context.Context) {
	s.mu.Lock()
	next, ok := s.order[quoteCurrency]
	starting := ok && !s.cycling
	if starting {
		s.cycling = true
	}
	s.mu.Unlock()

	if !starting {
		return
	}

	if err := s.convert(ctx, quoteCurrency, next); err != nil {
		s.log.Error().Err(err).Str("to", next).Msg("Failed to start cycle")
		s.setCycling(false)
	}
}

// HandleOrderUpdate chains the next leg of the cycle off a fill event.
// Registered as the broker stream handler.
func (s *Service) HandleOrderUpdate(update domain.OrderUpdate) {
	switch update.Event {
	case domain.OrderEventFill:
	case domain.OrderEventCanceled, domain.OrderEventRejected:
		s.log.Warn().
			Str("event", string(update.Event)).
			Str("symbol", update.Symbol).
			Str("order_id", update.OrderID).
			Msg("Cycle leg did not fill")
		s.setCycling(false)
		return
	default:
		return
	}

	base, quote, ok := splitPair(update.Symbol)
	if !ok {
		s.log.Error().Str("symbol", update.Symbol).Msg("Malformed pair symbol in fill event")
		return
	}

	// A buy acquires the base currency, a sell acquires the quote currency
	acquired := base
	if update.Side == domain.OrderSideSell {
		acquired = quote
	}

	s.mu.Lock()
	next, hasNext := s.order[acquired]
	s.mu.Unlock()

	if acquired == quoteCurrency || !hasNext {
		s.log.Info().Str("currency", acquired).Msg("Cycle complete")
		s.telemetry.Log(fmt.Sprintf("Arbitrage cycle settled in %s", acquired))
		s.setCycling(false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.convert(ctx, acquired, next); err != nil {
		s.log.Error().Err(err).Str("from", acquired).Str("to", next).Msg("Failed to chain next leg")
		s.setCycling(false)
	}
}

func (s *Service) convert(ctx context.Context, from, to string) error {
	orderID, err := s.broker.Convert(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to convert %s to %s: %w", from, to, err)
	}

	s.log.Info().Str("from", from).Str("to", to).Str("order_id", orderID).Msg("Leg submitted")
	s.telemetry.LogTransaction(from+"/"+to, orderID, domain.OrderSideBuy, 0, 0)
	return nil
}

func (s *Service) setCycling(cycling bool) {
	s.mu.Lock()
	s.cycling = cycling
	s.mu.Unlock()
}

// TransactionOrder returns a copy of the current cycle map, for the status API
func (s *Service) TransactionOrder() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.order))
	for from, to := range s.order {
		out[from] = to
	}
	return out
}
