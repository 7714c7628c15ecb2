package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultWarmupDays is how many closes the predictor sees before the first
// simulated day. Predictions made on thinner history are too noisy to trade.
const DefaultWarmupDays = 50

// RunParams configures one backtest execution
type RunParams struct {
	Symbols      []string
	HistoryDays  int
	StartingCash float64
	WarmupDays   int
}

// Service runs full backtests: it fetches historical closes, produces
// walk-forward predictions (each day's signal sees only closes up to that
// day), feeds them to the simulator, and persists the run.
type Service struct {
	marketData domain.MarketData
	predictor  domain.Predictor
	simulator  *Simulator
	store      *RunStore
	log        zerolog.Logger
}

// NewService creates a new backtest service
func NewService(marketData domain.MarketData, predictor domain.Predictor, simulator *Simulator, store *RunStore, log zerolog.Logger) *Service {
	return &Service{
		marketData: marketData,
		predictor:  predictor,
		simulator:  simulator,
		store:      store,
		log:        log.With().Str("service", "backtest").Logger(),
	}
}

// Execute runs one backtest end to end and returns the stored run ID and the
// result. Symbols whose history cannot be fetched or is shorter than the
// warmup are dropped from the run; the run fails only when nothing is left.
func (s *Service) Execute(ctx context.Context, params RunParams) (string, *TestResult, error) {
	if params.WarmupDays <= 0 {
		params.WarmupDays = DefaultWarmupDays
	}

	prices := make(map[string][]float64, len(params.Symbols))
	changes := make(map[string][]float64, len(params.Symbols))

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -params.HistoryDays)

	for _, symbol := range params.Symbols {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		candles, err := s.marketData.PriceSeries(ctx, symbol, from, now)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch history, dropping symbol from run")
			continue
		}
		if len(candles) <= params.WarmupDays {
			s.log.Warn().
				Str("symbol", symbol).
				Int("candles", len(candles)).
				Int("warmup", params.WarmupDays).
				Msg("History shorter than warmup, dropping symbol from run")
			continue
		}

		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}

		symbolChanges := make([]float64, 0, len(closes)-params.WarmupDays)
		for day := params.WarmupDays; day < len(closes); day++ {
			change, ok := s.predictor.PredictChange(ctx, symbol, closes[:day])
			if !ok {
				change = 0
			}
			symbolChanges = append(symbolChanges, change)
		}

		prices[symbol] = closes[params.WarmupDays:]
		changes[symbol] = symbolChanges
	}

	if len(prices) == 0 {
		return "", nil, fmt.Errorf("no symbol has usable history for backtesting")
	}

	result := s.simulator.Run(params.StartingCash, prices, changes)

	id, err := s.store.Save(result)
	if err != nil {
		// The simulation itself succeeded; report the result anyway
		s.log.Error().Err(err).Msg("Failed to persist backtest run")
		return "", result, nil
	}
	return id, result, nil
}
