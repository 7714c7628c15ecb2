package predictor

import (
	"context"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
)

const (
	momentumEmaPeriod = 10
	momentumRocPeriod = 10
)

// Momentum is a local fallback predictor: the rate of change of EMA-smoothed
// closes, scaled down to a daily expectation. Far cruder than the prediction
// service, but it keeps backtests and outage days functional.
type Momentum struct {
	log zerolog.Logger
}

// NewMomentum creates a new momentum predictor
func NewMomentum(log zerolog.Logger) *Momentum {
	return &Momentum{
		log: log.With().Str("client", "momentum").Logger(),
	}
}

// PredictChange estimates the next-day fractional change from recent momentum
func (m *Momentum) PredictChange(_ context.Context, symbol string, closes []float64) (float64, bool) {
	if len(closes) <= momentumEmaPeriod+momentumRocPeriod {
		m.log.Debug().Str("symbol", symbol).Int("closes", len(closes)).Msg("Not enough history for momentum")
		return 0, false
	}

	smoothed := talib.Ema(closes, momentumEmaPeriod)
	roc := talib.Roc(smoothed, momentumRocPeriod)

	// Roc reports percent change over the whole period; spread it per day
	change := roc[len(roc)-1] / 100 / momentumRocPeriod
	return change, true
}
