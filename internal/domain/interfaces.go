package domain

import (
	"context"
	"time"
)

// BrokerClient defines the brokerage operations the trading loop needs.
// Implemented by clients/alpaca. The broker account is the durable store of
// truth for live positions; the in-memory ledger is only used by backtests.
type BrokerClient interface {
	// Equity returns total account equity (cash + market value of positions)
	Equity(ctx context.Context) (float64, error)

	// Cash returns the available cash balance
	Cash(ctx context.Context) (float64, error)

	// PositionShares returns the number of shares held for a symbol (0 if none)
	PositionShares(ctx context.Context, symbol string) (float64, error)

	// IsTradable reports whether the symbol can currently be traded
	IsTradable(ctx context.Context, symbol string) (bool, error)

	// SubmitOrder places a market order. Returns the broker order ID.
	SubmitOrder(ctx context.Context, order Order) (string, error)

	// OpenOrders lists resting orders
	OpenOrders(ctx context.Context) ([]OpenOrder, error)

	// CancelOrder cancels a single resting order by ID
	CancelOrder(ctx context.Context, orderID string) error
}

// MarketData defines historical and current price retrieval.
// Implemented by clients/yahoo.
type MarketData interface {
	// PriceSeries returns daily candles for a symbol, oldest first
	PriceSeries(ctx context.Context, symbol string, from, to time.Time) ([]Candle, error)

	// Quote returns the current bid/ask for a symbol
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// Predictor produces a next-day expected fractional price change for a
// symbol from its price history. A prediction that cannot be produced is
// reported via ok=false, never via an error that aborts the trading cycle.
type Predictor interface {
	PredictChange(ctx context.Context, symbol string, closes []float64) (change float64, ok bool)
}

// Telemetry is the fire-and-forget activity log (spreadsheet + status
// channel in production). Implementations must swallow their own failures;
// nothing here may propagate into the trading control flow.
type Telemetry interface {
	// Log appends a free-form activity line
	Log(message string)

	// LogTransaction appends a structured transaction record
	LogTransaction(symbol, orderID string, side OrderSide, shares, price float64)
}
