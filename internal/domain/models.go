// Package domain provides core domain models and types.
package domain

import "time"

// OrderSide represents the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	// OrderSideCancel marks telemetry rows for canceled orders. It is never
	// a valid side for a submitted or persisted trade.
	OrderSideCancel OrderSide = "CANCEL"
)

// Order is a request to trade a quantity of a symbol. Quantities are
// fractional share counts, always > 0; the side carries the direction.
type Order struct {
	Symbol string    `json:"symbol"`
	Side   OrderSide `json:"side"`
	Shares float64   `json:"shares"`
}

// Signal is a per-symbol predicted fractional price change for the next
// trading day. Signals are ephemeral and recomputed every cycle; a symbol
// with no usable prediction carries an ExpectedChange of 0 (hold).
type Signal struct {
	Symbol         string  `json:"symbol"`
	ExpectedChange float64 `json:"expected_change"`
}

// Candle is a single daily bar of market data. Only the close is used by the
// core; Open/High/Low are kept for the status API.
type Candle struct {
	Date  time.Time `json:"date"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Quote is a current bid/ask pair for a symbol
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// OrderUpdateEvent identifies the lifecycle stage of a streamed order update
type OrderUpdateEvent string

const (
	OrderEventFill        OrderUpdateEvent = "fill"
	OrderEventPartialFill OrderUpdateEvent = "partial_fill"
	OrderEventCanceled    OrderUpdateEvent = "canceled"
	OrderEventRejected    OrderUpdateEvent = "rejected"
)

// OrderUpdate is a strongly-typed fill-stream event. The broker stream
// validates raw payloads into this single shape at the boundary; malformed
// payloads are rejected there, never unwrapped downstream.
type OrderUpdate struct {
	Event          OrderUpdateEvent `json:"event"`
	OrderID        string           `json:"order_id"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	FilledShares   float64          `json:"filled_shares"`
	FilledAvgPrice float64          `json:"filled_avg_price"`
	Timestamp      time.Time        `json:"timestamp"`
}

// OpenOrder is a resting order as reported by the broker
type OpenOrder struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           OrderSide `json:"side"`
	Shares         float64   `json:"shares"`
	FilledAvgPrice float64   `json:"filled_avg_price"`
}
