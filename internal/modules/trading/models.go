package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// Trade is one submitted order, persisted for the audit trail
type Trade struct {
	ID         int64            `json:"id"`
	Symbol     string           `json:"symbol"`
	Side       domain.OrderSide `json:"side"`
	Quantity   float64          `json:"quantity"`
	Price      float64          `json:"price"`
	OrderID    string           `json:"order_id"`
	ExecutedAt time.Time        `json:"executed_at"`
	CreatedAt  *time.Time       `json:"created_at,omitempty"`
}

// Validate checks the trade before database insertion
func (t Trade) Validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("trade symbol is required")
	}
	if t.Side != domain.OrderSideBuy && t.Side != domain.OrderSideSell {
		return fmt.Errorf("invalid trade side: %s", t.Side)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("trade quantity must be positive, got %f", t.Quantity)
	}
	if t.Price < 0 {
		return fmt.Errorf("trade price cannot be negative, got %f", t.Price)
	}
	return nil
}

// Value returns the notional value of the trade
func (t Trade) Value() float64 {
	return t.Quantity * t.Price
}
