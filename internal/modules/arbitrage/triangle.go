// Package arbitrage scans triangular conversion cycles across spot crypto
// pairs and chains the legs of the best cycle off broker fill events.
package arbitrage

import (
	"context"
	"fmt"
	"strings"
)

// quoteCurrency is the currency every cycle starts and ends in
const quoteCurrency = "USD"

// PairQuoter resolves the price of one unit of base expressed in quote.
// Implementations try both pair orientations (BASE/QUOTE directly, or the
// inverse of QUOTE/BASE) before giving up.
type PairQuoter interface {
	PairPrice(ctx context.Context, base, quote string) (float64, error)
}

// Triangle is one candidate conversion cycle USD -> First -> Second -> USD.
// Rate is the multiplier on the starting balance before fees; a rate above
// 1.0 means the cycle is nominally profitable.
type Triangle struct {
	First  string
	Second string
	Rate   float64
}

// computeRate prices the full cycle: spend USD on first (1/entry), convert
// first to second (middle), convert second back to USD (exit).
func computeRate(ctx context.Context, quoter PairQuoter, first, second string) (float64, error) {
	entry, err := quoter.PairPrice(ctx, first, quoteCurrency)
	if err != nil {
		return 0, fmt.Errorf("no entry pair %s/%s: %w", first, quoteCurrency, err)
	}
	if entry <= 0 {
		return 0, fmt.Errorf("non-positive entry price for %s/%s", first, quoteCurrency)
	}

	middle, err := quoter.PairPrice(ctx, first, second)
	if err != nil {
		return 0, fmt.Errorf("no middle pair %s/%s: %w", first, second, err)
	}

	exit, err := quoter.PairPrice(ctx, second, quoteCurrency)
	if err != nil {
		return 0, fmt.Errorf("no exit pair %s/%s: %w", second, quoteCurrency, err)
	}

	return 1 / entry * middle * exit, nil
}

// optimalTriangle prices the cycle in both directions and returns the better
// one. Returns an error only when neither direction can be priced.
func optimalTriangle(ctx context.Context, quoter PairQuoter, first, second string) (Triangle, error) {
	forward, forwardErr := computeRate(ctx, quoter, first, second)
	reverse, reverseErr := computeRate(ctx, quoter, second, first)

	switch {
	case forwardErr != nil && reverseErr != nil:
		return Triangle{}, fmt.Errorf("cannot price %s-%s cycle: %w", first, second, forwardErr)
	case forwardErr != nil:
		return Triangle{First: second, Second: first, Rate: reverse}, nil
	case reverseErr != nil:
		return Triangle{First: first, Second: second, Rate: forward}, nil
	case reverse > forward:
		return Triangle{First: second, Second: first, Rate: reverse}, nil
	default:
		return Triangle{First: first, Second: second, Rate: forward}, nil
	}
}

// splitPair breaks a "BASE/QUOTE" pair symbol into its currencies
func splitPair(symbol string) (base, quote string, ok bool) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
