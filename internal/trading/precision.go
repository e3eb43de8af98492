package trading

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// QuotePrecision is the decimal place of the first non-zero fractional digit
// of delta: 0.0050 gives 3, 0.1 gives 1, an integral delta gives 0.
func QuotePrecision(delta decimal.Decimal) (int32, error) {
	if !delta.IsPositive() {
		return 0, fmt.Errorf("%w: must be > 0, got %s", ErrInvalidDelta, delta)
	}
	_, frac, _ := strings.Cut(delta.String(), ".")
	idx := strings.IndexFunc(frac, func(r rune) bool { return r != '0' })
	if idx < 0 {
		return 0, nil
	}
	return int32(idx + 1), nil
}

// Quote is best ask minus delta rounded to precision. ok is false when the
// result would not sit strictly above the best bid.
func Quote(bestAsk, bestBid, delta decimal.Decimal, precision int32) (decimal.Decimal, bool) {
	raw := bestAsk.Sub(delta)
	if raw.LessThanOrEqual(bestBid) {
		return decimal.Decimal{}, false
	}
	return raw.Round(precision), true
}
