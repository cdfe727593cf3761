package pricing

import (
	"fmt"
	"math"
)

// Calculator prices operations against a fixed Table.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	table Table
}

// NewCalculator returns a Calculator over table. A nil table uses DefaultTable.
// The table is copied so later changes by the caller do not affect pricing.
func NewCalculator(table Table) *Calculator {
	if table == nil {
		table = DefaultTable()
	}
	cp := make(Table, len(table))
	for op, r := range table {
		cp[op] = r
	}
	return &Calculator{table: cp}
}

// Rate returns the rate for op.
func (c *Calculator) Rate(op Operation) (Rate, bool) {
	r, ok := c.table[op]
	return r, ok
}

// Calculate returns the credit cost of op. The result is always >= 1.
//
// Images scale the base linearly with the image count and videos scale it per
// started ten seconds of duration; both replace any token component.
func (c *Calculator) Calculate(op Operation, h Hints) (int64, error) {
	r, ok := c.table[op]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	if h.EstimatedTokens < 0 || h.ImageCount < 0 || h.VideoDurationSeconds < 0 {
		return 0, ErrNegativeHints
	}

	var cost int64
	switch op {
	case OperationImageGeneration:
		count := int64(h.ImageCount)
		if count == 0 {
			count = 1
		}
		n, ok := mul(r.BaseCredits, count)
		if !ok {
			return 0, fmt.Errorf("%w: image_count %d", ErrHintsTooLarge, h.ImageCount)
		}
		cost = n
	case OperationVideoGeneration:
		cost = r.BaseCredits
		if h.VideoDurationSeconds > 0 {
			n, ok := mul(r.BaseCredits, int64(h.VideoDurationSeconds))
			if !ok {
				return 0, fmt.Errorf("%w: video_duration_seconds %d", ErrHintsTooLarge, h.VideoDurationSeconds)
			}
			cost = ceilDiv(n, 10)
		}
	default:
		cost = r.BaseCredits
		if r.PerThousandTokens > 0 && h.EstimatedTokens > 0 {
			n, ok := mul(h.EstimatedTokens, r.PerThousandTokens)
			if !ok || cost > math.MaxInt64-ceilDiv(n, 1000) {
				return 0, fmt.Errorf("%w: estimated_tokens %d", ErrHintsTooLarge, h.EstimatedTokens)
			}
			cost += ceilDiv(n, 1000)
		}
	}

	return max(cost, 1), nil
}

// mul multiplies non-negative a and b, reporting false on overflow.
func mul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

// ceilDiv divides non-negative a by positive b, rounding up.
func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
