package usage

import "github.com/xraph/credits/pricing"

// Summarize aggregates records. An empty input yields zero totals and a zero
// success rate.
func Summarize(records []*Record) *Stats {
	stats := &Stats{
		OperationBreakdown: make(map[pricing.Operation]int64),
	}

	for _, r := range records {
		stats.TotalOperations++
		stats.TotalCreditsUsed += r.CreditsUsed
		stats.OperationBreakdown[r.Operation] += r.CreditsUsed
		if r.Success {
			stats.SuccessfulOperations++
		}
	}

	if stats.TotalOperations > 0 {
		stats.SuccessRate = float64(stats.SuccessfulOperations) / float64(stats.TotalOperations)
	}
	return stats
}
