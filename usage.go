package credits

import (
	"context"
	"time"

	"github.com/xraph/credits/usage"
)

// GetUsageStats aggregates userID's ledger over the records matching filter.
// A user with no records gets zero totals and a zero success rate.
func (e *Engine) GetUsageStats(ctx context.Context, userID string, filter usage.Filter) (*usage.Stats, error) {
	if userID == "" {
		return nil, invalid("user_id", "must not be empty", nil)
	}
	if !filter.Start.IsZero() && !filter.End.IsZero() && filter.End.Before(filter.Start) {
		return nil, invalid("filter", "end is before start", nil)
	}

	if summer, ok := e.store.(usage.Summer); ok {
		return summer.SumUsage(ctx, userID, filter)
	}

	records, err := e.store.QueryUsage(ctx, userID, usage.QueryOpts{Filter: filter})
	if err != nil {
		return nil, err
	}
	return usage.Summarize(records), nil
}

// ListUsage returns userID's ledger records, newest first.
func (e *Engine) ListUsage(ctx context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	if userID == "" {
		return nil, invalid("user_id", "must not be empty", nil)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, invalid("paging", "limit and offset must not be negative", nil)
	}
	return e.store.QueryUsage(ctx, userID, opts)
}

// PurgeUsage deletes ledger records created before the cutoff and returns how
// many were removed. It is the only path that deletes records.
func (e *Engine) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	if before.IsZero() {
		return 0, invalid("before", "must be set", nil)
	}

	n, err := e.store.PurgeUsage(ctx, before)
	if err != nil {
		return 0, err
	}

	e.logger.Info("usage records purged",
		"before", before,
		"count", n,
	)
	return n, nil
}
