// Package usage holds the append-only ledger of metering attempts and the
// read-side aggregation over it.
package usage

import (
	"context"
	"time"
)

// Store is an append-only record log. Records are never updated; PurgeUsage
// is the only deletion path and is driven by retention.
type Store interface {
	AppendUsage(ctx context.Context, r *Record) error
	QueryUsage(ctx context.Context, userID string, opts QueryOpts) ([]*Record, error)

	// FindByIdempotencyKey returns the successful record written for key,
	// or credits.ErrUsageNotFound.
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Record, error)

	PurgeUsage(ctx context.Context, before time.Time) (int64, error)
}

// Summer is implemented by stores that can aggregate a user's ledger without
// returning every record. Results must equal Summarize over the same records.
type Summer interface {
	SumUsage(ctx context.Context, userID string, filter Filter) (*Stats, error)
}
