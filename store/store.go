package store

import (
	"context"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/usage"
)

// Store is the unified storage interface for the credits engine.
// Methods are declared explicitly rather than by embedding account.Store and
// usage.Store so backends read as one contract.
type Store interface {
	// Account methods
	CreateAccount(ctx context.Context, a *account.Account) error
	GetAccount(ctx context.Context, userID string) (*account.Account, error)
	UpdatePlan(ctx context.Context, userID string, plan account.Plan) error
	DecrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error)
	IncrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error)
	SetCredits(ctx context.Context, userID string, credits int64) (*account.Mutation, error)

	// Usage ledger methods
	AppendUsage(ctx context.Context, r *usage.Record) error
	QueryUsage(ctx context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*usage.Record, error)
	PurgeUsage(ctx context.Context, before time.Time) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that the unified interface covers both sub-interfaces.
var (
	_ account.Store = (Store)(nil)
	_ usage.Store   = (Store)(nil)
)
