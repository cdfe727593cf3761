// Package plugin lets extensions observe credit engine events.
//
// Hooks are side channels: they run after a balance change has committed and
// their failures are logged, never returned to the caller.
package plugin

import (
	"context"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/usage"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called after an account is created with its starting balance.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, a *account.Account) error
}

// OnCreditsDeducted is called after a successful charge.
type OnCreditsDeducted interface {
	Plugin
	OnCreditsDeducted(ctx context.Context, adj *account.Adjustment) error
}

// OnInsufficientCredits is called when a charge is rejected for lack of balance.
type OnInsufficientCredits interface {
	Plugin
	OnInsufficientCredits(ctx context.Context, userID string, op pricing.Operation, required, available int64) error
}

// OnCreditsAdded is called after credits are added.
type OnCreditsAdded interface {
	Plugin
	OnCreditsAdded(ctx context.Context, adj *account.Adjustment) error
}

// OnCreditsReset is called after a monthly allowance reset.
type OnCreditsReset interface {
	Plugin
	OnCreditsReset(ctx context.Context, adj *account.Adjustment) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded is called after a usage record is appended.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, r *usage.Record) error
}

// OnUsageRecordFailed is called when appending a usage record fails.
type OnUsageRecordFailed interface {
	Plugin
	OnUsageRecordFailed(ctx context.Context, r *usage.Record, err error) error
}

// OnChargeReplayed is called when an idempotency key returns an earlier charge.
type OnChargeReplayed interface {
	Plugin
	OnChargeReplayed(ctx context.Context, r *usage.Record) error
}
