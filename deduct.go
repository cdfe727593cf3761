package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/usage"
)

// DeductOptions describe a single charge.
type DeductOptions struct {
	// Cost overrides the calculated price when positive.
	Cost  int64
	Hints pricing.Hints

	WorkspaceID  string
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	ResponseTime time.Duration

	// IdempotencyKey makes retries of the same request charge once. A second
	// call with a key that already has a successful record returns that
	// record's outcome with Replayed set.
	IdempotencyKey string

	Metadata map[string]string
}

// DeductionResult is the outcome of DeductCredits. A charge rejected for lack
// of balance is reported here with Success false, not as an error.
type DeductionResult struct {
	Success         bool             `json:"success"`
	CreditsBefore   int64            `json:"credits_before"`
	CreditsAfter    int64            `json:"credits_after"`
	CreditsDeducted int64            `json:"credits_deducted"`
	Shortfall       int64            `json:"shortfall,omitempty"`
	Error           string           `json:"error,omitempty"`
	RecordID        id.UsageRecordID `json:"record_id"`
	Replayed        bool             `json:"replayed,omitempty"`
}

// DeductCredits charges userID for one operation.
//
// The balance check and the subtraction happen in one conditional store
// update, so concurrent charges can never drive a balance negative. The usage
// record and audit events are written after the update commits; their failure
// is logged and never undoes the charge.
func (e *Engine) DeductCredits(ctx context.Context, userID string, op pricing.Operation, opts DeductOptions) (*DeductionResult, error) {
	if userID == "" {
		return nil, invalid("user_id", "must not be empty", nil)
	}
	if opts.Cost < 0 {
		return nil, invalid("cost", "must not be negative", ErrInvalidAmount)
	}

	cost := opts.Cost
	if cost == 0 {
		c, err := e.CalculateCost(op, opts.Hints)
		if err != nil {
			return nil, err
		}
		cost = c
	} else if _, ok := e.calculator.Rate(op); !ok {
		return nil, invalid("operation", fmt.Sprintf("unknown operation %q", op), pricing.ErrUnknownOperation)
	}

	if opts.IdempotencyKey != "" {
		prior, err := e.store.FindByIdempotencyKey(ctx, userID, opts.IdempotencyKey)
		switch {
		case err == nil:
			e.plugins.EmitChargeReplayed(ctx, prior)
			e.logger.Debug("charge replayed",
				"user_id", userID,
				"idempotency_key", opts.IdempotencyKey,
				"record_id", prior.ID.String(),
			)
			return &DeductionResult{
				Success:         true,
				CreditsBefore:   prior.CreditsBefore,
				CreditsAfter:    prior.CreditsAfter,
				CreditsDeducted: prior.CreditsUsed,
				RecordID:        prior.ID,
				Replayed:        true,
			}, nil
		case !errors.Is(err, ErrUsageNotFound):
			return nil, err
		}
	}

	// Advisory read: confirms the account exists and supplies the workspace.
	// It plays no part in deciding whether the charge is allowed.
	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	rec := e.newRecord(acct, op, opts)

	mut, err := e.store.DecrementCredits(ctx, userID, cost)
	if errors.Is(err, ErrInsufficientCredits) {
		available := acct.Credits
		if mut != nil {
			available = mut.After
		}
		return e.reject(ctx, rec, cost, available), nil
	}
	if err != nil {
		return nil, err
	}

	rec.Success = true
	rec.CreditsUsed = cost
	rec.CreditsBefore = mut.Before
	rec.CreditsAfter = mut.After
	e.appendUsage(ctx, rec)

	e.plugins.EmitCreditsDeducted(ctx, &account.Adjustment{
		ID:            id.NewAdjustmentID(),
		UserID:        userID,
		Kind:          account.AdjustmentDeduct,
		Operation:     op,
		Provider:      opts.Provider,
		Amount:        cost,
		CreditsBefore: mut.Before,
		CreditsAfter:  mut.After,
		Metadata:      opts.Metadata,
		CreatedAt:     rec.CreatedAt,
	})

	e.logger.Debug("credits deducted",
		"user_id", userID,
		"operation", op,
		"amount", cost,
		"credits_after", mut.After,
	)

	return &DeductionResult{
		Success:         true,
		CreditsBefore:   mut.Before,
		CreditsAfter:    mut.After,
		CreditsDeducted: cost,
		RecordID:        rec.ID,
	}, nil
}

func (e *Engine) reject(ctx context.Context, rec *usage.Record, cost, available int64) *DeductionResult {
	rec.Success = false
	rec.CreditsUsed = 0
	rec.CreditsBefore = available
	rec.CreditsAfter = available
	rec.ErrorMessage = usage.InsufficientCreditsMessage
	e.appendUsage(ctx, rec)

	e.plugins.EmitInsufficientCredits(ctx, rec.UserID, rec.Operation, cost, available)

	e.logger.Info("insufficient credits",
		"user_id", rec.UserID,
		"operation", rec.Operation,
		"required", cost,
		"available", available,
	)

	// available comes from a read after the failed guard, so a concurrent
	// top-up can make it cover cost. The charge was still refused.
	shortfall := max(cost-available, 1)

	return &DeductionResult{
		Success:       false,
		CreditsBefore: available,
		CreditsAfter:  available,
		Shortfall:     shortfall,
		Error:         usage.InsufficientCreditsMessage,
		RecordID:      rec.ID,
	}
}

func (e *Engine) newRecord(acct *account.Account, op pricing.Operation, opts DeductOptions) *usage.Record {
	workspaceID := opts.WorkspaceID
	if workspaceID == "" {
		workspaceID = acct.WorkspaceID
	}
	total := opts.TotalTokens
	if total == 0 {
		total = opts.InputTokens + opts.OutputTokens
	}

	return &usage.Record{
		ID:             id.NewUsageRecordID(),
		UserID:         acct.UserID,
		WorkspaceID:    workspaceID,
		Operation:      op,
		Provider:       opts.Provider,
		Model:          opts.Model,
		InputTokens:    opts.InputTokens,
		OutputTokens:   opts.OutputTokens,
		TotalTokens:    total,
		ResponseTimeMs: opts.ResponseTime.Milliseconds(),
		IdempotencyKey: opts.IdempotencyKey,
		Metadata:       opts.Metadata,
		CreatedAt:      e.now().UTC(),
	}
}

// appendUsage writes rec to the ledger. The balance change it describes has
// already committed, so a failure here is reported and swallowed.
func (e *Engine) appendUsage(ctx context.Context, rec *usage.Record) {
	if err := e.store.AppendUsage(ctx, rec); err != nil {
		e.logger.Warn("failed to record usage",
			"user_id", rec.UserID,
			"operation", rec.Operation,
			"record_id", rec.ID.String(),
			"success", rec.Success,
			"error", err,
		)
		e.plugins.EmitUsageRecordFailed(ctx, rec, err)
		return
	}
	e.plugins.EmitUsageRecorded(ctx, rec)
}
