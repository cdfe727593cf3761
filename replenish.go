package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
)

// ReplenishmentResult is the outcome of AddCredits.
type ReplenishmentResult struct {
	Success       bool            `json:"success"`
	CreditsBefore int64           `json:"credits_before"`
	CreditsAfter  int64           `json:"credits_after"`
	CreditsAdded  int64           `json:"credits_added"`
	AdjustmentID  id.AdjustmentID `json:"adjustment_id"`
}

// AddCredits tops up userID's balance by amount.
func (e *Engine) AddCredits(ctx context.Context, userID string, amount int64, reason account.Reason, metadata map[string]string) (*ReplenishmentResult, error) {
	if userID == "" {
		return nil, invalid("user_id", "must not be empty", nil)
	}
	if amount <= 0 {
		return nil, invalid("amount", "must be greater than zero", ErrInvalidAmount)
	}
	if !reason.Valid() {
		return nil, invalid("reason", fmt.Sprintf("unknown reason %q", reason), ErrInvalidReason)
	}

	mut, err := e.store.IncrementCredits(ctx, userID, amount)
	if errors.Is(err, ErrBalanceOverflow) {
		return nil, invalid("amount", "would overflow the balance", errors.Join(ErrInvalidAmount, ErrBalanceOverflow))
	}
	if err != nil {
		return nil, err
	}

	adj := &account.Adjustment{
		ID:            id.NewAdjustmentID(),
		UserID:        userID,
		Kind:          account.AdjustmentAdd,
		Reason:        reason,
		Amount:        amount,
		CreditsBefore: mut.Before,
		CreditsAfter:  mut.After,
		Metadata:      metadata,
		CreatedAt:     e.now().UTC(),
	}
	e.plugins.EmitCreditsAdded(ctx, adj)

	e.logger.Info("credits added",
		"user_id", userID,
		"reason", reason,
		"amount", amount,
		"credits_after", mut.After,
	)

	return &ReplenishmentResult{
		Success:       true,
		CreditsBefore: mut.Before,
		CreditsAfter:  mut.After,
		CreditsAdded:  amount,
		AdjustmentID:  adj.ID,
	}, nil
}

// ResetResult is the outcome of ResetMonthlyCredits.
type ResetResult struct {
	Success         bool         `json:"success"`
	NewCredits      int64        `json:"new_credits"`
	PreviousCredits int64        `json:"previous_credits"`
	Plan            account.Plan `json:"plan"`
}

// ResetMonthlyCredits sets userID's balance to the plan's monthly allowance.
// The balance is overwritten, not topped up: unused credits do not roll over.
func (e *Engine) ResetMonthlyCredits(ctx context.Context, userID string) (*ResetResult, error) {
	if userID == "" {
		return nil, invalid("user_id", "must not be empty", nil)
	}

	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	allowance := e.allowances.MonthlyAllowance(acct.Plan)
	if allowance < 0 {
		return nil, invalid("allowance", fmt.Sprintf("plan %q has negative allowance %d", acct.Plan, allowance), ErrInvalidAmount)
	}
	mut, err := e.store.SetCredits(ctx, userID, allowance)
	if err != nil {
		return nil, err
	}

	e.plugins.EmitCreditsReset(ctx, &account.Adjustment{
		ID:            id.NewAdjustmentID(),
		UserID:        userID,
		Kind:          account.AdjustmentReset,
		Reason:        account.ReasonMonthlyReset,
		Amount:        allowance,
		CreditsBefore: mut.Before,
		CreditsAfter:  mut.After,
		CreatedAt:     e.now().UTC(),
	})

	e.logger.Info("monthly credits reset",
		"user_id", userID,
		"plan", acct.Plan,
		"credits_before", mut.Before,
		"credits_after", mut.After,
	)

	return &ResetResult{
		Success:         true,
		NewCredits:      mut.After,
		PreviousCredits: mut.Before,
		Plan:            acct.Plan,
	}, nil
}
