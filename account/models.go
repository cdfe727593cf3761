package account

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/pricing"
)

// Plan is the subscription tier that determines the monthly allowance.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := defaultAllowances[p]
	return ok
}

var defaultAllowances = map[Plan]int64{
	PlanFree:       50,
	PlanStarter:    500,
	PlanPro:        2000,
	PlanBusiness:   10000,
	PlanEnterprise: 50000,
}

// Allowances maps plans to the credits granted on each monthly reset.
type Allowances map[Plan]int64

// DefaultAllowances returns the built-in plan allowance table.
func DefaultAllowances() Allowances {
	a := make(Allowances, len(defaultAllowances))
	for p, n := range defaultAllowances {
		a[p] = n
	}
	return a
}

// ErrInvalidAllowance is returned by Allowances.Validate.
var ErrInvalidAllowance = errors.New("account: invalid allowance")

// Validate reports the first entry naming an unknown plan or holding a
// negative allowance.
func (a Allowances) Validate() error {
	for p, n := range a {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown plan %q", ErrInvalidAllowance, p)
		}
		if n < 0 {
			return fmt.Errorf("%w: plan %q has negative allowance %d", ErrInvalidAllowance, p, n)
		}
	}
	return nil
}

// MonthlyAllowance returns the allowance for p, falling back to the free
// plan's allowance when p is not in the table.
func (a Allowances) MonthlyAllowance(p Plan) int64 {
	if n, ok := a[p]; ok {
		return n
	}
	if n, ok := a[PlanFree]; ok {
		return n
	}
	return defaultAllowances[PlanFree]
}

// Account holds a user's credit balance.
// Credits is never negative and only changes through Store mutations.
type Account struct {
	ID          id.AccountID `json:"id"`
	UserID      string       `json:"user_id"`
	WorkspaceID string       `json:"workspace_id,omitempty"`
	Credits     int64        `json:"credits"`
	Plan        Plan         `json:"plan"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Mutation is the balance observed immediately around a single store update.
type Mutation struct {
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// Reason explains why credits were added.
type Reason string

const (
	ReasonPurchase     Reason = "purchase"
	ReasonSubscription Reason = "subscription"
	ReasonBonus        Reason = "bonus"
	ReasonReferral     Reason = "referral"
	ReasonRefund       Reason = "refund"
	ReasonAdmin        Reason = "admin"

	// ReasonMonthlyReset is used for allowance resets; it is not accepted by AddCredits.
	ReasonMonthlyReset Reason = "monthly_reset"
)

// Valid reports whether r may be used to add credits.
func (r Reason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonSubscription, ReasonBonus, ReasonReferral, ReasonRefund, ReasonAdmin:
		return true
	}
	return false
}

// AdjustmentKind classifies an audited balance change.
type AdjustmentKind string

const (
	AdjustmentDeduct AdjustmentKind = "deduct"
	AdjustmentAdd    AdjustmentKind = "add"
	AdjustmentReset  AdjustmentKind = "reset"
)

// Adjustment is the audit-trail payload for one committed balance change.
type Adjustment struct {
	ID            id.AdjustmentID   `json:"id"`
	UserID        string            `json:"user_id"`
	Kind          AdjustmentKind    `json:"kind"`
	Reason        Reason            `json:"reason,omitempty"`
	Operation     pricing.Operation `json:"operation,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	Amount        int64             `json:"amount"`
	CreditsBefore int64             `json:"credits_before"`
	CreditsAfter  int64             `json:"credits_after"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
