package credits

import (
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/pricing"
)

// Re-export common types so callers can charge and top up without importing
// the account and pricing packages.

// Operation is re-exported from the pricing package.
type Operation = pricing.Operation

// Hints is re-exported from the pricing package.
type Hints = pricing.Hints

// Plan is re-exported from the account package.
type Plan = account.Plan

// Reason is re-exported from the account package.
type Reason = account.Reason

// Re-export operation types
const (
	OperationContentGeneration  = pricing.OperationContentGeneration
	OperationImageGeneration    = pricing.OperationImageGeneration
	OperationVideoGeneration    = pricing.OperationVideoGeneration
	OperationAnalysis           = pricing.OperationAnalysis
	OperationChat               = pricing.OperationChat
	OperationTrendAnalysis      = pricing.OperationTrendAnalysis
	OperationCompetitorAnalysis = pricing.OperationCompetitorAnalysis
	OperationRepurpose          = pricing.OperationRepurpose
	OperationOther              = pricing.OperationOther
)

// Re-export plans
const (
	PlanFree       = account.PlanFree
	PlanStarter    = account.PlanStarter
	PlanPro        = account.PlanPro
	PlanBusiness   = account.PlanBusiness
	PlanEnterprise = account.PlanEnterprise
)

// Re-export replenishment reasons
const (
	ReasonPurchase     = account.ReasonPurchase
	ReasonSubscription = account.ReasonSubscription
	ReasonBonus        = account.ReasonBonus
	ReasonReferral     = account.ReasonReferral
	ReasonRefund       = account.ReasonRefund
	ReasonAdmin        = account.ReasonAdmin
)
