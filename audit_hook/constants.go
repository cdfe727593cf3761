package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated = "account.created"

	// Balance actions
	ActionCreditsDeducted     = "credits.deducted"
	ActionCreditsInsufficient = "credits.insufficient"
	ActionCreditsAdded        = "credits.added"
	ActionCreditsReset        = "credits.reset"

	// Ledger actions
	ActionUsageRecordFailed = "usage.record_failed"
	ActionChargeReplayed    = "charge.replayed"
)

// Resource constants for audit events.
const (
	ResourceAccount = "account"
	ResourceUsage   = "usage"
)

// Category constants for audit events.
const (
	CategoryBilling = "billing"
	CategoryUsage   = "usage"
	CategoryAccess  = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
