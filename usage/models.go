package usage

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/pricing"
)

// InsufficientCreditsMessage is the error text recorded for rejected charges.
const InsufficientCreditsMessage = "Insufficient credits"

// Record is one immutable metering attempt.
//
// For successful records CreditsAfter == CreditsBefore - CreditsUsed.
// For failed records CreditsUsed is 0 and CreditsAfter == CreditsBefore.
type Record struct {
	ID             id.UsageRecordID  `json:"id"`
	UserID         string            `json:"user_id"`
	WorkspaceID    string            `json:"workspace_id,omitempty"`
	Operation      pricing.Operation `json:"operation"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model,omitempty"`
	InputTokens    int64             `json:"input_tokens,omitempty"`
	OutputTokens   int64             `json:"output_tokens,omitempty"`
	TotalTokens    int64             `json:"total_tokens,omitempty"`
	CreditsUsed    int64             `json:"credits_used"`
	CreditsBefore  int64             `json:"credits_before"`
	CreditsAfter   int64             `json:"credits_after"`
	Success        bool              `json:"success"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	ResponseTimeMs int64             `json:"response_time_ms,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Balanced reports whether r satisfies the ledger conservation rule.
func (r *Record) Balanced() bool {
	if r.Success {
		return r.CreditsAfter == r.CreditsBefore-r.CreditsUsed
	}
	return r.CreditsUsed == 0 && r.CreditsAfter == r.CreditsBefore
}

// Filter narrows the records considered by usage statistics.
// Zero values mean "no bound".
type Filter struct {
	Start     time.Time
	End       time.Time
	Operation pricing.Operation
}

// QueryOpts selects records for listing. Results are newest first.
type QueryOpts struct {
	Filter
	Limit  int
	Offset int
}

// Match reports whether r falls inside f. Start and End are inclusive.
func (f Filter) Match(r *Record) bool {
	if f.Operation != "" && r.Operation != f.Operation {
		return false
	}
	if !f.Start.IsZero() && r.CreatedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && r.CreatedAt.After(f.End) {
		return false
	}
	return true
}

// Stats aggregates a set of usage records.
type Stats struct {
	TotalCreditsUsed     int64                       `json:"total_credits_used"`
	OperationBreakdown   map[pricing.Operation]int64 `json:"operation_breakdown"`
	SuccessRate          float64                     `json:"success_rate"`
	TotalOperations      int64                       `json:"total_operations"`
	SuccessfulOperations int64                       `json:"successful_operations"`
}
