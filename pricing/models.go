// Package pricing maps metered operations to credit costs.
package pricing

import "errors"

var (
	// ErrUnknownOperation is returned for operation types missing from the cost table.
	ErrUnknownOperation = errors.New("pricing: unknown operation type")

	// ErrNegativeHints is returned when a sizing hint is below zero.
	ErrNegativeHints = errors.New("pricing: sizing hints must not be negative")

	// ErrHintsTooLarge is returned when a sizing hint would overflow the cost.
	ErrHintsTooLarge = errors.New("pricing: sizing hints too large")
)

// Operation is the kind of AI operation being charged.
type Operation string

const (
	OperationContentGeneration  Operation = "content_generation"
	OperationImageGeneration    Operation = "image_generation"
	OperationVideoGeneration    Operation = "video_generation"
	OperationAnalysis           Operation = "analysis"
	OperationChat               Operation = "chat"
	OperationTrendAnalysis      Operation = "trend_analysis"
	OperationCompetitorAnalysis Operation = "competitor_analysis"
	OperationRepurpose          Operation = "repurpose"
	OperationOther              Operation = "other"
)

// Operations lists every known operation type.
func Operations() []Operation {
	return []Operation{
		OperationContentGeneration,
		OperationImageGeneration,
		OperationVideoGeneration,
		OperationAnalysis,
		OperationChat,
		OperationTrendAnalysis,
		OperationCompetitorAnalysis,
		OperationRepurpose,
		OperationOther,
	}
}

// Rate is the price of one operation type.
//
// PerThousandTokens is expressed per 1000 tokens so that token pricing stays
// in integer arithmetic; zero means the operation has no token component.
type Rate struct {
	BaseCredits       int64 `json:"base_credits"       yaml:"base_credits"       mapstructure:"base_credits"`
	PerThousandTokens int64 `json:"per_thousand_tokens" yaml:"per_thousand_tokens" mapstructure:"per_thousand_tokens"`
}

// Table maps operation types to rates.
type Table map[Operation]Rate

// DefaultTable returns the built-in cost table.
func DefaultTable() Table {
	return Table{
		OperationContentGeneration:  {BaseCredits: 5, PerThousandTokens: 2},
		OperationImageGeneration:    {BaseCredits: 10},
		OperationVideoGeneration:    {BaseCredits: 50},
		OperationAnalysis:           {BaseCredits: 3, PerThousandTokens: 1},
		OperationChat:               {BaseCredits: 1, PerThousandTokens: 1},
		OperationTrendAnalysis:      {BaseCredits: 5},
		OperationCompetitorAnalysis: {BaseCredits: 8},
		OperationRepurpose:          {BaseCredits: 4, PerThousandTokens: 1},
		OperationOther:              {BaseCredits: 1},
	}
}

// Hints carry optional sizing information for a cost estimate.
type Hints struct {
	EstimatedTokens      int64 `json:"estimated_tokens,omitempty"`
	ImageCount           int   `json:"image_count,omitempty"`
	VideoDurationSeconds int   `json:"video_duration_seconds,omitempty"`
}
