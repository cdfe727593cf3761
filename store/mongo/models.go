package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/usage"
)

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:credits_accounts"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	UserID      string    `grove:"user_id"      bson:"user_id"`
	WorkspaceID string    `grove:"workspace_id" bson:"workspace_id,omitempty"`
	Credits     int64     `grove:"credits"      bson:"credits"`
	Plan        string    `grove:"plan"         bson:"plan"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:          a.ID.String(),
		UserID:      a.UserID,
		WorkspaceID: a.WorkspaceID,
		Credits:     a.Credits,
		Plan:        string(a.Plan),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: parse account id %q: %w", m.ID, err)
	}
	return &account.Account{
		ID:          accountID,
		UserID:      m.UserID,
		WorkspaceID: m.WorkspaceID,
		Credits:     m.Credits,
		Plan:        account.Plan(m.Plan),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

// ==================== Usage models ====================

type usageRecordModel struct {
	grove.BaseModel `grove:"table:credits_usage_records"`

	ID             string            `grove:"id,pk"            bson:"_id"`
	UserID         string            `grove:"user_id"          bson:"user_id"`
	WorkspaceID    string            `grove:"workspace_id"     bson:"workspace_id,omitempty"`
	Operation      string            `grove:"operation"        bson:"operation"`
	Provider       string            `grove:"provider"         bson:"provider"`
	Model          string            `grove:"model"            bson:"model,omitempty"`
	InputTokens    int64             `grove:"input_tokens"     bson:"input_tokens,omitempty"`
	OutputTokens   int64             `grove:"output_tokens"    bson:"output_tokens,omitempty"`
	TotalTokens    int64             `grove:"total_tokens"     bson:"total_tokens,omitempty"`
	CreditsUsed    int64             `grove:"credits_used"     bson:"credits_used"`
	CreditsBefore  int64             `grove:"credits_before"   bson:"credits_before"`
	CreditsAfter   int64             `grove:"credits_after"    bson:"credits_after"`
	Success        bool              `grove:"success"          bson:"success"`
	ErrorMessage   string            `grove:"error_message"    bson:"error_message,omitempty"`
	ResponseTimeMs int64             `grove:"response_time_ms" bson:"response_time_ms,omitempty"`
	IdempotencyKey string            `grove:"idempotency_key"  bson:"idempotency_key,omitempty"`
	Metadata       map[string]string `grove:"metadata"         bson:"metadata,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"       bson:"created_at"`
}

func toUsageRecordModel(r *usage.Record) *usageRecordModel {
	return &usageRecordModel{
		ID:             r.ID.String(),
		UserID:         r.UserID,
		WorkspaceID:    r.WorkspaceID,
		Operation:      string(r.Operation),
		Provider:       r.Provider,
		Model:          r.Model,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		TotalTokens:    r.TotalTokens,
		CreditsUsed:    r.CreditsUsed,
		CreditsBefore:  r.CreditsBefore,
		CreditsAfter:   r.CreditsAfter,
		Success:        r.Success,
		ErrorMessage:   r.ErrorMessage,
		ResponseTimeMs: r.ResponseTimeMs,
		IdempotencyKey: r.IdempotencyKey,
		Metadata:       r.Metadata,
		CreatedAt:      r.CreatedAt,
	}
}

func fromUsageRecordModel(m *usageRecordModel) (*usage.Record, error) {
	recordID, err := id.ParseUsageRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: parse usage record id %q: %w", m.ID, err)
	}
	return &usage.Record{
		ID:             recordID,
		UserID:         m.UserID,
		WorkspaceID:    m.WorkspaceID,
		Operation:      pricing.Operation(m.Operation),
		Provider:       m.Provider,
		Model:          m.Model,
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
		TotalTokens:    m.TotalTokens,
		CreditsUsed:    m.CreditsUsed,
		CreditsBefore:  m.CreditsBefore,
		CreditsAfter:   m.CreditsAfter,
		Success:        m.Success,
		ErrorMessage:   m.ErrorMessage,
		ResponseTimeMs: m.ResponseTimeMs,
		IdempotencyKey: m.IdempotencyKey,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}, nil
}
