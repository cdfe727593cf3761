package sqlite

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

	ID          string    `grove:"id,pk"`
	UserID      string    `grove:"user_id"`
	WorkspaceID string    `grove:"workspace_id"`
	Credits     int64     `grove:"credits"`
	Plan        string    `grove:"plan"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
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
		return nil, fmt.Errorf("credits/sqlite: parse account id %q: %w", m.ID, err)
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

	ID             string            `grove:"id,pk"`
	UserID         string            `grove:"user_id"`
	WorkspaceID    string            `grove:"workspace_id"`
	Operation      string            `grove:"operation"`
	Provider       string            `grove:"provider"`
	Model          string            `grove:"model"`
	InputTokens    int64             `grove:"input_tokens"`
	OutputTokens   int64             `grove:"output_tokens"`
	TotalTokens    int64             `grove:"total_tokens"`
	CreditsUsed    int64             `grove:"credits_used"`
	CreditsBefore  int64             `grove:"credits_before"`
	CreditsAfter   int64             `grove:"credits_after"`
	Success        bool              `grove:"success"`
	ErrorMessage   string            `grove:"error_message"`
	ResponseTimeMs int64             `grove:"response_time_ms"`
	IdempotencyKey string            `grove:"idempotency_key"`
	Metadata       map[string]string `grove:"metadata"`
	CreatedAt      time.Time         `grove:"created_at"`
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
		return nil, fmt.Errorf("credits/sqlite: parse usage record id %q: %w", m.ID, err)
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
