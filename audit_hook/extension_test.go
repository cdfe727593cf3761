package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/credits/account"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/usage"
)

type memRecorder struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
	err    error
}

func (r *memRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *memRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func TestRecordsDeduction(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	ext := audithook.New(rec)

	err := ext.OnCreditsDeducted(ctx, &account.Adjustment{
		UserID:        "user-1",
		Kind:          account.AdjustmentDeduct,
		Operation:     pricing.OperationContentGeneration,
		Amount:        5,
		CreditsBefore: 12,
		CreditsAfter:  7,
	})
	if err != nil {
		t.Fatalf("OnCreditsDeducted: %v", err)
	}

	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1", len(rec.events))
	}
	evt := rec.events[0]
	if evt.Action != audithook.ActionCreditsDeducted {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.ResourceID != "user-1" {
		t.Errorf("resource id = %q", evt.ResourceID)
	}
	if evt.Metadata["credits_after"] != int64(7) {
		t.Errorf("credits_after = %v", evt.Metadata["credits_after"])
	}
}

func TestInsufficientCreditsShortfall(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec)

	_ = ext.OnInsufficientCredits(context.Background(), "user-1", pricing.OperationContentGeneration, 5, 3)

	evt := rec.events[0]
	if evt.Outcome != audithook.OutcomeFailure || evt.Severity != audithook.SeverityWarning {
		t.Errorf("outcome/severity = %s/%s", evt.Outcome, evt.Severity)
	}
	if evt.Metadata["shortfall"] != int64(2) {
		t.Errorf("shortfall = %v, want 2", evt.Metadata["shortfall"])
	}
}

func TestRecordFailureCarriesReason(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec)

	r := &usage.Record{ID: id.NewUsageRecordID(), UserID: "user-1", Operation: pricing.OperationChat}
	_ = ext.OnUsageRecordFailed(context.Background(), r, errors.New("disk full"))

	evt := rec.events[0]
	if evt.Reason != "disk full" {
		t.Errorf("reason = %q", evt.Reason)
	}
	if evt.ResourceID != r.ID.String() {
		t.Errorf("resource id = %q, want %q", evt.ResourceID, r.ID.String())
	}
}

func TestActionFiltering(t *testing.T) {
	ctx := context.Background()
	adj := &account.Adjustment{UserID: "u", Amount: 1}

	tests := []struct {
		name string
		opts []audithook.Option
		want int
	}{
		{"all enabled", nil, 2},
		{"only added", []audithook.Option{audithook.WithEnabledActions(audithook.ActionCreditsAdded)}, 1},
		{"reset disabled", []audithook.Option{audithook.WithDisabledActions(audithook.ActionCreditsReset)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memRecorder{}
			ext := audithook.New(rec, tt.opts...)
			_ = ext.OnCreditsAdded(ctx, adj)
			_ = ext.OnCreditsReset(ctx, adj)
			if len(rec.events) != tt.want {
				t.Errorf("events = %d, want %d", len(rec.events), tt.want)
			}
		})
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	rec := &memRecorder{err: errors.New("unavailable")}
	ext := audithook.New(rec)

	if err := ext.OnCreditsAdded(context.Background(), &account.Adjustment{UserID: "u"}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestBufferedDrainsOnShutdown(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	ext := audithook.New(rec, audithook.WithBuffer(64))

	if err := ext.OnInit(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		_ = ext.OnCreditsDeducted(ctx, &account.Adjustment{UserID: "u", Amount: 1})
	}
	if err := ext.OnShutdown(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(rec.actions()); got != 20 {
		t.Errorf("recorded = %d, want 20", got)
	}

	// After shutdown, recording falls back to synchronous writes.
	_ = ext.OnCreditsAdded(ctx, &account.Adjustment{UserID: "u"})
	if got := len(rec.actions()); got != 21 {
		t.Errorf("recorded = %d, want 21", got)
	}
}
