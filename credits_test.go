package credits_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/usage"
)

// ──────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────

// brokenLedger fails every ledger append while balances keep working.
type brokenLedger struct {
	*memory.Store
}

func (brokenLedger) AppendUsage(context.Context, *usage.Record) error {
	return errors.New("ledger unavailable")
}

// racingStore refuses every decrement but reports a balance that already
// covers the charge, as when a top-up lands between the guard and the read.
type racingStore struct {
	*memory.Store
}

func (racingStore) DecrementCredits(context.Context, string, int64) (*account.Mutation, error) {
	return &account.Mutation{Before: 100, After: 100}, credits.ErrInsufficientCredits
}

type eventRecorder struct {
	mu       sync.Mutex
	deducted []*account.Adjustment
	added    []*account.Adjustment
	resets   []*account.Adjustment
	rejected []int64
	failed   int
	replayed int
}

func (r *eventRecorder) Name() string { return "test-recorder" }

func (r *eventRecorder) OnCreditsDeducted(_ context.Context, adj *account.Adjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deducted = append(r.deducted, adj)
	return nil
}

func (r *eventRecorder) OnInsufficientCredits(_ context.Context, _ string, _ pricing.Operation, required, available int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, required-available)
	return nil
}

func (r *eventRecorder) OnCreditsAdded(_ context.Context, adj *account.Adjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, adj)
	return nil
}

func (r *eventRecorder) OnCreditsReset(_ context.Context, adj *account.Adjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, adj)
	return nil
}

func (r *eventRecorder) OnUsageRecordFailed(_ context.Context, _ *usage.Record, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	return nil
}

func (r *eventRecorder) OnChargeReplayed(_ context.Context, _ *usage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replayed++
	return nil
}

func newEngine(t *testing.T, opts ...credits.Option) (*credits.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	e := credits.New(s, opts...)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e, s
}

// seed creates an account for userID holding exactly balance credits.
func seed(t *testing.T, e *credits.Engine, userID string, plan account.Plan, balance int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.CreateAccount(ctx, userID, "", plan); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := e.Store().SetCredits(ctx, userID, balance); err != nil {
		t.Fatalf("SetCredits: %v", err)
	}
}

func ledger(t *testing.T, e *credits.Engine, userID string) []*usage.Record {
	t.Helper()
	recs, err := e.ListUsage(context.Background(), userID, usage.QueryOpts{})
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	return recs
}

// ──────────────────────────────────────────────────
// Accounts and balance reads
// ──────────────────────────────────────────────────

func TestCreateAccountSeedsStartingBalance(t *testing.T) {
	e, _ := newEngine(t, credits.WithStartingCredits(75))
	ctx := context.Background()

	a, err := e.CreateAccount(ctx, "user-1", "ws-1", "")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if a.Credits != 75 || a.Plan != account.PlanFree {
		t.Errorf("account = %+v", a)
	}
	if a.ID.IsNil() {
		t.Error("expected account ID")
	}

	if _, err := e.CreateAccount(ctx, "user-1", "", credits.PlanPro); !errors.Is(err, credits.ErrAccountExists) {
		t.Errorf("expected ErrAccountExists, got %v", err)
	}
	if _, err := e.CreateAccount(ctx, "user-2", "", "platinum"); !credits.IsValidation(err) || !errors.Is(err, credits.ErrInvalidPlan) {
		t.Errorf("expected invalid plan, got %v", err)
	}
}

func TestGetUserCredits(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanPro, 123)

	bal, err := e.GetUserCredits(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Credits != 123 || bal.Plan != credits.PlanPro || bal.MonthlyAllowance != 2000 {
		t.Errorf("balance = %+v", bal)
	}

	// Unknown users degrade to a zero free-plan view.
	bal, err = e.GetUserCredits(ctx, "ghost")
	if err != nil {
		t.Fatalf("expected nil error for unknown user, got %v", err)
	}
	if bal.Credits != 0 || bal.Plan != credits.PlanFree || bal.MonthlyAllowance != 50 {
		t.Errorf("default balance = %+v", bal)
	}
}

func TestCheckCredits(t *testing.T) {
	e, _ := newEngine(t)
	seed(t, e, "user-1", credits.PlanFree, 3)

	tests := []struct {
		name      string
		user      string
		required  int64
		has       bool
		shortfall int64
	}{
		{"enough", "user-1", 3, true, 0},
		{"short", "user-1", 5, false, 2},
		{"unknown user", "ghost", 1, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := e.CheckCredits(context.Background(), tt.user, tt.required)
			if err != nil {
				t.Fatal(err)
			}
			if check.HasCredits != tt.has || check.Shortfall != tt.shortfall || check.RequiredCredits != tt.required {
				t.Errorf("check = %+v", check)
			}
		})
	}

	if _, err := e.CheckCredits(context.Background(), "user-1", -1); !credits.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestChangePlanAffectsReset(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 10)

	if err := e.ChangePlan(ctx, "user-1", credits.PlanStarter); err != nil {
		t.Fatal(err)
	}
	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits != 10 {
		t.Errorf("plan change touched balance: %d", bal.Credits)
	}

	res, err := e.ResetMonthlyCredits(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.NewCredits != 500 {
		t.Errorf("new credits = %d, want 500", res.NewCredits)
	}

	if err := e.ChangePlan(ctx, "ghost", credits.PlanPro); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Deduction
// ──────────────────────────────────────────────────

func TestDeductSuccess(t *testing.T) {
	rec := &eventRecorder{}
	e, _ := newEngine(t, credits.WithPlugin(rec))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 12)

	res, err := e.DeductCredits(ctx, "user-1", credits.OperationContentGeneration, credits.DeductOptions{
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  10,
		OutputTokens: 20,
		ResponseTime: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("DeductCredits: %v", err)
	}
	if !res.Success || res.CreditsBefore != 12 || res.CreditsAfter != 7 || res.CreditsDeducted != 5 {
		t.Errorf("result = %+v", res)
	}

	recs := ledger(t, e, "user-1")
	if len(recs) != 1 {
		t.Fatalf("ledger len = %d, want 1", len(recs))
	}
	r := recs[0]
	if !r.Success || r.CreditsUsed != 5 || r.CreditsBefore != 12 || r.CreditsAfter != 7 {
		t.Errorf("record = %+v", r)
	}
	if !r.Balanced() {
		t.Error("record does not balance")
	}
	if r.TotalTokens != 30 || r.ResponseTimeMs != 1500 || r.Model != "gpt-4o" {
		t.Errorf("record details = %+v", r)
	}
	if r.ID.String() != res.RecordID.String() {
		t.Errorf("record id mismatch")
	}

	if len(rec.deducted) != 1 || rec.deducted[0].Amount != 5 || rec.deducted[0].CreditsAfter != 7 {
		t.Errorf("deducted events = %+v", rec.deducted)
	}
}

func TestDeductInsufficient(t *testing.T) {
	rec := &eventRecorder{}
	e, _ := newEngine(t, credits.WithPlugin(rec))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 3)

	res, err := e.DeductCredits(ctx, "user-1", credits.OperationContentGeneration, credits.DeductOptions{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Success || res.Shortfall != 2 || res.Error != usage.InsufficientCreditsMessage {
		t.Errorf("result = %+v", res)
	}
	if res.CreditsBefore != 3 || res.CreditsAfter != 3 {
		t.Errorf("balances = %d -> %d", res.CreditsBefore, res.CreditsAfter)
	}

	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits != 3 {
		t.Errorf("balance = %d, want 3", bal.Credits)
	}

	recs := ledger(t, e, "user-1")
	if len(recs) != 1 || recs[0].Success || recs[0].CreditsUsed != 0 || !recs[0].Balanced() {
		t.Errorf("ledger = %+v", recs)
	}
	if len(rec.rejected) != 1 || rec.rejected[0] != 2 {
		t.Errorf("rejected events = %v", rec.rejected)
	}
	if len(rec.deducted) != 0 {
		t.Error("unexpected deducted event")
	}
}

func TestDeductPricing(t *testing.T) {
	tests := []struct {
		name string
		op   pricing.Operation
		opts credits.DeductOptions
		want int64
	}{
		{"image x4", credits.OperationImageGeneration, credits.DeductOptions{Hints: credits.Hints{ImageCount: 4}}, 40},
		{"video 25s", credits.OperationVideoGeneration, credits.DeductOptions{Hints: credits.Hints{VideoDurationSeconds: 25}}, 125},
		{"chat tokens", credits.OperationChat, credits.DeductOptions{Hints: credits.Hints{EstimatedTokens: 2500}}, 4},
		{"explicit cost", credits.OperationChat, credits.DeductOptions{Cost: 17}, 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t)
			seed(t, e, "user-1", credits.PlanFree, 1000)

			res, err := e.DeductCredits(context.Background(), "user-1", tt.op, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if res.CreditsDeducted != tt.want || res.CreditsAfter != 1000-tt.want {
				t.Errorf("deducted = %d, want %d", res.CreditsDeducted, tt.want)
			}
		})
	}
}

func TestDeductValidation(t *testing.T) {
	e, _ := newEngine(t)
	seed(t, e, "user-1", credits.PlanFree, 100)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		op     pricing.Operation
		opts   credits.DeductOptions
		target error
	}{
		{"empty user", "", credits.OperationChat, credits.DeductOptions{}, credits.ErrInvalidInput},
		{"unknown op", "user-1", "teleport", credits.DeductOptions{}, pricing.ErrUnknownOperation},
		{"unknown op with cost", "user-1", "teleport", credits.DeductOptions{Cost: 3}, pricing.ErrUnknownOperation},
		{"negative cost", "user-1", credits.OperationChat, credits.DeductOptions{Cost: -1}, credits.ErrInvalidAmount},
		{"negative hints", "user-1", credits.OperationChat, credits.DeductOptions{Hints: credits.Hints{EstimatedTokens: -5}}, pricing.ErrNegativeHints},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.DeductCredits(ctx, tt.user, tt.op, tt.opts)
			if !credits.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			if !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}

	if got := ledger(t, e, "user-1"); len(got) != 0 {
		t.Errorf("validation failures wrote %d ledger records", len(got))
	}
}

func TestDeductAccountNotFound(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.DeductCredits(context.Background(), "ghost", credits.OperationChat, credits.DeductOptions{})
	if !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
	if !credits.IsNotFound(err) {
		t.Error("IsNotFound = false")
	}
}

func TestDeductConcurrentNoOverdraft(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 100)

	const workers = 64
	var (
		mu        sync.Mutex
		succeeded int64
	)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			res, err := e.DeductCredits(ctx, "user-1", credits.OperationContentGeneration, credits.DeductOptions{})
			if err != nil {
				return err
			}
			if res.Success {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if succeeded != 20 {
		t.Errorf("succeeded = %d, want 20", succeeded)
	}
	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits != 0 {
		t.Errorf("balance = %d, want 0", bal.Credits)
	}

	recs := ledger(t, e, "user-1")
	if len(recs) != workers {
		t.Errorf("ledger len = %d, want %d", len(recs), workers)
	}
	stats := usage.Summarize(recs)
	if stats.TotalCreditsUsed != 100 {
		t.Errorf("ledger total = %d, want 100", stats.TotalCreditsUsed)
	}
	for _, r := range recs {
		if !r.Balanced() {
			t.Errorf("unbalanced record %+v", r)
		}
	}
}

func TestDeductIdempotencyReplay(t *testing.T) {
	rec := &eventRecorder{}
	e, _ := newEngine(t, credits.WithPlugin(rec))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 20)

	opts := credits.DeductOptions{IdempotencyKey: "req-42"}
	first, err := e.DeductCredits(ctx, "user-1", credits.OperationContentGeneration, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.DeductCredits(ctx, "user-1", credits.OperationContentGeneration, opts)
	if err != nil {
		t.Fatal(err)
	}

	if !second.Replayed || second.RecordID.String() != first.RecordID.String() {
		t.Errorf("second = %+v, want replay of %s", second, first.RecordID)
	}
	if second.CreditsAfter != 15 {
		t.Errorf("replayed credits after = %d, want 15", second.CreditsAfter)
	}

	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits != 15 {
		t.Errorf("balance = %d, want 15 (charged once)", bal.Credits)
	}
	if n := len(ledger(t, e, "user-1")); n != 1 {
		t.Errorf("ledger len = %d, want 1", n)
	}
	if rec.replayed != 1 {
		t.Errorf("replayed events = %d, want 1", rec.replayed)
	}
}

func TestDeductRejectedKeyCanRetry(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 3)

	opts := credits.DeductOptions{IdempotencyKey: "req-1"}
	res, err := e.DeductCredits(ctx, "user-1", credits.OperationContentGeneration, opts)
	if err != nil || res.Success {
		t.Fatalf("expected rejection, got %+v, %v", res, err)
	}

	if _, err := e.AddCredits(ctx, "user-1", 10, credits.ReasonPurchase, nil); err != nil {
		t.Fatal(err)
	}

	res, err = e.DeductCredits(ctx, "user-1", credits.OperationContentGeneration, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Replayed || res.CreditsAfter != 8 {
		t.Errorf("retry = %+v", res)
	}
}

func TestLedgerFailureDoesNotUndoCharge(t *testing.T) {
	rec := &eventRecorder{}
	s := brokenLedger{memory.New()}
	e := credits.New(s, credits.WithPlugin(rec))
	ctx := context.Background()

	if _, err := e.CreateAccount(ctx, "user-1", "", credits.PlanFree); err != nil {
		t.Fatal(err)
	}

	res, err := e.DeductCredits(ctx, "user-1", credits.OperationChat, credits.DeductOptions{})
	if err != nil {
		t.Fatalf("ledger failure surfaced: %v", err)
	}
	if !res.Success || res.CreditsAfter != 49 {
		t.Errorf("result = %+v", res)
	}

	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits != 49 {
		t.Errorf("balance = %d, want 49", bal.Credits)
	}
	if rec.failed != 1 {
		t.Errorf("record failed events = %d, want 1", rec.failed)
	}
	if len(rec.deducted) != 1 {
		t.Errorf("deducted events = %d, want 1", len(rec.deducted))
	}
}

// ──────────────────────────────────────────────────
// Replenishment
// ──────────────────────────────────────────────────

func TestAddCredits(t *testing.T) {
	rec := &eventRecorder{}
	e, _ := newEngine(t, credits.WithPlugin(rec))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 7)

	res, err := e.AddCredits(ctx, "user-1", 100, credits.ReasonPurchase, map[string]string{"order_id": "o-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.CreditsBefore != 7 || res.CreditsAfter != 107 || res.CreditsAdded != 100 {
		t.Errorf("result = %+v", res)
	}
	if len(rec.added) != 1 || rec.added[0].Reason != credits.ReasonPurchase || rec.added[0].Metadata["order_id"] != "o-1" {
		t.Errorf("added events = %+v", rec.added)
	}
}

func TestAddCreditsValidation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		amount int64
		reason account.Reason
		target error
	}{
		{"zero amount", "user-1", 0, credits.ReasonBonus, credits.ErrInvalidAmount},
		{"negative amount", "user-1", -10, credits.ReasonBonus, credits.ErrInvalidAmount},
		{"unknown reason", "user-1", 10, "lottery", credits.ErrInvalidReason},
		{"reset reason", "user-1", 10, account.ReasonMonthlyReset, credits.ErrInvalidReason},
		{"empty user", "", 10, credits.ReasonBonus, credits.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddCredits(ctx, tt.user, tt.amount, tt.reason, nil)
			if !errors.Is(err, tt.target) || !credits.IsValidation(err) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}

	if _, err := e.AddCredits(ctx, "ghost", 10, credits.ReasonBonus, nil); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestResetMonthlyCreditsIsAbsolute(t *testing.T) {
	rec := &eventRecorder{}
	e, _ := newEngine(t, credits.WithPlugin(rec))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanStarter, 37)

	res, err := e.ResetMonthlyCredits(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.NewCredits != 500 || res.PreviousCredits != 37 {
		t.Errorf("result = %+v", res)
	}
	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits != 500 {
		t.Errorf("balance = %d, want 500", bal.Credits)
	}
	if len(rec.resets) != 1 || rec.resets[0].Reason != account.ReasonMonthlyReset {
		t.Errorf("reset events = %+v", rec.resets)
	}

	if _, err := e.ResetMonthlyCredits(ctx, "ghost"); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestResetUsesConfiguredAllowances(t *testing.T) {
	e, _ := newEngine(t, credits.WithAllowances(account.Allowances{account.PlanPro: 2500}))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanPro, 0)

	res, err := e.ResetMonthlyCredits(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.NewCredits != 2500 {
		t.Errorf("new credits = %d, want 2500", res.NewCredits)
	}
}

// ──────────────────────────────────────────────────
// Usage statistics
// ──────────────────────────────────────────────────

func TestGetUsageStatsEmpty(t *testing.T) {
	e, _ := newEngine(t)
	stats, err := e.GetUsageStats(context.Background(), "nobody", usage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalOperations != 0 || stats.SuccessRate != 0 || stats.TotalCreditsUsed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetUsageStats(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := now
	e, _ := newEngine(t, credits.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 20)

	charge := func(op pricing.Operation, at time.Time) {
		t.Helper()
		clock = at
		if _, err := e.DeductCredits(ctx, "user-1", op, credits.DeductOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	// 20 -> 15 -> 5, a rejected image, then 5 -> 4.
	charge(credits.OperationContentGeneration, now)
	charge(credits.OperationImageGeneration, now.Add(time.Hour))
	charge(credits.OperationImageGeneration, now.Add(2*time.Hour))
	charge(credits.OperationChat, now.Add(3*time.Hour))

	stats, err := e.GetUsageStats(ctx, "user-1", usage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalOperations != 4 || stats.SuccessfulOperations != 3 {
		t.Errorf("operations = %d/%d", stats.SuccessfulOperations, stats.TotalOperations)
	}
	if stats.TotalCreditsUsed != 16 {
		t.Errorf("total = %d, want 16", stats.TotalCreditsUsed)
	}
	if stats.SuccessRate != 0.75 {
		t.Errorf("success rate = %v, want 0.75", stats.SuccessRate)
	}
	if stats.OperationBreakdown[credits.OperationImageGeneration] != 10 {
		t.Errorf("image breakdown = %d", stats.OperationBreakdown[credits.OperationImageGeneration])
	}

	images, err := e.GetUsageStats(ctx, "user-1", usage.Filter{Operation: credits.OperationImageGeneration})
	if err != nil {
		t.Fatal(err)
	}
	if images.TotalOperations != 2 || images.SuccessRate != 0.5 {
		t.Errorf("image stats = %+v", images)
	}

	window, err := e.GetUsageStats(ctx, "user-1", usage.Filter{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if window.TotalOperations != 2 {
		t.Errorf("window operations = %d, want 2", window.TotalOperations)
	}

	if _, err := e.GetUsageStats(ctx, "user-1", usage.Filter{Start: now, End: now.Add(-time.Hour)}); !credits.IsValidation(err) {
		t.Errorf("expected validation error for inverted window, got %v", err)
	}
}

func TestPurgeUsage(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	e, _ := newEngine(t, credits.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 100)

	for i := 0; i < 3; i++ {
		clock = now.Add(time.Duration(i) * 24 * time.Hour)
		if _, err := e.DeductCredits(ctx, "user-1", credits.OperationChat, credits.DeductOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := e.PurgeUsage(ctx, now.Add(36*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("purged = %d, want 2", n)
	}
	if got := len(ledger(t, e, "user-1")); got != 1 {
		t.Errorf("remaining = %d, want 1", got)
	}
	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits != 97 {
		t.Errorf("purge touched balance: %d", bal.Credits)
	}

	if _, err := e.PurgeUsage(ctx, time.Time{}); !credits.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Boundaries
// ──────────────────────────────────────────────────

func TestAddCreditsOverflow(t *testing.T) {
	rec := &eventRecorder{}
	e, _ := newEngine(t, credits.WithPlugin(rec))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 50)

	_, err := e.AddCredits(ctx, "user-1", math.MaxInt64, credits.ReasonPurchase, nil)
	if !credits.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !errors.Is(err, credits.ErrInvalidAmount) || !errors.Is(err, credits.ErrBalanceOverflow) {
		t.Errorf("expected ErrInvalidAmount and ErrBalanceOverflow, got %v", err)
	}
	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits != 50 {
		t.Errorf("balance = %d, want 50", bal.Credits)
	}
	if len(rec.added) != 0 {
		t.Errorf("added events = %+v", rec.added)
	}

	res, err := e.AddCredits(ctx, "user-1", math.MaxInt64-50, credits.ReasonPurchase, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.CreditsAfter != math.MaxInt64 {
		t.Errorf("after = %d, want MaxInt64", res.CreditsAfter)
	}
}

func TestNegativeAllowanceIgnored(t *testing.T) {
	e, _ := newEngine(t, credits.WithAllowances(account.Allowances{
		account.PlanFree: -100,
		account.PlanPro:  2500,
	}))
	ctx := context.Background()
	seed(t, e, "user-1", credits.PlanFree, 37)

	res, err := e.ResetMonthlyCredits(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.NewCredits != 50 {
		t.Errorf("new credits = %d, want default 50", res.NewCredits)
	}
	bal, _ := e.GetUserCredits(ctx, "user-1")
	if bal.Credits < 0 {
		t.Errorf("balance = %d, must not be negative", bal.Credits)
	}
}

func TestOversizedHints(t *testing.T) {
	tests := []struct {
		name  string
		op    pricing.Operation
		hints credits.Hints
	}{
		{"images", credits.OperationImageGeneration, credits.Hints{ImageCount: math.MaxInt64/10 + 1}},
		{"video", credits.OperationVideoGeneration, credits.Hints{VideoDurationSeconds: math.MaxInt64 / 25}},
		{"tokens", credits.OperationChat, credits.Hints{EstimatedTokens: math.MaxInt64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t)
			ctx := context.Background()
			seed(t, e, "user-1", credits.PlanFree, 1000)

			if _, err := e.CalculateCost(tt.op, tt.hints); !errors.Is(err, pricing.ErrHintsTooLarge) || !credits.IsValidation(err) {
				t.Errorf("CalculateCost: expected ErrHintsTooLarge, got %v", err)
			}

			_, err := e.DeductCredits(ctx, "user-1", tt.op, credits.DeductOptions{Hints: tt.hints})
			if !errors.Is(err, credits.ErrInvalidInput) || !errors.Is(err, pricing.ErrHintsTooLarge) {
				t.Errorf("DeductCredits: expected ErrHintsTooLarge, got %v", err)
			}
			bal, _ := e.GetUserCredits(ctx, "user-1")
			if bal.Credits != 1000 {
				t.Errorf("balance = %d, want 1000", bal.Credits)
			}
			if got := ledger(t, e, "user-1"); len(got) != 0 {
				t.Errorf("ledger len = %d, want 0", len(got))
			}
		})
	}
}

func TestRejectShortfallStaysPositive(t *testing.T) {
	s := racingStore{Store: memory.New()}
	e := credits.New(s)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	seed(t, e, "user-1", credits.PlanFree, 5)

	res, err := e.DeductCredits(context.Background(), "user-1", credits.OperationChat, credits.DeductOptions{Cost: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected rejection")
	}
	if res.Shortfall != 1 {
		t.Errorf("shortfall = %d, want 1", res.Shortfall)
	}
	if res.CreditsBefore != 100 || res.CreditsAfter != 100 {
		t.Errorf("balances = %d -> %d", res.CreditsBefore, res.CreditsAfter)
	}
}
