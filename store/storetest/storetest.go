// Package storetest holds the behavioural suite every store.Store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/usage"
)

// Factory returns a fresh, migrated, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGetAccount", testCreateAndGet},
		{"DuplicateAccount", testDuplicate},
		{"MissingAccount", testMissing},
		{"UpdatePlan", testUpdatePlan},
		{"DecrementCredits", testDecrement},
		{"DecrementInsufficient", testDecrementInsufficient},
		{"IncrementAndSetCredits", testIncrementAndSet},
		{"IncrementOverflow", testIncrementOverflow},
		{"ConcurrentDecrement", testConcurrentDecrement},
		{"AppendAndQueryUsage", testAppendAndQuery},
		{"QueryUsagePaging", testQueryPaging},
		{"FindByIdempotencyKey", testFindByIdempotencyKey},
		{"PurgeUsage", testPurge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func newAccount(userID string, credits int64) *account.Account {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &account.Account{
		ID:        id.NewAccountID(),
		UserID:    userID,
		Credits:   credits,
		Plan:      account.PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func mustCreate(t *testing.T, s store.Store, userID string, credits int64) {
	t.Helper()
	if err := s.CreateAccount(context.Background(), newAccount(userID, credits)); err != nil {
		t.Fatalf("CreateAccount(%s): %v", userID, err)
	}
}

func balance(t *testing.T, s store.Store, userID string) int64 {
	t.Helper()
	a, err := s.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", userID, err)
	}
	return a.Credits
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newAccount("user-1", 50)
	a.WorkspaceID = "ws-1"
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	got, err := s.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.ID.String() != a.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, a.ID)
	}
	if got.Credits != 50 || got.Plan != account.PlanFree || got.WorkspaceID != "ws-1" {
		t.Errorf("got %+v", got)
	}
}

func testDuplicate(t *testing.T, s store.Store) {
	mustCreate(t, s, "user-1", 50)
	err := s.CreateAccount(context.Background(), newAccount("user-1", 10))
	if !errors.Is(err, credits.ErrAccountExists) {
		t.Errorf("expected ErrAccountExists, got %v", err)
	}
}

func testMissing(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetAccount(ctx, "ghost"); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("GetAccount: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := s.DecrementCredits(ctx, "ghost", 1); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("DecrementCredits: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := s.IncrementCredits(ctx, "ghost", 1); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("IncrementCredits: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := s.SetCredits(ctx, "ghost", 1); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("SetCredits: expected ErrAccountNotFound, got %v", err)
	}
	if err := s.UpdatePlan(ctx, "ghost", account.PlanPro); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("UpdatePlan: expected ErrAccountNotFound, got %v", err)
	}
}

func testUpdatePlan(t *testing.T, s store.Store) {
	mustCreate(t, s, "user-1", 50)
	if err := s.UpdatePlan(context.Background(), "user-1", account.PlanPro); err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	a, err := s.GetAccount(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Plan != account.PlanPro {
		t.Errorf("plan = %s, want pro", a.Plan)
	}
}

func testDecrement(t *testing.T, s store.Store) {
	mustCreate(t, s, "user-1", 12)

	m, err := s.DecrementCredits(context.Background(), "user-1", 5)
	if err != nil {
		t.Fatalf("DecrementCredits: %v", err)
	}
	if m.Before != 12 || m.After != 7 {
		t.Errorf("mutation = %+v, want 12 -> 7", m)
	}
	if got := balance(t, s, "user-1"); got != 7 {
		t.Errorf("balance = %d, want 7", got)
	}

	// Draining to exactly zero is allowed.
	m, err = s.DecrementCredits(context.Background(), "user-1", 7)
	if err != nil {
		t.Fatalf("DecrementCredits to zero: %v", err)
	}
	if m.After != 0 {
		t.Errorf("after = %d, want 0", m.After)
	}
}

func testDecrementInsufficient(t *testing.T, s store.Store) {
	mustCreate(t, s, "user-1", 3)

	m, err := s.DecrementCredits(context.Background(), "user-1", 5)
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if m == nil || m.Before != 3 || m.After != 3 {
		t.Errorf("mutation = %+v, want observed balance 3", m)
	}
	if got := balance(t, s, "user-1"); got != 3 {
		t.Errorf("balance = %d, want unchanged 3", got)
	}
}

func testIncrementAndSet(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "user-1", 10)

	m, err := s.IncrementCredits(ctx, "user-1", 100)
	if err != nil {
		t.Fatalf("IncrementCredits: %v", err)
	}
	if m.Before != 10 || m.After != 110 {
		t.Errorf("increment mutation = %+v", m)
	}

	m, err = s.SetCredits(ctx, "user-1", 500)
	if err != nil {
		t.Fatalf("SetCredits: %v", err)
	}
	if m.Before != 110 || m.After != 500 {
		t.Errorf("set mutation = %+v", m)
	}
	if got := balance(t, s, "user-1"); got != 500 {
		t.Errorf("balance = %d, want 500", got)
	}
}

func testIncrementOverflow(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, "user-1", 50)

	if _, err := s.IncrementCredits(ctx, "user-1", math.MaxInt64); !errors.Is(err, credits.ErrBalanceOverflow) {
		t.Errorf("expected ErrBalanceOverflow, got %v", err)
	}
	if got := balance(t, s, "user-1"); got != 50 {
		t.Errorf("balance = %d after rejected increment, want 50", got)
	}

	m, err := s.IncrementCredits(ctx, "user-1", math.MaxInt64-50)
	if err != nil {
		t.Fatalf("IncrementCredits to the limit: %v", err)
	}
	if m.After != math.MaxInt64 {
		t.Errorf("after = %d, want MaxInt64", m.After)
	}
}

func testConcurrentDecrement(t *testing.T, s store.Store) {
	const (
		start   = 100
		workers = 40
		cost    = 3
	)
	mustCreate(t, s, "user-1", start)

	var g errgroup.Group
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := s.DecrementCredits(context.Background(), "user-1", cost)
			switch {
			case err == nil:
				results[i] = true
			case errors.Is(err, credits.ErrInsufficientCredits):
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("DecrementCredits: %v", err)
	}

	var succeeded int64
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != start/cost {
		t.Errorf("succeeded = %d, want %d", succeeded, start/cost)
	}
	if got := balance(t, s, "user-1"); got != start-succeeded*cost {
		t.Errorf("balance = %d, want %d", got, start-succeeded*cost)
	}
}

func newRecord(userID string, op pricing.Operation, used int64, at time.Time) *usage.Record {
	return &usage.Record{
		ID:            id.NewUsageRecordID(),
		UserID:        userID,
		Operation:     op,
		Provider:      "openai",
		CreditsUsed:   used,
		CreditsBefore: 100,
		CreditsAfter:  100 - used,
		Success:       true,
		CreatedAt:     at,
	}
}

func testAppendAndQuery(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*usage.Record{
		newRecord("user-1", pricing.OperationChat, 2, base),
		newRecord("user-1", pricing.OperationImageGeneration, 10, base.Add(time.Hour)),
		newRecord("user-1", pricing.OperationChat, 3, base.Add(2*time.Hour)),
		newRecord("user-2", pricing.OperationChat, 1, base),
	}
	records[2].Metadata = map[string]string{"request_id": "r-3"}
	for _, r := range records {
		if err := s.AppendUsage(ctx, r); err != nil {
			t.Fatalf("AppendUsage: %v", err)
		}
	}

	got, err := s.QueryUsage(ctx, "user-1", usage.QueryOpts{})
	if err != nil {
		t.Fatalf("QueryUsage: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID.String() != records[2].ID.String() {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}
	if got[0].Metadata["request_id"] != "r-3" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}

	chats, err := s.QueryUsage(ctx, "user-1", usage.QueryOpts{
		Filter: usage.Filter{Operation: pricing.OperationChat},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Errorf("chat records = %d, want 2", len(chats))
	}

	windowed, err := s.QueryUsage(ctx, "user-1", usage.QueryOpts{
		Filter: usage.Filter{Start: base.Add(time.Hour), End: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(windowed) != 1 || windowed[0].Operation != pricing.OperationImageGeneration {
		t.Errorf("inclusive window returned %d records", len(windowed))
	}
}

func testQueryPaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := newRecord("user-1", pricing.OperationChat, int64(i+1), base.Add(time.Duration(i)*time.Minute))
		if err := s.AppendUsage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.QueryUsage(ctx, "user-1", usage.QueryOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("len = %d, want 2", len(page))
	}
	if page[0].CreditsUsed != 4 || page[1].CreditsUsed != 3 {
		t.Errorf("page = [%d %d], want [4 3]", page[0].CreditsUsed, page[1].CreditsUsed)
	}
}

func testFindByIdempotencyKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	failed := newRecord("user-1", pricing.OperationChat, 0, now)
	failed.Success = false
	failed.CreditsAfter = failed.CreditsBefore
	failed.IdempotencyKey = "req-1"

	ok := newRecord("user-1", pricing.OperationChat, 2, now.Add(time.Second))
	ok.IdempotencyKey = "req-1"

	for _, r := range []*usage.Record{failed, ok} {
		if err := s.AppendUsage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindByIdempotencyKey(ctx, "user-1", "req-1")
	if err != nil {
		t.Fatalf("FindByIdempotencyKey: %v", err)
	}
	if got.ID.String() != ok.ID.String() {
		t.Errorf("found %s, want successful record %s", got.ID, ok.ID)
	}

	if _, err := s.FindByIdempotencyKey(ctx, "user-2", "req-1"); !errors.Is(err, credits.ErrUsageNotFound) {
		t.Errorf("other user: expected ErrUsageNotFound, got %v", err)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "user-1", "req-2"); !errors.Is(err, credits.ErrUsageNotFound) {
		t.Errorf("unknown key: expected ErrUsageNotFound, got %v", err)
	}
}

func testPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{cutoff.Add(-48 * time.Hour), cutoff.Add(-time.Hour), cutoff, cutoff.Add(time.Hour)} {
		if err := s.AppendUsage(ctx, newRecord("user-1", pricing.OperationChat, 1, at)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PurgeUsage(ctx, cutoff)
	if err != nil {
		t.Fatalf("PurgeUsage: %v", err)
	}
	if n != 2 {
		t.Errorf("purged = %d, want 2", n)
	}

	rest, err := s.QueryUsage(ctx, "user-1", usage.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Errorf("remaining = %d, want 2", len(rest))
	}
}
