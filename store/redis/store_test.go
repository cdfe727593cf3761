package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/store"
	redisstore "github.com/xraph/credits/store/redis"
	"github.com/xraph/credits/store/storetest"
	"github.com/xraph/credits/usage"
)

func newTestStore(t *testing.T, opts ...redisstore.Option) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	s := redisstore.New(client, opts...)
	t.Cleanup(func() {
		s.Close() //nolint:errcheck // best-effort test cleanup
		server.Close()
	})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s, server
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer server.Close()

	a := redisstore.New(goredis.NewClient(&goredis.Options{Addr: server.Addr()}), redisstore.WithPrefix("tenant-a"))
	b := redisstore.New(goredis.NewClient(&goredis.Options{Addr: server.Addr()}), redisstore.WithPrefix("tenant-b"))
	defer a.Close() //nolint:errcheck // best-effort test cleanup
	defer b.Close() //nolint:errcheck // best-effort test cleanup

	now := time.Now().UTC()
	if err := a.CreateAccount(ctx, &account.Account{
		ID: id.NewAccountID(), UserID: "user-1", Credits: 10, Plan: account.PlanFree, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := b.GetAccount(ctx, "user-1"); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound under another prefix, got %v", err)
	}
	if !server.Exists("tenant-a:account:user-1") {
		t.Error("expected account hash under tenant-a prefix")
	}
}

func TestPurgeDropsIdempotencyPointer(t *testing.T) {
	ctx := context.Background()
	s, server := newTestStore(t)

	old := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	r := &usage.Record{
		ID:             id.NewUsageRecordID(),
		UserID:         "user-1",
		Operation:      pricing.OperationChat,
		Provider:       "openai",
		CreditsUsed:    1,
		CreditsBefore:  5,
		CreditsAfter:   4,
		Success:        true,
		IdempotencyKey: "req-1",
		CreatedAt:      old,
	}
	if err := s.AppendUsage(ctx, r); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "user-1", "req-1"); err != nil {
		t.Fatalf("FindByIdempotencyKey before purge: %v", err)
	}

	n, err := s.PurgeUsage(ctx, old.Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeUsage: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "user-1", "req-1"); !errors.Is(err, credits.ErrUsageNotFound) {
		t.Errorf("expected ErrUsageNotFound after purge, got %v", err)
	}
	if server.Exists("credits:usage:record:" + r.ID.String()) {
		t.Error("record document survived purge")
	}
}
