// Package redis implements store.Store on Redis.
//
// Accounts are hashes mutated by Lua scripts so every balance change is a
// single atomic server-side step. Usage records are JSON documents indexed by
// a per-user sorted set scored by creation time in microseconds.
package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	creditsstore "github.com/xraph/credits/store"
	"github.com/xraph/credits/usage"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "credits"

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

// Store implements store.Store using Redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace. Stores sharing a Redis with different
// prefixes never see each other's data.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a Redis store over client. The store takes ownership of the
// client and closes it in Close.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying Redis client for direct access.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate preloads the Lua scripts. Redis has no schema to create.
func (s *Store) Migrate(ctx context.Context) error {
	for _, script := range []*goredis.Script{
		createAccountScript, decrementScript, incrementScript, setScript, updatePlanScript, delIfEqualScript,
	} {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("credits/redis: load script: %w", err)
		}
	}
	return nil
}

// Ping checks server connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	created, err := createAccountScript.Run(ctx, s.client, []string{s.accountKey(a.UserID)},
		"id", a.ID.String(),
		"user_id", a.UserID,
		"workspace_id", a.WorkspaceID,
		"credits", a.Credits,
		"plan", string(a.Plan),
		"created_at", formatTime(a.CreatedAt),
		"updated_at", formatTime(a.UpdatedAt),
	).Int64()
	if err != nil {
		return fmt.Errorf("credits/redis: create account: %w", err)
	}
	if created == 0 {
		return credits.ErrAccountExists
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("credits/redis: get account: %w", err)
	}
	if len(fields) == 0 {
		return nil, credits.ErrAccountNotFound
	}
	return accountFromHash(fields)
}

func (s *Store) UpdatePlan(ctx context.Context, userID string, plan account.Plan) error {
	updated, err := updatePlanScript.Run(ctx, s.client, []string{s.accountKey(userID)},
		string(plan), formatTime(now()),
	).Int64()
	if err != nil {
		return fmt.Errorf("credits/redis: update plan: %w", err)
	}
	if updated == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) DecrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error) {
	status, value, err := s.runBalance(ctx, decrementScript, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("credits/redis: decrement credits: %w", err)
	}
	switch status {
	case statusMissing:
		return nil, credits.ErrAccountNotFound
	case statusInsufficient:
		return &account.Mutation{Before: value, After: value}, credits.ErrInsufficientCredits
	}
	return &account.Mutation{Before: value + amount, After: value}, nil
}

func (s *Store) IncrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error) {
	status, value, err := s.runBalance(ctx, incrementScript, userID, amount, math.MaxInt64-amount)
	if err != nil {
		return nil, fmt.Errorf("credits/redis: increment credits: %w", err)
	}
	switch status {
	case statusMissing:
		return nil, credits.ErrAccountNotFound
	case statusOverflow:
		return nil, credits.ErrBalanceOverflow
	}
	return &account.Mutation{Before: value - amount, After: value}, nil
}

func (s *Store) SetCredits(ctx context.Context, userID string, value int64) (*account.Mutation, error) {
	status, before, err := s.runBalance(ctx, setScript, userID, value)
	if err != nil {
		return nil, fmt.Errorf("credits/redis: set credits: %w", err)
	}
	if status == statusMissing {
		return nil, credits.ErrAccountNotFound
	}
	return &account.Mutation{Before: before, After: value}, nil
}

func (s *Store) runBalance(ctx context.Context, script *goredis.Script, userID string, arg int64, extra ...any) (status, value int64, err error) {
	args := append([]any{arg, formatTime(now())}, extra...)
	res, err := script.Run(ctx, s.client, []string{s.accountKey(userID)}, args...).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply %v", res)
	}
	return res[0], res[1], nil
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(ctx context.Context, r *usage.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("credits/redis: encode usage record: %w", err)
	}

	recordID := r.ID.String()
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(recordID), raw, 0)
		pipe.ZAdd(ctx, s.userRecordsKey(r.UserID), goredis.Z{
			Score:  float64(r.CreatedAt.UnixMicro()),
			Member: recordID,
		})
		pipe.SAdd(ctx, s.usersKey(), r.UserID)
		if r.Success && r.IdempotencyKey != "" {
			pipe.Set(ctx, s.idempotencyKey(r.UserID, r.IdempotencyKey), recordID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("credits/redis: append usage: %w", err)
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	window := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !opts.Start.IsZero() {
		window.Min = strconv.FormatInt(opts.Start.UnixMicro(), 10)
	}
	if !opts.End.IsZero() {
		window.Max = strconv.FormatInt(opts.End.UnixMicro(), 10)
	}

	ids, err := s.client.ZRevRangeByScore(ctx, s.userRecordsKey(userID), window).Result()
	if err != nil {
		return nil, fmt.Errorf("credits/redis: query usage: %w", err)
	}

	records, err := s.loadRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Scores are truncated to microseconds, so the filter is reapplied on the
	// decoded records before paging.
	matched := records[:0]
	for _, r := range records {
		if opts.Match(r) {
			matched = append(matched, r)
		}
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*usage.Record{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, key string) (*usage.Record, error) {
	recordID, err := s.client.Get(ctx, s.idempotencyKey(userID, key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, credits.ErrUsageNotFound
		}
		return nil, fmt.Errorf("credits/redis: find by idempotency key: %w", err)
	}

	records, err := s.loadRecords(ctx, []string{recordID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, credits.ErrUsageNotFound
	}
	return records[0], nil
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	users, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("credits/redis: purge usage: %w", err)
	}

	cutoff := &goredis.ZRangeBy{Min: "-inf", Max: "(" + strconv.FormatInt(before.UnixMicro(), 10)}

	var purged int64
	for _, userID := range users {
		ids, err := s.client.ZRangeByScore(ctx, s.userRecordsKey(userID), cutoff).Result()
		if err != nil {
			return purged, fmt.Errorf("credits/redis: purge usage: %w", err)
		}
		if len(ids) == 0 {
			continue
		}

		records, err := s.loadRecords(ctx, ids)
		if err != nil {
			return purged, err
		}

		_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			members := make([]any, len(ids))
			for i, recordID := range ids {
				members[i] = recordID
				pipe.Del(ctx, s.recordKey(recordID))
			}
			pipe.ZRem(ctx, s.userRecordsKey(userID), members...)
			return nil
		})
		if err != nil {
			return purged, fmt.Errorf("credits/redis: purge usage: %w", err)
		}
		purged += int64(len(ids))

		for _, r := range records {
			if r.IdempotencyKey == "" {
				continue
			}
			err := delIfEqualScript.Run(ctx, s.client,
				[]string{s.idempotencyKey(userID, r.IdempotencyKey)}, r.ID.String(),
			).Err()
			if err != nil {
				return purged, fmt.Errorf("credits/redis: purge idempotency key: %w", err)
			}
		}
	}
	return purged, nil
}

// ==================== Helpers ====================

func (s *Store) loadRecords(ctx context.Context, ids []string) ([]*usage.Record, error) {
	if len(ids) == 0 {
		return []*usage.Record{}, nil
	}
	keys := make([]string, len(ids))
	for i, recordID := range ids {
		keys[i] = s.recordKey(recordID)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("credits/redis: load usage records: %w", err)
	}

	records := make([]*usage.Record, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		r := new(usage.Record)
		if err := json.Unmarshal([]byte(raw), r); err != nil {
			return nil, fmt.Errorf("credits/redis: decode usage record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Store) accountKey(userID string) string {
	return s.prefix + ":account:" + userID
}

func (s *Store) recordKey(recordID string) string {
	return s.prefix + ":usage:record:" + recordID
}

func (s *Store) userRecordsKey(userID string) string {
	return s.prefix + ":usage:user:" + userID
}

func (s *Store) usersKey() string {
	return s.prefix + ":usage:users"
}

func (s *Store) idempotencyKey(userID, key string) string {
	return s.prefix + ":usage:idem:" + userID + ":" + key
}

func accountFromHash(fields map[string]string) (*account.Account, error) {
	accountID, err := id.ParseAccountID(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("credits/redis: parse account id %q: %w", fields["id"], err)
	}
	balance, err := strconv.ParseInt(fields["credits"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("credits/redis: parse credits: %w", err)
	}
	createdAt, err := parseTime(fields["created_at"])
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(fields["updated_at"])
	if err != nil {
		return nil, err
	}
	return &account.Account{
		ID:          accountID,
		UserID:      fields["user_id"],
		WorkspaceID: fields["workspace_id"],
		Credits:     balance,
		Plan:        account.Plan(fields["plan"]),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("credits/redis: parse time %q: %w", s, err)
	}
	return t, nil
}
