package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	creditsstore "github.com/xraph/credits/store"
	"github.com/xraph/credits/usage"
)

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Balance mutations are single UPDATE statements with RETURNING, so the
// balance guard and the write happen under one row lock.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("credits/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("credits/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	m := toAccountModel(a)
	res, err := s.pg.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/postgres: create account: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credits/postgres: create account: %w", err)
	}
	if rows == 0 {
		return credits.ErrAccountExists
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	m := new(accountModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, fmt.Errorf("credits/postgres: get account: %w", err)
	}
	return fromAccountModel(m)
}

func (s *Store) UpdatePlan(ctx context.Context, userID string, plan account.Plan) error {
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("plan = $1", string(plan)).
		Set("updated_at = $2", now()).
		Where("user_id = $3", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/postgres: update plan: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credits/postgres: update plan: %w", err)
	}
	if rows == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) DecrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error) {
	var after int64
	err := s.pg.NewRaw(`
		UPDATE credits_accounts SET credits = credits - $1, updated_at = $2
		WHERE user_id = $3 AND credits >= $1
		RETURNING credits
	`, amount, now(), userID).Scan(ctx, &after)
	if err == nil {
		return &account.Mutation{Before: after + amount, After: after}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("credits/postgres: decrement credits: %w", err)
	}

	// No row passed the guard: either the account is missing or the balance is short.
	a, getErr := s.GetAccount(ctx, userID)
	if getErr != nil {
		return nil, getErr
	}
	return &account.Mutation{Before: a.Credits, After: a.Credits}, credits.ErrInsufficientCredits
}

func (s *Store) IncrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error) {
	var after int64
	err := s.pg.NewRaw(`
		UPDATE credits_accounts SET credits = credits + $1, updated_at = $2
		WHERE user_id = $3 AND credits <= $4
		RETURNING credits
	`, amount, now(), userID, math.MaxInt64-amount).Scan(ctx, &after)
	if err == nil {
		return &account.Mutation{Before: after - amount, After: after}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("credits/postgres: increment credits: %w", err)
	}

	// No row passed the guard: either the account is missing or the sum would overflow.
	if _, getErr := s.GetAccount(ctx, userID); getErr != nil {
		return nil, getErr
	}
	return nil, credits.ErrBalanceOverflow
}

func (s *Store) SetCredits(ctx context.Context, userID string, value int64) (*account.Mutation, error) {
	var before int64
	err := s.pg.NewRaw(`
		WITH prev AS (
			SELECT user_id, credits FROM credits_accounts WHERE user_id = $3 FOR UPDATE
		)
		UPDATE credits_accounts a SET credits = $1, updated_at = $2
		FROM prev
		WHERE a.user_id = prev.user_id
		RETURNING prev.credits
	`, value, now(), userID).Scan(ctx, &before)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, fmt.Errorf("credits/postgres: set credits: %w", err)
	}
	return &account.Mutation{Before: before, After: value}, nil
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(ctx context.Context, r *usage.Record) error {
	m := toUsageRecordModel(r)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("credits/postgres: append usage: %w", err)
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	var models []usageRecordModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	argIdx := 1
	if opts.Operation != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("operation = $%d", argIdx), string(opts.Operation))
	}
	if !opts.Start.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), opts.Start)
	}
	if !opts.End.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("credits/postgres: query usage: %w", err)
	}

	result := make([]*usage.Record, len(models))
	for i := range models {
		r, err := fromUsageRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, key string) (*usage.Record, error) {
	m := new(usageRecordModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Where("idempotency_key = $2", key).
		Where("success = $3", true).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrUsageNotFound
		}
		return nil, fmt.Errorf("credits/postgres: find by idempotency key: %w", err)
	}
	return fromUsageRecordModel(m)
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pg.NewDelete((*usageRecordModel)(nil)).
		Where("created_at < $1", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("credits/postgres: purge usage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("credits/postgres: purge usage: %w", err)
	}
	return rows, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
