package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	creditsstore "github.com/xraph/credits/store"
	"github.com/xraph/credits/usage"
)

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// SQLite serializes writers, so a guarded UPDATE with RETURNING is enough to
// keep the balance check and the write together.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("credits/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("credits/sqlite: migration failed: %w", err)
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
	res, err := s.sdb.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/sqlite: create account: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credits/sqlite: create account: %w", err)
	}
	if rows == 0 {
		return credits.ErrAccountExists
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, fmt.Errorf("credits/sqlite: get account: %w", err)
	}
	return fromAccountModel(m)
}

func (s *Store) UpdatePlan(ctx context.Context, userID string, plan account.Plan) error {
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("plan = ?", string(plan)).
		Set("updated_at = ?", now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/sqlite: update plan: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credits/sqlite: update plan: %w", err)
	}
	if rows == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) DecrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error) {
	var after int64
	err := s.sdb.NewRaw(`
		UPDATE credits_accounts SET credits = credits - ?, updated_at = ?
		WHERE user_id = ? AND credits >= ?
		RETURNING credits
	`, amount, now(), userID, amount).Scan(ctx, &after)
	if err == nil {
		return &account.Mutation{Before: after + amount, After: after}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("credits/sqlite: decrement credits: %w", err)
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
	err := s.sdb.NewRaw(`
		UPDATE credits_accounts SET credits = credits + ?, updated_at = ?
		WHERE user_id = ? AND credits <= ?
		RETURNING credits
	`, amount, now(), userID, math.MaxInt64-amount).Scan(ctx, &after)
	if err == nil {
		return &account.Mutation{Before: after - amount, After: after}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("credits/sqlite: increment credits: %w", err)
	}

	// No row passed the guard: either the account is missing or the sum would overflow.
	if _, getErr := s.GetAccount(ctx, userID); getErr != nil {
		return nil, getErr
	}
	return nil, credits.ErrBalanceOverflow
}

// setCreditsAttempts bounds the compare-and-swap loop in SetCredits.
const setCreditsAttempts = 8

func (s *Store) SetCredits(ctx context.Context, userID string, value int64) (*account.Mutation, error) {
	// RETURNING only sees the new row, so the previous balance is captured by
	// reading first and swapping only if nothing changed in between.
	for range setCreditsAttempts {
		a, err := s.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		res, err := s.sdb.NewUpdate((*accountModel)(nil)).
			Set("credits = ?", value).
			Set("updated_at = ?", now()).
			Where("user_id = ?", userID).
			Where("credits = ?", a.Credits).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("credits/sqlite: set credits: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("credits/sqlite: set credits: %w", err)
		}
		if rows == 1 {
			return &account.Mutation{Before: a.Credits, After: value}, nil
		}
	}
	return nil, fmt.Errorf("credits/sqlite: set credits: balance for %q kept changing", userID)
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(ctx context.Context, r *usage.Record) error {
	m := toUsageRecordModel(r)
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("credits/sqlite: append usage: %w", err)
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	var models []usageRecordModel
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Operation != "" {
		q = q.Where("operation = ?", string(opts.Operation))
	}
	if !opts.Start.IsZero() {
		q = q.Where("created_at >= ?", opts.Start)
	}
	if !opts.End.IsZero() {
		q = q.Where("created_at <= ?", opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("credits/sqlite: query usage: %w", err)
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
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Where("idempotency_key = ?", key).
		Where("success = ?", true).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrUsageNotFound
		}
		return nil, fmt.Errorf("credits/sqlite: find by idempotency key: %w", err)
	}
	return fromUsageRecordModel(m)
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*usageRecordModel)(nil)).
		Where("created_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("credits/sqlite: purge usage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("credits/sqlite: purge usage: %w", err)
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
