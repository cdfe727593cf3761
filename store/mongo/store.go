package mongo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/pricing"
	creditsstore "github.com/xraph/credits/store"
	"github.com/xraph/credits/usage"
)

// Collection name constants.
const (
	colAccounts     = "credits_accounts"
	colUsageRecords = "credits_usage_records"
)

// compile-time interface check
var (
	_ creditsstore.Store = (*Store)(nil)
	_ usage.Summer       = (*Store)(nil)
)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Balance mutations go straight to the collection with FindOneAndUpdate so the
// guard and the update are evaluated by the server as one document operation.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all credits collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("credits/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrAccountExists
		}
		return fmt.Errorf("credits/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) UpdatePlan(ctx context.Context, userID string, plan account.Plan) error {
	res, err := s.mdb.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"user_id": userID}).
		Set("plan", string(plan)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) DecrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error) {
	var m accountModel
	err := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "credits": bson.M{"$gte": amount}},
		bson.M{
			"$inc": bson.M{"credits": -amount},
			"$set": bson.M{"updated_at": now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return &account.Mutation{Before: m.Credits + amount, After: m.Credits}, nil
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("credits/mongo: decrement credits: %w", err)
	}

	// The guard failed: either the account is missing or the balance is short.
	a, getErr := s.GetAccount(ctx, userID)
	if getErr != nil {
		return nil, getErr
	}
	return &account.Mutation{Before: a.Credits, After: a.Credits}, credits.ErrInsufficientCredits
}

func (s *Store) IncrementCredits(ctx context.Context, userID string, amount int64) (*account.Mutation, error) {
	var m accountModel
	err := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "credits": bson.M{"$lte": math.MaxInt64 - amount}},
		bson.M{
			"$inc": bson.M{"credits": amount},
			"$set": bson.M{"updated_at": now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return &account.Mutation{Before: m.Credits - amount, After: m.Credits}, nil
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("credits/mongo: increment credits: %w", err)
	}

	// The guard failed: either the account is missing or the sum would overflow.
	if _, getErr := s.GetAccount(ctx, userID); getErr != nil {
		return nil, getErr
	}
	return nil, credits.ErrBalanceOverflow
}

func (s *Store) SetCredits(ctx context.Context, userID string, value int64) (*account.Mutation, error) {
	var m accountModel
	err := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"credits": value, "updated_at": now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, fmt.Errorf("credits/mongo: set credits: %w", err)
	}
	return &account.Mutation{Before: m.Credits, After: value}, nil
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(ctx context.Context, r *usage.Record) error {
	m := toUsageRecordModel(r)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/mongo: append usage: %w", err)
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	var models []usageRecordModel

	q := s.mdb.NewFind(&models).
		Filter(usageFilter(userID, opts.Filter)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("credits/mongo: query usage: %w", err)
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
	var models []usageRecordModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID, "idempotency_key": key, "success": true}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: find by idempotency key: %w", err)
	}
	if len(models) == 0 {
		return nil, credits.ErrUsageNotFound
	}
	return fromUsageRecordModel(&models[0])
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*usageRecordModel)(nil)).
		Filter(bson.M{"created_at": bson.M{"$lt": before}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("credits/mongo: purge usage: %w", err)
	}
	return res.DeletedCount(), nil
}

// SumUsage aggregates a user's ledger on the server, grouped by operation.
// It returns the same totals as usage.Summarize without transferring records.
func (s *Store) SumUsage(ctx context.Context, userID string, filter usage.Filter) (*usage.Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: usageFilter(userID, filter)}},
		{{Key: "$group", Value: bson.M{
			"_id":       "$operation",
			"credits":   bson.M{"$sum": "$credits_used"},
			"count":     bson.M{"$sum": 1},
			"succeeded": bson.M{"$sum": bson.M{"$cond": bson.A{"$success", 1, 0}}},
		}}},
	}

	cursor, err := s.mdb.Collection(colUsageRecords).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: sum usage: %w", err)
	}
	defer cursor.Close(ctx) //nolint:errcheck // best-effort cursor cleanup

	var rows []struct {
		Operation string `bson:"_id"`
		Credits   int64  `bson:"credits"`
		Count     int64  `bson:"count"`
		Succeeded int64  `bson:"succeeded"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("credits/mongo: decode usage sums: %w", err)
	}

	stats := usage.Summarize(nil)
	for _, row := range rows {
		stats.OperationBreakdown[pricing.Operation(row.Operation)] = row.Credits
		stats.TotalCreditsUsed += row.Credits
		stats.TotalOperations += row.Count
		stats.SuccessfulOperations += row.Succeeded
	}
	if stats.TotalOperations > 0 {
		stats.SuccessRate = float64(stats.SuccessfulOperations) / float64(stats.TotalOperations)
	}
	return stats, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

func usageFilter(userID string, f usage.Filter) bson.M {
	filter := bson.M{"user_id": userID}
	if f.Operation != "" {
		filter["operation"] = string(f.Operation)
	}
	if !f.Start.IsZero() || !f.End.IsZero() {
		window := bson.M{}
		if !f.Start.IsZero() {
			window["$gte"] = f.Start
		}
		if !f.End.IsZero() {
			window["$lte"] = f.End
		}
		filter["created_at"] = window
	}
	return filter
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all credits collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "workspace_id", Value: 1}}},
		},
		colUsageRecords: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "operation", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetSparse(true),
			},
		},
	}
}
