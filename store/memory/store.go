// Package memory provides an in-process store for tests and single-node use.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/usage"
)

var _ store.Store = (*Store)(nil)

// Store keeps accounts and the usage ledger in maps guarded by one mutex.
// Values are copied on the way in and out so callers never share state
// with the store.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*account.Account
	records  []*usage.Record
	closed   bool

	now func() time.Time
}

// New returns an empty memory store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*account.Account),
		now:      time.Now,
	}
}

// ──────────────────────────────────────────────────
// Account Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return credits.ErrStoreClosed
	}
	if _, exists := s.accounts[a.UserID]; exists {
		return credits.ErrAccountExists
	}
	cp := *a
	s.accounts[a.UserID] = &cp
	return nil
}

func (s *Store) GetAccount(_ context.Context, userID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	a, ok := s.accounts[userID]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpdatePlan(_ context.Context, userID string, plan account.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.lookup(userID)
	if err != nil {
		return err
	}
	a.Plan = plan
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) DecrementCredits(_ context.Context, userID string, amount int64) (*account.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}
	if a.Credits < amount {
		return &account.Mutation{Before: a.Credits, After: a.Credits}, credits.ErrInsufficientCredits
	}
	before := a.Credits
	a.Credits -= amount
	a.UpdatedAt = s.now().UTC()
	return &account.Mutation{Before: before, After: a.Credits}, nil
}

func (s *Store) IncrementCredits(_ context.Context, userID string, amount int64) (*account.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}
	if a.Credits > math.MaxInt64-amount {
		return nil, credits.ErrBalanceOverflow
	}
	before := a.Credits
	a.Credits += amount
	a.UpdatedAt = s.now().UTC()
	return &account.Mutation{Before: before, After: a.Credits}, nil
}

func (s *Store) SetCredits(_ context.Context, userID string, value int64) (*account.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}
	before := a.Credits
	a.Credits = value
	a.UpdatedAt = s.now().UTC()
	return &account.Mutation{Before: before, After: a.Credits}, nil
}

// lookup must be called with s.mu held for writing.
func (s *Store) lookup(userID string) (*account.Account, error) {
	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	a, ok := s.accounts[userID]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}
	return a, nil
}

// ──────────────────────────────────────────────────
// Usage Store implementation
// ──────────────────────────────────────────────────

func (s *Store) AppendUsage(_ context.Context, r *usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return credits.ErrStoreClosed
	}
	s.records = append(s.records, cloneRecord(r))
	return nil
}

func (s *Store) QueryUsage(_ context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}

	var matched []*usage.Record
	// Walk backwards so equal timestamps keep newest-appended first.
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.UserID == userID && opts.Match(r) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*usage.Record{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	out := make([]*usage.Record, len(matched))
	for i, r := range matched {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

func (s *Store) FindByIdempotencyKey(_ context.Context, userID, key string) (*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.UserID == userID && r.IdempotencyKey == key && r.Success {
			return cloneRecord(r), nil
		}
	}
	return nil, credits.ErrUsageNotFound
}

func (s *Store) PurgeUsage(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, credits.ErrStoreClosed
	}

	kept := s.records[:0]
	var purged int64
	for _, r := range s.records {
		if r.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = nil
	}
	s.records = kept
	return purged, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return credits.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRecord(r *usage.Record) *usage.Record {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
