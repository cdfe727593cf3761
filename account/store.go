// Package account defines credit accounts, plan allowances and the storage
// primitives that mutate balances.
package account

import "context"

// Store persists accounts. Every balance mutation is a single atomic
// operation in the backing store; implementations must not read, compare in
// Go and then write.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, userID string) (*Account, error)
	UpdatePlan(ctx context.Context, userID string, plan Plan) error

	// DecrementCredits subtracts amount only if the balance is at least amount.
	// When the condition fails it returns credits.ErrInsufficientCredits with a
	// Mutation whose Before and After both hold the balance observed afterwards.
	DecrementCredits(ctx context.Context, userID string, amount int64) (*Mutation, error)

	// IncrementCredits adds amount to the balance. It returns
	// credits.ErrBalanceOverflow without writing when the result would not fit
	// in an int64.
	IncrementCredits(ctx context.Context, userID string, amount int64) (*Mutation, error)

	// SetCredits overwrites the balance.
	SetCredits(ctx context.Context, userID string, credits int64) (*Mutation, error)
}
