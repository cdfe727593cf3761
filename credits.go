package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/store"
)

// DefaultStartingCredits is the balance granted to newly created accounts.
const DefaultStartingCredits int64 = 50

// Engine meters AI operations against per-user credit balances.
//
// Engine holds no balance state of its own. Every balance change is a single
// atomic store primitive, so any number of engines in any number of processes
// may share one store.
type Engine struct {
	store      store.Store
	plugins    *plugin.Registry
	logger     *slog.Logger
	calculator *pricing.Calculator
	allowances account.Allowances
	now        func() time.Time

	startingCredits int64
	skipMigrate     bool
}

// New creates a new Engine over the given store.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		calculator:      pricing.NewCalculator(nil),
		allowances:      account.DefaultAllowances(),
		now:             time.Now,
		startingCredits: DefaultStartingCredits,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCalculator replaces the default cost calculator.
func WithCalculator(c *pricing.Calculator) Option {
	return func(e *Engine) {
		if c != nil {
			e.calculator = c
		}
	}
}

// WithAllowances overrides monthly allowances for the given plans. Plans not
// present in a keep their default allowance. Negative allowances are ignored.
func WithAllowances(a account.Allowances) Option {
	return func(e *Engine) {
		for p, n := range a {
			if n >= 0 {
				e.allowances[p] = n
			}
		}
	}
}

// WithStartingCredits sets the balance seeded into new accounts.
func WithStartingCredits(n int64) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.startingCredits = n
		}
	}
}

// WithClock sets the time source used for record and account timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithoutMigrate makes Start skip store migration. Use it when the schema is
// managed outside the engine.
func WithoutMigrate() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx)

	e.logger.Info("credits engine started",
		"plugins", e.plugins.Count(),
		"starting_credits", e.startingCredits,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// CreateAccount opens an account for userID seeded with the starting balance.
// An empty plan means the free plan.
func (e *Engine) CreateAccount(ctx context.Context, userID, workspaceID string, plan account.Plan) (*account.Account, error) {
	if userID == "" {
		return nil, invalid("user_id", "must not be empty", nil)
	}
	if plan == "" {
		plan = account.PlanFree
	}
	if !plan.Valid() {
		return nil, invalid("plan", fmt.Sprintf("unknown plan %q", plan), ErrInvalidPlan)
	}

	now := e.now().UTC()
	a := &account.Account{
		ID:          id.NewAccountID(),
		UserID:      userID,
		WorkspaceID: workspaceID,
		Credits:     e.startingCredits,
		Plan:        plan,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	e.plugins.EmitAccountCreated(ctx, a)
	e.logger.Info("account created",
		"user_id", userID,
		"plan", plan,
		"credits", a.Credits,
	)

	return a, nil
}

// ChangePlan moves the account to a different plan. The balance is not
// touched; the new allowance applies from the next monthly reset.
func (e *Engine) ChangePlan(ctx context.Context, userID string, plan account.Plan) error {
	if userID == "" {
		return invalid("user_id", "must not be empty", nil)
	}
	if !plan.Valid() {
		return invalid("plan", fmt.Sprintf("unknown plan %q", plan), ErrInvalidPlan)
	}
	return e.store.UpdatePlan(ctx, userID, plan)
}

// Balance is the display view of an account.
type Balance struct {
	Credits          int64        `json:"credits"`
	Plan             account.Plan `json:"plan"`
	MonthlyAllowance int64        `json:"monthly_allowance"`
}

// GetUserCredits returns the balance, plan and monthly allowance for userID.
// An unknown user yields a zero balance on the free plan rather than an
// error; only infrastructure failures are returned.
func (e *Engine) GetUserCredits(ctx context.Context, userID string) (*Balance, error) {
	a, err := e.store.GetAccount(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return &Balance{
			Plan:             account.PlanFree,
			MonthlyAllowance: e.allowances.MonthlyAllowance(account.PlanFree),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &Balance{
		Credits:          a.Credits,
		Plan:             a.Plan,
		MonthlyAllowance: e.allowances.MonthlyAllowance(a.Plan),
	}, nil
}

// CreditCheck is the outcome of an advisory balance check.
type CreditCheck struct {
	HasCredits      bool  `json:"has_credits"`
	CurrentCredits  int64 `json:"current_credits"`
	RequiredCredits int64 `json:"required_credits"`
	Shortfall       int64 `json:"shortfall"`
}

// CheckCredits reports whether userID currently holds at least required
// credits. The answer may be stale by the time a charge runs; only
// DeductCredits moves balances safely.
func (e *Engine) CheckCredits(ctx context.Context, userID string, required int64) (*CreditCheck, error) {
	if required < 0 {
		return nil, invalid("required", "must not be negative", ErrInvalidAmount)
	}

	bal, err := e.GetUserCredits(ctx, userID)
	if err != nil {
		return nil, err
	}

	check := &CreditCheck{
		HasCredits:      bal.Credits >= required,
		CurrentCredits:  bal.Credits,
		RequiredCredits: required,
	}
	if !check.HasCredits {
		check.Shortfall = required - bal.Credits
	}
	return check, nil
}

// CalculateCost prices an operation with the engine's calculator.
func (e *Engine) CalculateCost(op pricing.Operation, hints pricing.Hints) (int64, error) {
	cost, err := e.calculator.Calculate(op, hints)
	if err != nil {
		field := "operation"
		if errors.Is(err, pricing.ErrNegativeHints) || errors.Is(err, pricing.ErrHintsTooLarge) {
			field = "hints"
		}
		return 0, invalid(field, err.Error(), err)
	}
	return cost, nil
}
