package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/usage"
)

// DefaultTimeout bounds a single hook invocation.
const DefaultTimeout = 5 * time.Second

// Registry manages registered plugins. Hook implementations are discovered
// once at registration and cached per hook type.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                []OnInit
	onShutdown            []OnShutdown
	onAccountCreated      []OnAccountCreated
	onCreditsDeducted     []OnCreditsDeducted
	onInsufficientCredits []OnInsufficientCredits
	onCreditsAdded        []OnCreditsAdded
	onCreditsReset        []OnCreditsReset
	onUsageRecorded       []OnUsageRecorded
	onUsageRecordFailed   []OnUsageRecordFailed
	onChargeReplayed      []OnChargeReplayed
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin and caches the hooks it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
		hooks = append(hooks, "OnAccountCreated")
	}
	if v, ok := p.(OnCreditsDeducted); ok {
		r.onCreditsDeducted = append(r.onCreditsDeducted, v)
		hooks = append(hooks, "OnCreditsDeducted")
	}
	if v, ok := p.(OnInsufficientCredits); ok {
		r.onInsufficientCredits = append(r.onInsufficientCredits, v)
		hooks = append(hooks, "OnInsufficientCredits")
	}
	if v, ok := p.(OnCreditsAdded); ok {
		r.onCreditsAdded = append(r.onCreditsAdded, v)
		hooks = append(hooks, "OnCreditsAdded")
	}
	if v, ok := p.(OnCreditsReset); ok {
		r.onCreditsReset = append(r.onCreditsReset, v)
		hooks = append(hooks, "OnCreditsReset")
	}
	if v, ok := p.(OnUsageRecorded); ok {
		r.onUsageRecorded = append(r.onUsageRecorded, v)
		hooks = append(hooks, "OnUsageRecorded")
	}
	if v, ok := p.(OnUsageRecordFailed); ok {
		r.onUsageRecordFailed = append(r.onUsageRecordFailed, v)
		hooks = append(hooks, "OnUsageRecordFailed")
	}
	if v, ok := p.(OnChargeReplayed); ok {
		r.onChargeReplayed = append(r.onChargeReplayed, v)
		hooks = append(hooks, "OnChargeReplayed")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context) {
	emit(r, ctx, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, ctx, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitAccountCreated emits an account created event.
func (r *Registry) EmitAccountCreated(ctx context.Context, a *account.Account) {
	emit(r, ctx, "OnAccountCreated", snapshot(r, &r.onAccountCreated), func(p OnAccountCreated) error {
		return p.OnAccountCreated(ctx, a)
	})
}

// EmitCreditsDeducted emits a successful charge.
func (r *Registry) EmitCreditsDeducted(ctx context.Context, adj *account.Adjustment) {
	emit(r, ctx, "OnCreditsDeducted", snapshot(r, &r.onCreditsDeducted), func(p OnCreditsDeducted) error {
		return p.OnCreditsDeducted(ctx, adj)
	})
}

// EmitInsufficientCredits emits a rejected charge.
func (r *Registry) EmitInsufficientCredits(ctx context.Context, userID string, op pricing.Operation, required, available int64) {
	emit(r, ctx, "OnInsufficientCredits", snapshot(r, &r.onInsufficientCredits), func(p OnInsufficientCredits) error {
		return p.OnInsufficientCredits(ctx, userID, op, required, available)
	})
}

// EmitCreditsAdded emits a replenishment.
func (r *Registry) EmitCreditsAdded(ctx context.Context, adj *account.Adjustment) {
	emit(r, ctx, "OnCreditsAdded", snapshot(r, &r.onCreditsAdded), func(p OnCreditsAdded) error {
		return p.OnCreditsAdded(ctx, adj)
	})
}

// EmitCreditsReset emits a monthly allowance reset.
func (r *Registry) EmitCreditsReset(ctx context.Context, adj *account.Adjustment) {
	emit(r, ctx, "OnCreditsReset", snapshot(r, &r.onCreditsReset), func(p OnCreditsReset) error {
		return p.OnCreditsReset(ctx, adj)
	})
}

// EmitUsageRecorded emits an appended usage record.
func (r *Registry) EmitUsageRecorded(ctx context.Context, rec *usage.Record) {
	emit(r, ctx, "OnUsageRecorded", snapshot(r, &r.onUsageRecorded), func(p OnUsageRecorded) error {
		return p.OnUsageRecorded(ctx, rec)
	})
}

// EmitUsageRecordFailed emits a usage record that could not be appended.
func (r *Registry) EmitUsageRecordFailed(ctx context.Context, rec *usage.Record, cause error) {
	emit(r, ctx, "OnUsageRecordFailed", snapshot(r, &r.onUsageRecordFailed), func(p OnUsageRecordFailed) error {
		return p.OnUsageRecordFailed(ctx, rec, cause)
	})
}

// EmitChargeReplayed emits a charge answered from an earlier record.
func (r *Registry) EmitChargeReplayed(ctx context.Context, rec *usage.Record) {
	emit(r, ctx, "OnChargeReplayed", snapshot(r, &r.onChargeReplayed), func(p OnChargeReplayed) error {
		return p.OnChargeReplayed(ctx, rec)
	})
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

func emit[T Plugin](r *Registry, ctx context.Context, hook string, plugins []T, call func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout runs fn, giving up after the registry timeout or when ctx
// is done. A hook that outlives the timeout keeps running in the background.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
