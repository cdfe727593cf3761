package extension

import (
	"github.com/xraph/credits"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/observability"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
)

// Option configures the credits Forge extension.
type Option func(*Extension)

// WithStore sets the store for the credits engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a credits.Option through to the underlying engine.
func WithEngineOption(opt credits.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a credits plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithPlugin(p))
	}
}

// WithAuditRecorder sends audit events to r. The recorder is wrapped in an
// audit_hook extension buffered by Config.AuditBufferSize.
func WithAuditRecorder(r audithook.Recorder, opts ...audithook.Option) Option {
	return func(e *Extension) {
		e.recorder = r
		e.auditOpts = append(e.auditOpts, opts...)
	}
}

// WithMetricFactory records engine metrics through f. It takes precedence
// over Config.EnableMetrics.
func WithMetricFactory(f observability.MetricFactory) Option {
	return func(e *Extension) { e.metrics = f }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithStartingCredits sets the balance seeded into new accounts.
func WithStartingCredits(n int64) Option {
	return func(e *Extension) { e.config.StartingCredits = n }
}

// WithAllowance overrides the monthly allowance of one plan.
func WithAllowance(plan credits.Plan, amount int64) Option {
	return func(e *Extension) {
		if e.config.Allowances == nil {
			e.config.Allowances = make(map[string]int64)
		}
		e.config.Allowances[string(plan)] = amount
	}
}

// WithAuditBufferSize sets the audit queue length.
func WithAuditBufferSize(size int) Option {
	return func(e *Extension) { e.config.AuditBufferSize = size }
}

// WithEnableMetrics registers Prometheus metrics on the default registerer.
func WithEnableMetrics() Option {
	return func(e *Extension) { e.config.EnableMetrics = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
