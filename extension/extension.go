// Package extension provides the Forge extension adapter for the credits
// engine.
//
// It implements the forge.Extension interface to integrate credit metering
// into a Forge application with DI registration, configuration loading and
// lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.credits" or "credits" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/observability"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "credits"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Credit metering and usage ledger for AI operations"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the credits engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *credits.Engine
	store      store.Store
	engineOpts []credits.Option

	recorder  audithook.Recorder
	auditOpts []audithook.Option
	metrics   observability.MetricFactory
}

// New creates a new credits Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *credits.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = credits.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*credits.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("credits: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("credits: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs credits.Option values from the resolved config.
// Pass-through options come last so they win over config.
func (e *Extension) buildEngineOpts() []credits.Option {
	opts := make([]credits.Option, 0, len(e.engineOpts)+5)

	if e.config.DisableMigrate {
		opts = append(opts, credits.WithoutMigrate())
	}
	opts = append(opts, credits.WithStartingCredits(e.config.StartingCredits))

	if len(e.config.Allowances) > 0 {
		opts = append(opts, credits.WithAllowances(allowancesFromConfig(e.config.Allowances)))
	}

	if e.recorder != nil {
		auditOpts := append([]audithook.Option{audithook.WithBuffer(e.config.AuditBufferSize)}, e.auditOpts...)
		opts = append(opts, credits.WithPlugin(audithook.New(e.recorder, auditOpts...)))
	}

	factory := e.metrics
	if factory == nil && e.config.EnableMetrics {
		factory = observability.NewPrometheusFactory(prometheus.DefaultRegisterer)
	}
	if factory != nil {
		opts = append(opts, credits.WithPlugin(observability.NewMetricsExtension(factory)))
	}

	return append(opts, e.engineOpts...)
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("credits: configuration is required but not found in config files; " +
				"ensure 'extensions.credits' or 'credits' key exists in your config")
		}

		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	if err := validateConfig(e.config); err != nil {
		return err
	}

	e.Logger().Debug("credits: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("starting_credits", e.config.StartingCredits),
		forge.F("allowance_overrides", len(e.config.Allowances)),
		forge.F("audit_buffer_size", e.config.AuditBufferSize),
		forge.F("enable_metrics", e.config.EnableMetrics),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.credits", "credits"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("credits: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("credits: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// validateConfig rejects values the engine options would otherwise drop.
func validateConfig(cfg Config) error {
	if cfg.StartingCredits < 0 {
		return fmt.Errorf("credits: invalid config: starting_credits must not be negative, got %d", cfg.StartingCredits)
	}
	if err := allowancesFromConfig(cfg.Allowances).Validate(); err != nil {
		return fmt.Errorf("credits: invalid config: %w", err)
	}
	return nil
}

func allowancesFromConfig(m map[string]int64) account.Allowances {
	allowances := make(account.Allowances, len(m))
	for name, amount := range m {
		allowances[account.Plan(name)] = amount
	}
	return allowances
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.StartingCredits == 0 {
		cfg.StartingCredits = defaults.StartingCredits
	}
	if cfg.AuditBufferSize == 0 {
		cfg.AuditBufferSize = defaults.AuditBufferSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.EnableMetrics {
		yamlConfig.EnableMetrics = true
	}

	if yamlConfig.StartingCredits == 0 && programmaticConfig.StartingCredits != 0 {
		yamlConfig.StartingCredits = programmaticConfig.StartingCredits
	}
	if yamlConfig.AuditBufferSize == 0 && programmaticConfig.AuditBufferSize != 0 {
		yamlConfig.AuditBufferSize = programmaticConfig.AuditBufferSize
	}

	// Allowances merge per plan; YAML entries win.
	if len(programmaticConfig.Allowances) > 0 {
		merged := make(map[string]int64, len(programmaticConfig.Allowances)+len(yamlConfig.Allowances))
		for plan, amount := range programmaticConfig.Allowances {
			merged[plan] = amount
		}
		for plan, amount := range yamlConfig.Allowances {
			merged[plan] = amount
		}
		yamlConfig.Allowances = merged
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
