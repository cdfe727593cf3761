package extension

// Config holds the credits extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credits" or "credits" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// StartingCredits is the balance seeded into new accounts (default: 50).
	StartingCredits int64 `json:"starting_credits" mapstructure:"starting_credits" yaml:"starting_credits"`

	// Allowances overrides the monthly allowance per plan name, e.g.
	// {"pro": 2500}. Plans not listed keep their built-in allowance.
	Allowances map[string]int64 `json:"allowances" mapstructure:"allowances" yaml:"allowances"`

	// AuditBufferSize is the queue length of the audit recorder set with
	// WithAuditRecorder. A negative value records synchronously (default: 256).
	AuditBufferSize int `json:"audit_buffer_size" mapstructure:"audit_buffer_size" yaml:"audit_buffer_size"`

	// EnableMetrics registers Prometheus counters and histograms on the
	// default registerer.
	EnableMetrics bool `json:"enable_metrics" mapstructure:"enable_metrics" yaml:"enable_metrics"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StartingCredits: 50,
		AuditBufferSize: 256,
	}
}
