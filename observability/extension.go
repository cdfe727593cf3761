// Package observability provides a metrics extension for the credits engine
// that records event counts and charge sizes through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/usage"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated      = (*MetricsExtension)(nil)
	_ plugin.OnCreditsDeducted     = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredits = (*MetricsExtension)(nil)
	_ plugin.OnCreditsAdded        = (*MetricsExtension)(nil)
	_ plugin.OnCreditsReset        = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded       = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecordFailed   = (*MetricsExtension)(nil)
	_ plugin.OnChargeReplayed      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide credit metrics.
// Register it as an engine plugin to track charges automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	AccountsCreated Counter

	// Balance metrics
	ChargesSucceeded   Counter
	ChargesRejected    Counter
	CreditsDeducted    Counter
	ChargeSize         Histogram
	ChargeShortfall    Histogram
	CreditsAdded       Counter
	ReplenishmentSize  Histogram
	MonthlyResets      Counter
	ResetAllowanceSize Histogram

	// Ledger metrics
	UsageRecorded     Counter
	UsageRecordErrors Counter
	ChargesReplayed   Counter
	ResponseTime      Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a Prometheus-backed factory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		AccountsCreated: factory.Counter("credits.accounts.created"),

		ChargesSucceeded:   factory.Counter("credits.charges.succeeded"),
		ChargesRejected:    factory.Counter("credits.charges.rejected"),
		CreditsDeducted:    factory.Counter("credits.deducted.total"),
		ChargeSize:         factory.Histogram("credits.charge.size"),
		ChargeShortfall:    factory.Histogram("credits.charge.shortfall"),
		CreditsAdded:       factory.Counter("credits.added.total"),
		ReplenishmentSize:  factory.Histogram("credits.replenishment.size"),
		MonthlyResets:      factory.Counter("credits.resets"),
		ResetAllowanceSize: factory.Histogram("credits.reset.allowance"),

		UsageRecorded:     factory.Counter("credits.usage.recorded"),
		UsageRecordErrors: factory.Counter("credits.usage.record_errors"),
		ChargesReplayed:   factory.Counter("credits.charges.replayed"),
		ResponseTime:      factory.Histogram("credits.usage.response_time_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ *account.Account) error {
	m.AccountsCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnCreditsDeducted implements plugin.OnCreditsDeducted.
func (m *MetricsExtension) OnCreditsDeducted(_ context.Context, adj *account.Adjustment) error {
	m.ChargesSucceeded.Inc()
	m.CreditsDeducted.Add(float64(adj.Amount))
	m.ChargeSize.Observe(float64(adj.Amount))
	return nil
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (m *MetricsExtension) OnInsufficientCredits(_ context.Context, _ string, _ pricing.Operation, required, available int64) error {
	m.ChargesRejected.Inc()
	m.ChargeShortfall.Observe(float64(required - available))
	return nil
}

// OnCreditsAdded implements plugin.OnCreditsAdded.
func (m *MetricsExtension) OnCreditsAdded(_ context.Context, adj *account.Adjustment) error {
	m.CreditsAdded.Add(float64(adj.Amount))
	m.ReplenishmentSize.Observe(float64(adj.Amount))
	return nil
}

// OnCreditsReset implements plugin.OnCreditsReset.
func (m *MetricsExtension) OnCreditsReset(_ context.Context, adj *account.Adjustment) error {
	m.MonthlyResets.Inc()
	m.ResetAllowanceSize.Observe(float64(adj.Amount))
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, r *usage.Record) error {
	m.UsageRecorded.Inc()
	if r.ResponseTimeMs > 0 {
		m.ResponseTime.Observe(float64(r.ResponseTimeMs))
	}
	return nil
}

// OnUsageRecordFailed implements plugin.OnUsageRecordFailed.
func (m *MetricsExtension) OnUsageRecordFailed(_ context.Context, _ *usage.Record, _ error) error {
	m.UsageRecordErrors.Inc()
	return nil
}

// OnChargeReplayed implements plugin.OnChargeReplayed.
func (m *MetricsExtension) OnChargeReplayed(_ context.Context, _ *usage.Record) error {
	m.ChargesReplayed.Inc()
	return nil
}
