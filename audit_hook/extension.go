// Package audithook bridges credit engine events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// audit system directly. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/pricing"
	"github.com/xraph/credits/usage"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnInit                = (*Extension)(nil)
	_ plugin.OnShutdown            = (*Extension)(nil)
	_ plugin.OnAccountCreated      = (*Extension)(nil)
	_ plugin.OnCreditsDeducted     = (*Extension)(nil)
	_ plugin.OnInsufficientCredits = (*Extension)(nil)
	_ plugin.OnCreditsAdded        = (*Extension)(nil)
	_ plugin.OnCreditsReset        = (*Extension)(nil)
	_ plugin.OnUsageRecordFailed   = (*Extension)(nil)
	_ plugin.OnChargeReplayed      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credit engine events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger

	bufferSize int
	queue      chan *AuditEvent
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit starts the background writer when buffering is enabled.
func (e *Extension) OnInit(_ context.Context) error {
	if e.bufferSize == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue != nil {
		return nil
	}

	e.queue = make(chan *AuditEvent, e.bufferSize)
	e.stopChan = make(chan struct{})
	e.wg.Add(1)
	go e.worker(e.queue, e.stopChan)
	return nil
}

// OnShutdown drains queued events and stops the writer.
func (e *Extension) OnShutdown(_ context.Context) error {
	e.mu.Lock()
	stop := e.stopChan
	e.queue = nil
	e.stopChan = nil
	e.mu.Unlock()

	if stop != nil {
		close(stop)
		e.wg.Wait()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, a *account.Account) error {
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.UserID, CategoryBilling, nil,
		"account_id", a.ID.String(),
		"plan", string(a.Plan),
		"credits", a.Credits,
	)
}

// OnCreditsDeducted implements plugin.OnCreditsDeducted.
func (e *Extension) OnCreditsDeducted(ctx context.Context, adj *account.Adjustment) error {
	return e.record(ctx, ActionCreditsDeducted, SeverityInfo, OutcomeSuccess,
		ResourceAccount, adj.UserID, CategoryUsage, nil,
		"operation", string(adj.Operation),
		"provider", adj.Provider,
		"amount", adj.Amount,
		"credits_before", adj.CreditsBefore,
		"credits_after", adj.CreditsAfter,
	)
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (e *Extension) OnInsufficientCredits(ctx context.Context, userID string, op pricing.Operation, required, available int64) error {
	return e.record(ctx, ActionCreditsInsufficient, SeverityWarning, OutcomeFailure,
		ResourceAccount, userID, CategoryAccess, nil,
		"operation", string(op),
		"required", required,
		"available", available,
		"shortfall", required-available,
	)
}

// OnCreditsAdded implements plugin.OnCreditsAdded.
func (e *Extension) OnCreditsAdded(ctx context.Context, adj *account.Adjustment) error {
	kv := []any{
		"reason", string(adj.Reason),
		"amount", adj.Amount,
		"credits_before", adj.CreditsBefore,
		"credits_after", adj.CreditsAfter,
	}
	for k, v := range adj.Metadata {
		kv = append(kv, "meta."+k, v)
	}
	return e.record(ctx, ActionCreditsAdded, SeverityInfo, OutcomeSuccess,
		ResourceAccount, adj.UserID, CategoryBilling, nil, kv...)
}

// OnCreditsReset implements plugin.OnCreditsReset.
func (e *Extension) OnCreditsReset(ctx context.Context, adj *account.Adjustment) error {
	return e.record(ctx, ActionCreditsReset, SeverityInfo, OutcomeSuccess,
		ResourceAccount, adj.UserID, CategoryBilling, nil,
		"allowance", adj.Amount,
		"credits_before", adj.CreditsBefore,
		"credits_after", adj.CreditsAfter,
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnUsageRecordFailed implements plugin.OnUsageRecordFailed.
func (e *Extension) OnUsageRecordFailed(ctx context.Context, r *usage.Record, err error) error {
	return e.record(ctx, ActionUsageRecordFailed, SeverityError, OutcomeFailure,
		ResourceUsage, r.ID.String(), CategoryUsage, err,
		"user_id", r.UserID,
		"operation", string(r.Operation),
		"credits_used", r.CreditsUsed,
		"success", r.Success,
	)
}

// OnChargeReplayed implements plugin.OnChargeReplayed.
func (e *Extension) OnChargeReplayed(ctx context.Context, r *usage.Record) error {
	return e.record(ctx, ActionChargeReplayed, SeverityInfo, OutcomeSuccess,
		ResourceUsage, r.ID.String(), CategoryUsage, nil,
		"user_id", r.UserID,
		"idempotency_key", r.IdempotencyKey,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	e.mu.RLock()
	queue := e.queue
	if queue != nil {
		select {
		case queue <- evt:
			e.mu.RUnlock()
			return nil
		default:
		}
	}
	e.mu.RUnlock()

	e.write(ctx, evt)
	return nil
}

func (e *Extension) write(ctx context.Context, evt *AuditEvent) {
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", evt.Action,
			"resource_id", evt.ResourceID,
			"error", err,
		)
	}
}

// worker writes queued events until stop is closed, then drains the queue.
func (e *Extension) worker(queue chan *AuditEvent, stop chan struct{}) {
	defer e.wg.Done()

	ctx := context.Background()
	for {
		select {
		case evt := <-queue:
			e.write(ctx, evt)
		case <-stop:
			for {
				select {
				case evt := <-queue:
					e.write(ctx, evt)
				default:
					return
				}
			}
		}
	}
}
