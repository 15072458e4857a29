package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// OrchestrationMetrics tracks the health of the account orchestration core:
// job throughput by outcome, action latency, quarantines and pacing denials.
type OrchestrationMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	jobsCompletedTotal *Counter
	jobsRetriedTotal   *Counter
	actionDuration     *Histogram
	quarantinesTotal   *Counter
	governorDenials    *Counter
	conflictsOpen      *Gauge
	accountsByStatus   *Gauge
}

// NewOrchestrationMetrics creates the metric set on the given meter
func NewOrchestrationMetrics(meter metric.Meter, logger *zap.Logger) (*OrchestrationMetrics, error) {
	if meter == nil {
		return nil, fmt.Errorf("telemetry: meter cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	om := &OrchestrationMetrics{meter: meter, logger: logger}

	var err error
	om.jobsCompletedTotal, err = NewCounter(meter,
		"relister_jobs_completed_total",
		"Terminal action jobs by kind and outcome",
		"{jobs}",
	)
	if err != nil {
		return nil, err
	}

	om.jobsRetriedTotal, err = NewCounter(meter,
		"relister_jobs_retried_total",
		"Retry attempts scheduled, by kind and outcome",
		"{retries}",
	)
	if err != nil {
		return nil, err
	}

	om.actionDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "relister_action_duration_seconds",
		Description: "Remote action duration from dispatch to classification",
		Unit:        "s",
		Boundaries:  ActionDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	om.quarantinesTotal, err = NewCounter(meter,
		"relister_account_quarantines_total",
		"Account quarantine transitions by triggering outcome",
		"{quarantines}",
	)
	if err != nil {
		return nil, err
	}

	om.governorDenials, err = NewCounter(meter,
		"relister_governor_denials_total",
		"Pacing budget denials by scope (account or global)",
		"{denials}",
	)
	if err != nil {
		return nil, err
	}

	om.conflictsOpen, err = NewGauge(meter,
		"relister_sync_conflicts_open",
		"Unresolved sync conflicts awaiting a manual decision",
		"{conflicts}",
	)
	if err != nil {
		return nil, err
	}

	om.accountsByStatus, err = NewGauge(meter,
		"relister_accounts",
		"Accounts in the pool by health status",
		"{accounts}",
	)
	if err != nil {
		return nil, err
	}

	return om, nil
}

// RecordJobCompleted records a terminal job
func (om *OrchestrationMetrics) RecordJobCompleted(ctx context.Context, kind, outcome string) {
	om.jobsCompletedTotal.Inc(ctx, AttrJobKind.String(kind), AttrJobOutcome.String(outcome))
}

// RecordJobRetried records a scheduled retry
func (om *OrchestrationMetrics) RecordJobRetried(ctx context.Context, kind, outcome string) {
	om.jobsRetriedTotal.Inc(ctx, AttrJobKind.String(kind), AttrJobOutcome.String(outcome))
}

// RecordActionDuration records how long one remote action took
func (om *OrchestrationMetrics) RecordActionDuration(ctx context.Context, kind string, d time.Duration) {
	om.actionDuration.RecordDuration(ctx, d, AttrJobKind.String(kind))
}

// RecordQuarantine records an account entering quarantine
func (om *OrchestrationMetrics) RecordQuarantine(ctx context.Context, outcome string) {
	om.quarantinesTotal.Inc(ctx, AttrJobOutcome.String(outcome))
}

// RecordGovernorDenial records a pacing denial; scope is "account" or "global"
func (om *OrchestrationMetrics) RecordGovernorDenial(ctx context.Context, scope string) {
	om.governorDenials.Inc(ctx, AttrDenialScope.String(scope))
}

// RecordOpenConflicts records the current number of unresolved conflicts
func (om *OrchestrationMetrics) RecordOpenConflicts(ctx context.Context, count int64) {
	om.conflictsOpen.Record(ctx, count)
}

// RecordAccountCount records how many accounts sit in a health status
func (om *OrchestrationMetrics) RecordAccountCount(ctx context.Context, status string, count int64) {
	om.accountsByStatus.Record(ctx, count, AttrAccountStatus.String(status))
}
