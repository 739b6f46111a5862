// Package ledger implements the Budget & Quota Ledger (C2): per-day
// transcription spend, per-(service,day) quota counters, and the 80%/95%
// threshold alerts, gated behind the scheduler's configured reset timezone
// (default Europe/Amsterdam midnight per original_source's budget monitor).
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/observability"
	"github.com/autopiloot/corepipe/internal/store"
	"golang.org/x/time/rate"
)

// Alerter is the subset of the Throttled Alert Sink (C3) the ledger needs to
// raise threshold breaches without importing the alerts package directly.
type Alerter interface {
	Emit(ctx context.Context, alertType string, severity domain.DLQSeverity, payload map[string]any) (string, error)
}

// WarnThreshold and CritThreshold are the budget fractions that trigger an
// at-most-one-per-day alert (spec section 4.2).
const (
	WarnThreshold = 0.80
	CritThreshold = 0.95
)

// Ledger is C2's in-process façade: it owns the per-service live rate
// limiters and delegates durable accounting to store.LedgerStore.
type Ledger struct {
	store       store.LedgerStore
	loc         *time.Location
	dailyCapUSD float64
	quotaCaps   map[string]float64
	alerts      Alerter

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Ledger. quotaCaps maps service name to its daily unit
// cap (e.g. "youtube" -> 10000 units, "assemblyai" -> budget in USD).
func New(s store.LedgerStore, loc *time.Location, dailyCapUSD float64, quotaCaps map[string]float64, alerts Alerter) *Ledger {
	return &Ledger{
		store:       s,
		loc:         loc,
		dailyCapUSD: dailyCapUSD,
		quotaCaps:   quotaCaps,
		alerts:      alerts,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Today formats "now" in the ledger's configured timezone as the day key.
func (l *Ledger) Today(now time.Time) string {
	return now.In(l.loc).Format("2006-01-02")
}

// ResetIn returns the duration until the next local midnight.
func (l *Ledger) ResetIn(now time.Time) time.Duration {
	local := now.In(l.loc)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, l.loc)
	return next.Sub(local)
}

// CheckBudget implements C2's check(service="transcription", ...) for the
// transcription daily cap. It raises no alerts; the warn/critical threshold
// alerts are raised by RecordCost.
func (l *Ledger) CheckBudget(ctx context.Context, now time.Time, requestedUSD float64) (allow bool, remaining float64, resetIn time.Duration, err error) {
	day := l.Today(now)
	allow, remaining, err = l.store.CheckBudget(ctx, day, requestedUSD, l.dailyCapUSD)
	if err != nil {
		return false, 0, 0, err
	}
	return allow, remaining, l.ResetIn(now), nil
}

// RecordCost records realized transcription spend and raises the 80%/95%
// alerts the first time a day crosses each threshold.
func (l *Ledger) RecordCost(ctx context.Context, now time.Time, usedUSD float64) (domain.CostAggregate, error) {
	day := l.Today(now)
	agg, err := l.store.RecordCost(ctx, day, usedUSD)
	if err != nil {
		return domain.CostAggregate{}, err
	}

	if l.dailyCapUSD <= 0 {
		return agg, nil
	}
	frac := agg.TranscriptionUSDTotal / l.dailyCapUSD
	observability.BudgetUsageRatio.Set(frac)

	if frac >= CritThreshold && !agg.AlertsSent["budget_critical"] {
		l.raiseThreshold(ctx, day, "budget_critical", domain.DLQSeverityCritical, agg)
	}
	if frac >= WarnThreshold && !agg.AlertsSent["budget_warning"] {
		l.raiseThreshold(ctx, day, "budget_warning", domain.DLQSeverityMedium, agg)
	}
	return agg, nil
}

func (l *Ledger) raiseThreshold(ctx context.Context, day, alertType string, severity domain.DLQSeverity, agg domain.CostAggregate) {
	if l.alerts != nil {
		_, _ = l.alerts.Emit(ctx, alertType, severity, map[string]any{
			"day":         day,
			"total_usd":   agg.TranscriptionUSDTotal,
			"daily_cap":   l.dailyCapUSD,
			"usage_pct":   100 * agg.TranscriptionUSDTotal / l.dailyCapUSD,
		})
	}
	_ = l.store.MarkAlertSent(ctx, day, alertType)
}

// CheckQuota implements C2's check(service, requested_units).
func (l *Ledger) CheckQuota(ctx context.Context, now time.Time, service string, requestedUnits float64) (allow bool, remaining float64, resetIn time.Duration, err error) {
	dailyCap, ok := l.quotaCaps[service]
	if !ok {
		return false, 0, 0, fmt.Errorf("ledger: unknown service %q", service)
	}
	day := l.Today(now)
	allow, remaining, err = l.store.CheckQuota(ctx, service, day, requestedUnits, dailyCap)
	if err != nil {
		return false, 0, 0, err
	}
	return allow, remaining, l.ResetIn(now), nil
}

// RecordQuota records realized quota usage for (service, today).
func (l *Ledger) RecordQuota(ctx context.Context, now time.Time, service string, usedUnits float64) (domain.QuotaCounter, error) {
	qc, err := l.store.RecordQuota(ctx, service, l.Today(now), usedUnits)
	if err != nil {
		return qc, err
	}
	if dailyCap, ok := l.quotaCaps[service]; ok && dailyCap > 0 {
		observability.QuotaUsageRatio.WithLabelValues(service).Set(qc.Units / dailyCap)
	}
	return qc, nil
}

// Aggregate returns the durable CostAggregate for day.
func (l *Ledger) Aggregate(ctx context.Context, day string) (domain.CostAggregate, error) {
	return l.store.Aggregate(ctx, day)
}

// ServiceLimiter returns (creating if absent) a live token-bucket limiter
// for service, used by stage workers to pace outbound calls between the
// coarse daily quota check and the provider's own burst limits.
func (l *Ledger) ServiceLimiter(service string, r rate.Limit, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[service]
	if !ok {
		lim = rate.NewLimiter(r, burst)
		l.limiters[service] = lim
	}
	return lim
}
