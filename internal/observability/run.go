package observability

import (
	"context"
	"log/slog"

	"github.com/autopiloot/corepipe/internal/domain"
)

// AlertEmitter is the subset of the Throttled Alert Sink (C3) the run
// emitter needs, mirrored here (rather than importing the alerts package
// directly) the same way ledger.Alerter avoids that import cycle.
type AlertEmitter interface {
	Emit(ctx context.Context, alertType string, severity domain.DLQSeverity, payload map[string]any) (string, error)
}

// RunEmitter is C10: it aggregates a run's outcome into a structured log
// event, sets the run_health_score gauge, and forwards a human-facing
// summary through C3.
type RunEmitter struct {
	log    *slog.Logger
	alerts AlertEmitter
}

func NewRunEmitter(log *slog.Logger, alerts AlertEmitter) *RunEmitter {
	return &RunEmitter{log: log, alerts: alerts}
}

// EmitRun implements C10's contract over a completed run.Summary.
// quotaHeadroom is the minimum (1 - used/cap) across every tracked service,
// the conservative reading of spec section 4.10's single headroom term.
func (e *RunEmitter) EmitRun(ctx context.Context, summary domain.RunSummary, quotaHeadroom float64) float64 {
	health := summary.HealthScore(quotaHeadroom)
	RunHealthScore.Set(health)

	e.log.Info("run.summary",
		"run_id", summary.RunID,
		"planned", summary.Planned,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"dlq_count", summary.DLQCount,
		"total_cost_usd", summary.TotalCostUSD,
		"quota_headroom", quotaHeadroom,
		"health_score", health,
		"duration", summary.CompletedAt.Sub(summary.StartedAt).String(),
	)

	if e.alerts == nil {
		return health
	}

	severity := domain.DLQSeverityLow
	if health < 50 {
		severity = domain.DLQSeverityCritical
	} else if health < 80 {
		severity = domain.DLQSeverityMedium
	}
	_, _ = e.alerts.Emit(ctx, "run_summary", severity, map[string]any{
		"run_id":       summary.RunID,
		"succeeded":    summary.Succeeded,
		"failed":       summary.Failed,
		"dlq_count":    summary.DLQCount,
		"health_score": health,
	})
	return health
}

// QuotaHeadroom computes the minimum (1 - used/remaining-denominated)
// headroom across a run's tracked quota services.
func QuotaHeadroom(states []domain.QuotaState) float64 {
	if len(states) == 0 {
		return 1
	}
	min := 1.0
	for _, s := range states {
		total := s.Used + s.Remaining
		if total <= 0 {
			continue
		}
		headroom := s.Remaining / total
		if headroom < min {
			min = headroom
		}
	}
	return min
}
