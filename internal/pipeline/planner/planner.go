// Package planner implements the Job Scheduler & Dispatcher's (C5)
// planning half: producing a RunPlan from the configured channels and
// sheet sources plus the current resource envelope, dispatching the
// per-source scrape jobs that seed a run, and assembling the terminal
// RunSummary C10 reports on. Dispatch of downstream stage jobs (the
// retry/DLQ/proceed policy table) lives in package dispatch; this package
// only covers "at each scheduled tick, produce a plan" (spec section 4.5).
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/observability"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/pipeline/dlq"
	"github.com/autopiloot/corepipe/internal/pipeline/ledger"
	"github.com/autopiloot/corepipe/internal/store"
)

// Dispatcher is the subset of dispatch.Dispatcher the planner needs to
// seed a run; mirrored here the same way ledger.Alerter avoids importing
// the sibling package directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, job pipeline.Job) error
}

// Sources names the channels and sheets a plan discovers from.
type Sources struct {
	Channels []string
	Sheets   []string
}

// Planner is C5's planning half.
type Planner struct {
	videos   store.VideoStore
	dlq      *dlq.Queue
	ledger   *ledger.Ledger
	run      *observability.RunEmitter
	dispatch Dispatcher

	perChannelLimit int
	quotaCaps       map[string]float64

	now func() time.Time
}

// New constructs a Planner. perChannelLimit is the scheduler's
// daily_limit_per_channel (spec section 6); quotaCaps maps each
// ledger-tracked service to its daily unit cap, the same map passed to
// ledger.New, so the planner can turn the ledger's remaining-units reading
// into a used/remaining pair for both the plan's ResourceLimits and the
// eventual RunSummary.QuotaState.
func New(videos store.VideoStore, q *dlq.Queue, led *ledger.Ledger, run *observability.RunEmitter, d Dispatcher, perChannelLimit int, quotaCaps map[string]float64) *Planner {
	if perChannelLimit <= 0 {
		perChannelLimit = 10
	}
	return &Planner{
		videos: videos, dlq: q, ledger: led, run: run, dispatch: d,
		perChannelLimit: perChannelLimit, quotaCaps: quotaCaps,
		now: time.Now,
	}
}

// Plan produces the RunPlan for one scheduled tick: the channel/sheet set
// to discover from, the per-channel limit, and the resource envelope
// (remaining budget, remaining quota) read from the ledger.
func (p *Planner) Plan(ctx context.Context, sources Sources) (domain.RunPlan, error) {
	now := p.now()

	_, remainingBudget, _, err := p.ledger.CheckBudget(ctx, now, 0)
	if err != nil {
		return domain.RunPlan{}, fmt.Errorf("planner: check budget: %w", err)
	}

	remainingQuota := make(map[string]float64, len(p.quotaCaps))
	for svc := range p.quotaCaps {
		_, remaining, _, err := p.ledger.CheckQuota(ctx, now, svc, 0)
		if err != nil {
			return domain.RunPlan{}, fmt.Errorf("planner: check quota %s: %w", svc, err)
		}
		remainingQuota[svc] = remaining
	}

	plan := domain.RunPlan{
		RunID:           uuid.NewString(),
		Channels:        sources.Channels,
		PerChannelLimit: p.perChannelLimit,
		WindowStart:     now.Add(-24 * time.Hour),
		WindowEnd:       now,
		ResourceLimits: domain.ResourceLimits{
			RemainingBudgetUSD: remainingBudget,
			RemainingQuota:     remainingQuota,
		},
		CreatedAt: now,
	}
	return plan, nil
}

// Run dispatches one scrape job per channel and per sheet named in plan,
// then returns immediately; the ingestion pipeline that follows from each
// scrape job runs asynchronously through package dispatch. Run itself
// emits no run_started event or alert.
func (p *Planner) Run(ctx context.Context, plan domain.RunPlan, sheets Sources) (int, error) {
	planned := 0
	for _, channelID := range plan.Channels {
		job := pipeline.Job{
			JobID:   fmt.Sprintf("scrape-%s-%s", channelID, plan.RunID),
			JobType: pipeline.StageScrape,
			Inputs: map[string]any{
				"channel_id": channelID,
				"since":      plan.WindowStart,
				"limit":      plan.PerChannelLimit,
			},
		}
		if err := p.dispatch.Dispatch(ctx, job); err != nil {
			return planned, fmt.Errorf("planner: dispatch scrape channel=%s: %w", channelID, err)
		}
		planned++
	}
	for _, sheetID := range sheets.Sheets {
		job := pipeline.Job{
			JobID:   fmt.Sprintf("scrape-%s-%s", sheetID, plan.RunID),
			JobType: pipeline.StageScrape,
			Inputs:  map[string]any{"sheet_id": sheetID},
		}
		if err := p.dispatch.Dispatch(ctx, job); err != nil {
			return planned, fmt.Errorf("planner: dispatch scrape sheet=%s: %w", sheetID, err)
		}
		planned++
	}
	return planned, nil
}

// Summarize assembles the terminal RunSummary for plan: counts of videos
// reaching each terminal status since the plan's window, the DLQ entries
// created during the run, the realized cost, and per-service quota
// snapshots. It emits the summary through RunEmitter and returns the
// computed health score.
func (p *Planner) Summarize(ctx context.Context, plan domain.RunPlan, planned int) (domain.RunSummary, float64, error) {
	indexed, err := p.videos.QueryByStatus(ctx, store.VideoQuery{Status: domain.VideoStatusIndexed, Since: plan.WindowStart})
	if err != nil {
		return domain.RunSummary{}, 0, fmt.Errorf("planner: query indexed: %w", err)
	}
	failed, err := p.videos.QueryByStatus(ctx, store.VideoQuery{Status: domain.VideoStatusFailed, Since: plan.WindowStart})
	if err != nil {
		return domain.RunSummary{}, 0, fmt.Errorf("planner: query failed: %w", err)
	}
	entries, err := p.dlq.Query(ctx, store.DLQQuery{Since: plan.WindowStart})
	if err != nil {
		return domain.RunSummary{}, 0, fmt.Errorf("planner: query dlq: %w", err)
	}

	day := p.ledger.Today(p.now())
	agg, err := p.ledger.Aggregate(ctx, day)
	if err != nil {
		return domain.RunSummary{}, 0, fmt.Errorf("planner: aggregate cost: %w", err)
	}

	var quotaStates []domain.QuotaState
	for svc, cap := range p.quotaCaps {
		_, remaining, _, err := p.ledger.CheckQuota(ctx, p.now(), svc, 0)
		if err != nil {
			continue
		}
		used := cap - remaining
		if used < 0 {
			used = 0
		}
		quotaStates = append(quotaStates, domain.QuotaState{Service: svc, Used: used, Remaining: remaining})
	}

	summary := domain.RunSummary{
		RunID:        plan.RunID,
		Planned:      planned,
		Succeeded:    len(indexed),
		Failed:       len(failed),
		DLQCount:     len(entries),
		QuotaState:   quotaStates,
		TotalCostUSD: agg.TranscriptionUSDTotal,
		StartedAt:    plan.CreatedAt,
		CompletedAt:  p.now(),
	}

	headroom := observability.QuotaHeadroom(quotaStates)
	health := p.run.EmitRun(ctx, summary, headroom)
	return summary, health, nil
}
