package planner_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/observability"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/pipeline/dlq"
	"github.com/autopiloot/corepipe/internal/pipeline/ledger"
	"github.com/autopiloot/corepipe/internal/pipeline/planner"
	"github.com/autopiloot/corepipe/internal/store/memory"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []pipeline.Job
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job pipeline.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

func newPlanner(t *testing.T, quotaCaps map[string]float64) (*planner.Planner, *fakeDispatcher, *memory.VideoStore, *dlq.Queue) {
	t.Helper()
	videos := memory.NewVideoStore()
	ledgerStore := memory.NewLedgerStore()
	dlqStore := memory.NewDLQStore()
	led := ledger.New(ledgerStore, time.UTC, 5.00, quotaCaps, nil)
	q := dlq.New(dlqStore, nil)
	log := slog.New(slog.NewTextHandler(nilWriter{}, nil))
	run := observability.NewRunEmitter(log, nil)
	d := &fakeDispatcher{}
	p := planner.New(videos, q, led, run, d, 10, quotaCaps)
	return p, d, videos, q
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPlanResourceEnvelope(t *testing.T) {
	p, _, _, _ := newPlanner(t, map[string]float64{"youtube": 10000})
	plan, err := p.Plan(context.Background(), planner.Sources{Channels: []string{"UCa", "UCb"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(plan.Channels))
	}
	if plan.PerChannelLimit != 10 {
		t.Fatalf("expected per-channel limit 10, got %d", plan.PerChannelLimit)
	}
	if plan.ResourceLimits.RemainingBudgetUSD != 5.00 {
		t.Fatalf("expected full budget headroom, got %v", plan.ResourceLimits.RemainingBudgetUSD)
	}
	if plan.ResourceLimits.RemainingQuota["youtube"] != 10000 {
		t.Fatalf("expected full quota headroom, got %v", plan.ResourceLimits.RemainingQuota)
	}
	if plan.RunID == "" {
		t.Fatal("expected a non-empty run id")
	}
}

func TestRunDispatchesOneScrapeJobPerChannelAndSheet(t *testing.T) {
	p, d, _, _ := newPlanner(t, nil)
	plan, err := p.Plan(context.Background(), planner.Sources{Channels: []string{"UCa", "UCb"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	planned, err := p.Run(context.Background(), plan, planner.Sources{Sheets: []string{"sheet1"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if planned != 3 {
		t.Fatalf("expected 3 planned jobs (2 channels + 1 sheet), got %d", planned)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.jobs) != 3 {
		t.Fatalf("expected dispatcher to see 3 jobs, got %d", len(d.jobs))
	}
	for _, j := range d.jobs {
		if j.JobType != pipeline.StageScrape {
			t.Fatalf("expected every job to be a scrape job, got %s", j.JobType)
		}
	}
}

func TestSummarizeCountsIndexedFailedAndDLQSinceWindowStart(t *testing.T) {
	p, _, videos, q := newPlanner(t, map[string]float64{"youtube": 10000})
	ctx := context.Background()

	plan, err := p.Plan(ctx, planner.Sources{Channels: []string{"UCa"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if _, err := videos.UpsertVideo(ctx, domain.Video{VideoID: "vidA", ChannelID: "UCa"}); err != nil {
		t.Fatalf("upsert vidA: %v", err)
	}
	if _, err := videos.Transition(ctx, "vidA", domain.VideoStatusDiscovered, domain.VideoStatusTranscriptionQueued); err != nil {
		t.Fatalf("transition vidA queued: %v", err)
	}
	if _, err := videos.Transition(ctx, "vidA", domain.VideoStatusTranscriptionQueued, domain.VideoStatusTranscribed); err != nil {
		t.Fatalf("transition vidA transcribed: %v", err)
	}
	if _, err := videos.Transition(ctx, "vidA", domain.VideoStatusTranscribed, domain.VideoStatusSummarized); err != nil {
		t.Fatalf("transition vidA summarized: %v", err)
	}
	if _, err := videos.Transition(ctx, "vidA", domain.VideoStatusSummarized, domain.VideoStatusIndexed); err != nil {
		t.Fatalf("transition vidA indexed: %v", err)
	}

	if _, err := videos.UpsertVideo(ctx, domain.Video{VideoID: "vidB", ChannelID: "UCa"}); err != nil {
		t.Fatalf("upsert vidB: %v", err)
	}
	if _, err := videos.Transition(ctx, "vidB", domain.VideoStatusDiscovered, domain.VideoStatusFailed); err != nil {
		t.Fatalf("transition vidB failed: %v", err)
	}

	if err := q.Enqueue(ctx, "transcribe", "vidB", "", "unsupported_media", "boom", 0, nil, domain.DLQSeverityHigh); err != nil {
		t.Fatalf("dlq enqueue: %v", err)
	}

	summary, health, err := p.Summarize(ctx, plan, 1)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("expected 1 succeeded (indexed) video, got %d", summary.Succeeded)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected 1 failed video, got %d", summary.Failed)
	}
	if summary.DLQCount != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", summary.DLQCount)
	}
	if health < 0 || health > 100 {
		t.Fatalf("health score out of bounds: %v", health)
	}
}
