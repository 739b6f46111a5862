package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/pipeline/alerts"
	"github.com/autopiloot/corepipe/internal/pipeline/dlq"
	"github.com/autopiloot/corepipe/internal/pipeline/keymutex"
	"github.com/autopiloot/corepipe/internal/pipeline/ledger"
	"github.com/autopiloot/corepipe/internal/observability"
	"github.com/autopiloot/corepipe/internal/store"
	"github.com/autopiloot/corepipe/pkg/natsutil"
)

// JobSubject is the NATS subject a stage's jobs are dispatched on.
func JobSubject(stage pipeline.StageName) string { return "corepipe.dispatch." + string(stage) }

// DefaultConcurrency is C5's per-stage concurrency cap (spec section 4.5).
var DefaultConcurrency = map[pipeline.StageName]int{
	pipeline.StageScrape:     1,
	pipeline.StageTranscribe: 3,
	pipeline.StageSummarize:  3,
	pipeline.StageIndex:      5,
}

// GracePeriod is a shutdown bound for an in-flight worker's current external
// call. The Dispatcher does not apply it: Stop unsubscribes without waiting
// for running jobs.
const GracePeriod = 30 * time.Second

// Config tunes the dispatcher.
type Config struct {
	MaxRetries   int
	Concurrency  map[pipeline.StageName]int
	QuotaService map[pipeline.StageName]string // stage -> ledger service name, "" if ungated
}

// Dispatcher is C5.
type Dispatcher struct {
	nc      *nats.Conn
	videos  store.VideoStore
	ledger  *ledger.Ledger
	dlq     *dlq.Queue
	alerts  *alerts.Sink
	workers map[pipeline.StageName]pipeline.Worker
	km      *keymutex.Map
	cfg     Config
	log     *slog.Logger

	seq  atomic.Uint64
	subs []*nats.Subscription

	sem map[pipeline.StageName]chan struct{}
}

// New constructs a Dispatcher. Call Start to subscribe every configured
// worker to its stage subject.
func New(nc *nats.Conn, videos store.VideoStore, led *ledger.Ledger, q *dlq.Queue, al *alerts.Sink, workers map[pipeline.StageName]pipeline.Worker, cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Concurrency == nil {
		cfg.Concurrency = DefaultConcurrency
	}
	sem := make(map[pipeline.StageName]chan struct{})
	for _, stage := range pipeline.StageOrder {
		n := cfg.Concurrency[stage]
		if n <= 0 {
			n = 1
		}
		sem[stage] = make(chan struct{}, n)
	}
	return &Dispatcher{
		nc: nc, videos: videos, ledger: led, dlq: q, alerts: al,
		workers: workers, km: keymutex.New(), cfg: cfg, log: log, sem: sem,
	}
}

// Republish implements dlq.Republisher: it resets retry_count to zero and
// redispatches the job's original inputs onto its stage subject.
func (d *Dispatcher) Republish(ctx context.Context, jobType string, videoID string, inputs map[string]any) error {
	job := pipeline.Job{
		JobID:      fmt.Sprintf("%s-%s-replay-%d", jobType, videoID, time.Now().UnixNano()),
		JobType:    pipeline.StageName(jobType),
		VideoID:    videoID,
		RetryCount: 0,
		Inputs:     inputs,
		Seq:        d.seq.Add(1),
	}
	return natsutil.Publish(ctx, d.nc, JobSubject(job.JobType), job)
}

// Dispatch enqueues a job for dispatch onto its stage subject.
func (d *Dispatcher) Dispatch(ctx context.Context, job pipeline.Job) error {
	job.Seq = d.seq.Add(1)
	return natsutil.Publish(ctx, d.nc, JobSubject(job.JobType), job)
}

// Start subscribes every configured worker to its stage subject, running
// jobs with per-stage bounded concurrency and per-video_id serialization.
func (d *Dispatcher) Start() error {
	for stage, worker := range d.workers {
		stage, worker := stage, worker
		sub, err := natsutil.Subscribe[pipeline.Job](d.nc, JobSubject(stage), func(ctx context.Context, job pipeline.Job) {
			d.runJob(ctx, stage, worker, job)
		})
		if err != nil {
			return fmt.Errorf("dispatch: subscribe %s: %w", stage, err)
		}
		d.subs = append(d.subs, sub)
	}
	return nil
}

// Stop unsubscribes every stage listener.
func (d *Dispatcher) Stop() {
	for _, sub := range d.subs {
		_ = sub.Unsubscribe()
	}
}

func (d *Dispatcher) runJob(ctx context.Context, stage pipeline.StageName, worker pipeline.Worker, job pipeline.Job) {
	sem := d.sem[stage]
	sem <- struct{}{}
	defer func() { <-sem }()

	d.km.Lock(job.VideoID)
	defer d.km.Unlock(job.VideoID)

	runCtx, cancel := context.WithTimeout(ctx, d.stageTimeout(stage))
	defer cancel()

	start := time.Now()
	result := worker.Execute(runCtx, job)
	observability.StageExecDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	observability.StageExecTotal.WithLabelValues(string(stage), string(result.Status)).Inc()

	if result.CostUSD > 0 {
		if _, err := d.ledger.RecordCost(ctx, time.Now(), result.CostUSD); err != nil {
			d.log.Error("dispatch.record_cost_failed", "stage", stage, "video_id", job.VideoID, "error", err)
		}
	}

	switch result.Status {
	case pipeline.ExecSuccess:
		d.log.Info("dispatch.success", "stage", stage, "video_id", job.VideoID, "seq", job.Seq)
		d.advance(ctx, stage, job)
		return
	case pipeline.ExecPartial:
		d.log.Warn("dispatch.partial", "stage", stage, "video_id", job.VideoID, "error", result.Err)
		// Partial successes still advance per C6.4's lenient default; callers
		// that need strict mode return ExecFailed instead.
		d.advance(ctx, stage, job)
		return
	}

	eval := Evaluation{
		RetryCount: job.RetryCount,
		MaxRetries: d.cfg.MaxRetries,
		Err:        result.Err,
	}
	if ingesterr.Classify(result.Err) == ingesterr.KindBudgetExceeded {
		eval.BudgetShort = true
	} else if result.RetryHint != nil {
		eval.QuotaDenied = true
		eval.QuotaResetIn = *result.RetryHint
	}
	outcome := Evaluate(eval)

	switch outcome.Decision {
	case DecisionProceed:
		d.advance(ctx, stage, job)
	case DecisionRetry:
		job.RetryCount++
		d.log.Warn("dispatch.retry", "stage", stage, "video_id", job.VideoID, "retry_count", job.RetryCount, "delay", outcome.Delay)
		go func(job pipeline.Job, delay time.Duration) {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
				_ = d.Dispatch(context.Background(), job)
			case <-ctx.Done():
			}
		}(job, outcome.Delay)
	case DecisionDLQ:
		d.toDLQ(ctx, stage, job, result.Err)
	case DecisionReject:
		d.log.Warn("dispatch.reject", "stage", stage, "video_id", job.VideoID, "reason", "budget_exceeded")
		_, _ = d.alerts.Emit(ctx, "budget_exceeded", domain.DLQSeverityMedium, map[string]any{
			"stage": stage, "video_id": job.VideoID,
		})
	}
}

func (d *Dispatcher) advance(ctx context.Context, stage pipeline.StageName, job pipeline.Job) {
	next, ok := nextStage(stage)
	if !ok {
		return
	}
	nextJob := pipeline.Job{
		JobID:   fmt.Sprintf("%s-%s", next, job.VideoID),
		JobType: next,
		VideoID: job.VideoID,
		Inputs:  job.Inputs,
	}
	if err := d.Dispatch(ctx, nextJob); err != nil {
		d.log.Error("dispatch.advance_failed", "next_stage", next, "video_id", job.VideoID, "error", err)
	}
}

func nextStage(stage pipeline.StageName) (pipeline.StageName, bool) {
	for i, s := range pipeline.StageOrder {
		if s == stage && i+1 < len(pipeline.StageOrder) {
			return pipeline.StageOrder[i+1], true
		}
	}
	return "", false
}

func (d *Dispatcher) toDLQ(ctx context.Context, stage pipeline.StageName, job pipeline.Job, err error) {
	kind := ingesterr.Classify(err)
	errorType := ingesterr.ErrorType(err)
	if errorType == "" {
		errorType = "unknown"
	}
	isPaid := stage == pipeline.StageTranscribe || stage == pipeline.StageSummarize
	severity := dlq.DeriveSeverity(kind, errorType, job.RetryCount, d.cfg.MaxRetries, isPaid)

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if e := d.dlq.Enqueue(ctx, string(job.JobType), job.VideoID, kind, errorType, msg, job.RetryCount, job.Inputs, severity); e != nil {
		d.log.Error("dispatch.dlq_enqueue_failed", "video_id", job.VideoID, "error", e)
	}
	observability.DLQEntriesTotal.WithLabelValues(string(severity)).Inc()
	if _, vErr := d.videos.Transition(ctx, job.VideoID, "", domain.VideoStatusFailed); vErr != nil {
		d.log.Debug("dispatch.transition_to_failed_skipped", "video_id", job.VideoID, "error", vErr)
	}
	d.log.Error("dispatch.dlq", "stage", stage, "video_id", job.VideoID, "severity", severity, "error", err)
}

func (d *Dispatcher) stageTimeout(stage pipeline.StageName) time.Duration {
	switch stage {
	case pipeline.StageTranscribe:
		return 6 * time.Minute
	case pipeline.StageSummarize:
		return 2 * time.Minute
	case pipeline.StageIndex:
		return time.Minute
	default:
		return 30 * time.Second
	}
}
