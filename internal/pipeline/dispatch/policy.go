// Package dispatch implements the Job Scheduler & Dispatcher (C5): run
// planning, per-stage concurrency caps, per-video_id serialization, and the
// retry/DLQ/reject policy decision table of spec section 4.5.
package dispatch

import (
	"math/rand"
	"time"

	"github.com/autopiloot/corepipe/internal/ingesterr"
)

// Decision is the outcome of evaluating one job against the policy table.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionRetry   Decision = "retry"
	DecisionDLQ     Decision = "dlq"
	DecisionReject  Decision = "reject"
)

// Evaluation is the full policy table's input: a job's current retry count,
// its classified error (nil if this is the job's first attempt), and the
// resource-gate signals the dispatcher derives from the worker's result (a
// budget_exceeded error, or a quota retry hint).
type Evaluation struct {
	RetryCount     int
	MaxRetries     int
	Err            error
	QuotaDenied    bool
	QuotaResetIn   time.Duration
	BudgetShort    bool
	EstimatedCost  float64
}

// Outcome is evaluate's result: the decision plus, for DecisionRetry, the
// delay before the next attempt.
type Outcome struct {
	Decision Decision
	Delay    time.Duration
}

// Evaluate implements C5's decision table (spec section 4.5), first-match
// order as listed there.
func Evaluate(e Evaluation) Outcome {
	if e.Err != nil {
		kind := ingesterr.Classify(e.Err)
		if kind == ingesterr.KindTerminal || kind == ingesterr.KindUnknown {
			return Outcome{Decision: DecisionDLQ}
		}
	}

	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if e.RetryCount >= maxRetries {
		return Outcome{Decision: DecisionDLQ}
	}

	if e.QuotaDenied {
		return Outcome{Decision: DecisionRetry, Delay: e.QuotaResetIn}
	}

	if e.BudgetShort {
		return Outcome{Decision: DecisionReject}
	}

	if e.Err != nil && ingesterr.Classify(e.Err) == ingesterr.KindTransient {
		return Outcome{Decision: DecisionRetry, Delay: Backoff(e.RetryCount)}
	}

	return Outcome{Decision: DecisionProceed}
}

// Backoff implements C5's exponential backoff: base 60s * 2^retry_count,
// clipped to 30 minutes, with +/-10% jitter.
func Backoff(retryCount int) time.Duration {
	const base = 60 * time.Second
	const capDur = 30 * time.Minute

	d := base
	for i := 0; i < retryCount && d < capDur; i++ {
		d *= 2
	}
	if d > capDur {
		d = capDur
	}

	jitter := 1 + (rand.Float64()*0.2 - 0.1) // +/-10%
	return time.Duration(float64(d) * jitter)
}
