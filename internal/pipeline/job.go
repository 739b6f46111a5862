// Package pipeline holds the shared job/result vocabulary that the
// dispatcher (package dispatch) and stage workers (package workers) both
// depend on, keeping the dependency direction one-way: dispatch and
// workers both import pipeline, pipeline imports neither.
package pipeline

import (
	"context"
	"time"
)

// StageName names one of the four ordered ingestion stages.
type StageName string

const (
	StageScrape     StageName = "scrape"
	StageTranscribe StageName = "transcribe"
	StageSummarize  StageName = "summarize"
	StageIndex      StageName = "index"
)

// StageOrder is the strict per-video_id execution order (spec section 5).
var StageOrder = []StageName{StageScrape, StageTranscribe, StageSummarize, StageIndex}

// Job is one unit of dispatch: a stage applied to a video (or, for scrape,
// to a channel/sheet source with no video_id yet assigned).
type Job struct {
	JobID      string
	JobType    StageName
	VideoID    string
	RetryCount int
	Inputs     map[string]any
	Seq        uint64
}

// ExecStatus is the uniform worker contract's result discriminant.
type ExecStatus string

const (
	ExecSuccess ExecStatus = "success"
	ExecPartial ExecStatus = "partial"
	ExecFailed  ExecStatus = "failed"
)

// ExecResult is every stage worker's uniform return shape
// (execute(input, context) -> Result{status, outputs, cost_usd, retry_hint}).
type ExecResult struct {
	Status    ExecStatus
	Outputs   map[string]any
	CostUSD   float64
	RetryHint *time.Duration
	Err       error
}

// Worker executes one stage job.
type Worker interface {
	Execute(ctx context.Context, job Job) ExecResult
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(ctx context.Context, job Job) ExecResult

func (f WorkerFunc) Execute(ctx context.Context, job Job) ExecResult { return f(ctx, job) }
