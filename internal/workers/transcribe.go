package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/pipeline/ledger"
	"github.com/autopiloot/corepipe/internal/providers"
	"github.com/autopiloot/corepipe/internal/store"
)

// TranscriptionUSDPerHour is AssemblyAI's per-hour billing rate used to
// derive realized cost from audio duration (spec section 4.2's cost
// formula: duration_sec/3600*0.65).
const TranscriptionUSDPerHour = 0.65

// TranscribeWorker submits a video's audio for transcription, polls to
// completion, and persists the resulting transcript.
type TranscribeWorker struct {
	transcriber providers.Transcriber
	blobs       providers.BlobStore
	videos      store.VideoStore
	ledger      *ledger.Ledger
}

func NewTranscribeWorker(t providers.Transcriber, b providers.BlobStore, videos store.VideoStore, led *ledger.Ledger) *TranscribeWorker {
	return &TranscribeWorker{transcriber: t, blobs: b, videos: videos, ledger: led}
}

// Execute implements pipeline.Worker.
func (w *TranscribeWorker) Execute(ctx context.Context, job pipeline.Job) pipeline.ExecResult {
	v, err := w.videos.GetVideo(ctx, job.VideoID)
	if err != nil {
		return failed(fmt.Errorf("transcribe: %w", err))
	}

	estimatedCost := float64(v.DurationSec) / 3600 * TranscriptionUSDPerHour
	allow, _, resetIn, err := w.ledger.CheckBudget(ctx, time.Now(), estimatedCost)
	if err != nil {
		return failed(fmt.Errorf("transcribe: budget check: %w", err))
	}
	if !allow {
		hint := resetIn
		return pipeline.ExecResult{Status: pipeline.ExecFailed, Err: ingesterr.BudgetExceeded("daily_cap", fmt.Errorf("transcribe: daily transcription budget exhausted")), RetryHint: &hint}
	}

	audioURL, err := w.blobs.AudioURL(ctx, job.VideoID)
	if err != nil {
		return failed(fmt.Errorf("transcribe: resolve audio: %w", err))
	}

	tjob, err := w.transcriber.Submit(ctx, audioURL)
	if err != nil {
		return errResult(err)
	}
	result, err := w.transcriber.Poll(ctx, tjob)
	if err != nil {
		return errResult(err)
	}
	if result.Status != providers.TranscriptionCompleted {
		return failed(ingesterr.Transient("incomplete", fmt.Errorf("transcribe: job %s ended in status %s", tjob.ProviderJobID, result.Status)))
	}

	path, err := w.blobs.PutText(ctx, "transcript_txt", job.VideoID, result.Text)
	if err != nil {
		return failed(fmt.Errorf("transcribe: store artifact: %w", err))
	}
	digest := contentDigest(result.Text)

	t := domain.Transcript{
		VideoID:       job.VideoID,
		ArtifactRefs:  []domain.ArtifactRef{{Kind: "transcript_txt", Path: path}},
		ContentDigest: digest,
		CostUSD:       estimatedCost,
		Language:      result.Language,
		DurationSec:   v.DurationSec,
	}
	if _, err := w.videos.PutTranscript(ctx, t); err != nil && err != domain.ErrDigestUnchanged {
		return failed(fmt.Errorf("transcribe: persist: %w", err))
	}
	if _, err := w.videos.Transition(ctx, job.VideoID, domain.VideoStatusDiscovered, domain.VideoStatusTranscribed); err != nil {
		return failed(fmt.Errorf("transcribe: transition: %w", err))
	}

	return pipeline.ExecResult{
		Status:  pipeline.ExecSuccess,
		Outputs: map[string]any{"chars": len(result.Text)},
		CostUSD: estimatedCost,
	}
}

// defaultQuotaRetryHint is used when a quota-exceeded error carries no
// provider-reported reset time of its own.
const defaultQuotaRetryHint = time.Hour

func errResult(err error) pipeline.ExecResult {
	if kind := ingesterr.Classify(err); kind == ingesterr.KindQuotaExceeded {
		hint := defaultQuotaRetryHint
		return pipeline.ExecResult{Status: pipeline.ExecFailed, Err: err, RetryHint: &hint}
	}
	return failed(err)
}
