package workers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/pipeline/ledger"
	"github.com/autopiloot/corepipe/internal/providers"
	"github.com/autopiloot/corepipe/internal/store/memory"
	"github.com/autopiloot/corepipe/internal/workers"
)

type fakeTranscriber struct {
	result providers.TranscriptionResult
	submitErr, pollErr error
}

func (f *fakeTranscriber) Submit(_ context.Context, _ string) (providers.TranscriptionJob, error) {
	if f.submitErr != nil {
		return providers.TranscriptionJob{}, f.submitErr
	}
	return providers.TranscriptionJob{ProviderJobID: "job-1"}, nil
}

func (f *fakeTranscriber) Poll(_ context.Context, _ providers.TranscriptionJob) (providers.TranscriptionResult, error) {
	if f.pollErr != nil {
		return providers.TranscriptionResult{}, f.pollErr
	}
	return f.result, nil
}

func seedDiscoveredVideo(t *testing.T, videos *memory.VideoStore, videoID string, durationSec int) {
	t.Helper()
	if _, err := videos.UpsertVideo(context.Background(), domain.Video{VideoID: videoID, ChannelID: "chanA", DurationSec: durationSec, PublishedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertVideo: %v", err)
	}
}

func TestTranscribeWorkerPersistsTranscriptAndTransitions(t *testing.T) {
	videos := memory.NewVideoStore()
	seedDiscoveredVideo(t, videos, "vidA", 3600)
	blobs := newFakeBlobStore()
	transcriber := &fakeTranscriber{result: providers.TranscriptionResult{Status: providers.TranscriptionCompleted, Text: "hello world", Language: "en"}}
	led := ledger.New(memory.NewLedgerStore(), time.UTC, 100.00, nil, nil)
	w := workers.NewTranscribeWorker(transcriber, blobs, videos, led)

	res := w.Execute(context.Background(), pipeline.Job{VideoID: "vidA"})
	if res.Status != pipeline.ExecSuccess {
		t.Fatalf("expected success, got %s: %v", res.Status, res.Err)
	}
	if res.CostUSD <= 0 {
		t.Fatalf("expected a positive realized cost, got %v", res.CostUSD)
	}
	v, err := videos.GetVideo(context.Background(), "vidA")
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if v.Status != domain.VideoStatusTranscribed {
		t.Fatalf("expected transcribed status, got %s", v.Status)
	}
	tr, err := videos.GetTranscript(context.Background(), "vidA")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if tr.Language != "en" {
		t.Fatalf("expected persisted transcript language en, got %s", tr.Language)
	}
}

func TestTranscribeWorkerDeniesOverBudget(t *testing.T) {
	videos := memory.NewVideoStore()
	seedDiscoveredVideo(t, videos, "vidB", 36000) // 10h * 0.65/h = 6.50 estimated
	blobs := newFakeBlobStore()
	transcriber := &fakeTranscriber{result: providers.TranscriptionResult{Status: providers.TranscriptionCompleted, Text: "x"}}
	led := ledger.New(memory.NewLedgerStore(), time.UTC, 1.00, nil, nil)
	w := workers.NewTranscribeWorker(transcriber, blobs, videos, led)

	res := w.Execute(context.Background(), pipeline.Job{VideoID: "vidB"})
	if res.Status != pipeline.ExecFailed {
		t.Fatalf("expected budget exhaustion to fail the job, got %s", res.Status)
	}
	if res.RetryHint == nil {
		t.Fatal("expected a retry hint naming the budget reset window")
	}
}

func TestTranscribeWorkerIncompleteResultIsTransientFailure(t *testing.T) {
	videos := memory.NewVideoStore()
	seedDiscoveredVideo(t, videos, "vidC", 60)
	blobs := newFakeBlobStore()
	transcriber := &fakeTranscriber{result: providers.TranscriptionResult{Status: providers.TranscriptionError, Error: "bad audio"}}
	led := ledger.New(memory.NewLedgerStore(), time.UTC, 100.00, nil, nil)
	w := workers.NewTranscribeWorker(transcriber, blobs, videos, led)

	res := w.Execute(context.Background(), pipeline.Job{VideoID: "vidC"})
	if res.Status != pipeline.ExecFailed {
		t.Fatalf("expected an incomplete transcription to fail, got %s", res.Status)
	}
	if ingesterr.Classify(res.Err) != ingesterr.KindTransient {
		t.Fatalf("expected incomplete result classified transient, got %v", ingesterr.Classify(res.Err))
	}
}

func TestTranscribeWorkerQuotaExceededCarriesRetryHint(t *testing.T) {
	videos := memory.NewVideoStore()
	seedDiscoveredVideo(t, videos, "vidD", 60)
	blobs := newFakeBlobStore()
	transcriber := &fakeTranscriber{submitErr: ingesterr.QuotaExceeded("assemblyai", errors.New("429"))}
	led := ledger.New(memory.NewLedgerStore(), time.UTC, 100.00, nil, nil)
	w := workers.NewTranscribeWorker(transcriber, blobs, videos, led)

	res := w.Execute(context.Background(), pipeline.Job{VideoID: "vidD"})
	if res.Status != pipeline.ExecFailed {
		t.Fatalf("expected quota exhaustion to fail, got %s", res.Status)
	}
	if res.RetryHint == nil {
		t.Fatal("expected a retry hint on quota exhaustion")
	}
}
