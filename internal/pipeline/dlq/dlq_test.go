package dlq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/internal/pipeline/dlq"
	"github.com/autopiloot/corepipe/internal/store"
	"github.com/autopiloot/corepipe/internal/store/memory"
)

func TestDeriveSeverity(t *testing.T) {
	cases := []struct {
		name       string
		kind       ingesterr.Kind
		errorType  string
		retryCount int
		maxRetries int
		isPaid     bool
		want       domain.DLQSeverity
	}{
		{"terminal auth", ingesterr.KindTerminal, "auth_failure", 0, 3, false, domain.DLQSeverityCritical},
		{"terminal other", ingesterr.KindTerminal, "unsupported_media", 0, 3, true, domain.DLQSeverityCritical},
		{"retries exhausted on paid api", ingesterr.KindTransient, "timeout", 3, 3, true, domain.DLQSeverityHigh},
		{"validation error", ingesterr.KindUnknown, "validation_error", 1, 3, false, domain.DLQSeverityMedium},
		{"transient recovered elsewhere", ingesterr.KindTransient, "rate_limit", 1, 3, false, domain.DLQSeverityLow},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := dlq.DeriveSeverity(c.kind, c.errorType, c.retryCount, c.maxRetries, c.isPaid)
			if got != c.want {
				t.Fatalf("DeriveSeverity(%v, %q, %d, %d, %v) = %v, want %v", c.kind, c.errorType, c.retryCount, c.maxRetries, c.isPaid, got, c.want)
			}
		})
	}
}

func TestEnqueueThenQueryByFilters(t *testing.T) {
	s := memory.NewDLQStore()
	q := dlq.New(s, nil)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "transcribe", "vidA", ingesterr.KindTerminal, "unsupported_media", "nope", 0, nil, domain.DLQSeverityHigh); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "summarize", "vidB", ingesterr.KindTransient, "timeout", "slow", 3, nil, domain.DLQSeverityLow); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entries, err := q.Query(ctx, store.DLQQuery{Severity: domain.DLQSeverityHigh})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].VideoID != "vidA" {
		t.Fatalf("expected exactly one high-severity entry for vidA, got %+v", entries)
	}
}

type fakeRepublisher struct {
	calls int
	lastJobType, lastVideoID string
}

func (f *fakeRepublisher) Republish(_ context.Context, jobType, videoID string, _ map[string]any) error {
	f.calls++
	f.lastJobType, f.lastVideoID = jobType, videoID
	return nil
}

func TestReplayRepublishesAndRemovesEntry(t *testing.T) {
	s := memory.NewDLQStore()
	rep := &fakeRepublisher{}
	q := dlq.New(s, rep)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "index", "vidC", ingesterr.KindPartial, "keyword_sink_down", "down", 1, map[string]any{"video_id": "vidC"}, domain.DLQSeverityLow); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	entries, _ := q.Query(ctx, store.DLQQuery{VideoID: "vidC"})
	if len(entries) != 1 {
		t.Fatalf("expected one entry before replay, got %d", len(entries))
	}

	if err := q.Replay(ctx, entries[0].JobID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if rep.calls != 1 {
		t.Fatalf("expected exactly one republish call, got %d", rep.calls)
	}
	if rep.lastVideoID != "vidC" || rep.lastJobType != "index" {
		t.Fatalf("expected republish for index/vidC, got %s/%s", rep.lastJobType, rep.lastVideoID)
	}

	after, _ := q.Query(ctx, store.DLQQuery{VideoID: "vidC"})
	if len(after) != 0 {
		t.Fatalf("expected replayed entry to be removed from the queue, got %d", len(after))
	}
}

func TestReplayWithoutRepublisherErrors(t *testing.T) {
	s := memory.NewDLQStore()
	q := dlq.New(s, nil)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "index", "vidD", ingesterr.KindPartial, "down", "down", 0, nil, domain.DLQSeverityLow)
	entries, _ := q.Query(ctx, store.DLQQuery{VideoID: "vidD"})

	if err := q.Replay(ctx, entries[0].JobID); err == nil {
		t.Fatal("expected replay without a configured republisher to error")
	}
}

func TestReplayUnknownJobIDErrors(t *testing.T) {
	q := dlq.New(memory.NewDLQStore(), &fakeRepublisher{})
	if err := q.Replay(context.Background(), "does-not-exist"); !errors.Is(err, domain.ErrDLQEntryNotFound) {
		t.Fatalf("expected ErrDLQEntryNotFound, got %v", err)
	}
}
