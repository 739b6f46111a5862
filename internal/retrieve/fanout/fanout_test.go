package fanout_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/autopiloot/corepipe/internal/retrieve/fanout"
	"github.com/autopiloot/corepipe/internal/retrieve/router"
	"github.com/autopiloot/corepipe/internal/sinks"
)

type fakeEmbedder struct {
	err   error
	calls *int
}

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.calls != nil {
		*f.calls++
	}
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeSemantic struct {
	hits []sinks.SearchHit
	err  error
	delay time.Duration
	calls int
}

func (f *fakeSemantic) Upsert(context.Context, []sinks.ChunkRecord) error { return nil }
func (f *fakeSemantic) Search(ctx context.Context, _ []float32, _ int, _ map[string]string) ([]sinks.SearchHit, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.hits, f.err
}

type fakeKeyword struct {
	hits []sinks.SearchHit
	err  error
	calls int
}

func (f *fakeKeyword) Upsert(context.Context, []sinks.ChunkRecord) error { return nil }
func (f *fakeKeyword) Search(_ context.Context, _ string, _ int, _ map[string]string) ([]sinks.SearchHit, error) {
	f.calls++
	return f.hits, f.err
}

type fakeStructured struct {
	hits []sinks.SearchHit
	err  error
	calls int
}

func (f *fakeStructured) Upsert(context.Context, []sinks.ChunkRecord) error { return nil }
func (f *fakeStructured) Search(_ context.Context, _ string, _ int) ([]sinks.SearchHit, error) {
	f.calls++
	return f.hits, f.err
}

func TestRetrieveFusesAcrossSourcesWithRRF(t *testing.T) {
	semantic := &fakeSemantic{hits: []sinks.SearchHit{{ChunkID: "a", Score: 0.9}, {ChunkID: "b", Score: 0.8}}}
	keyword := &fakeKeyword{hits: []sinks.SearchHit{{ChunkID: "b", Score: 5.0}, {ChunkID: "a", Score: 4.0}}}
	structured := &fakeStructured{}
	e := fanout.New(semantic, keyword, structured, fakeEmbedder{}, nil)

	out := e.Retrieve(context.Background(), "explain why 2020 torque changed", fanout.Filters{}, 10, "", router.OverrideAlwaysOn, nil)
	if out.Status != "success" {
		t.Fatalf("expected success status, got %s", out.Status)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected two fused results, got %d", len(out.Results))
	}
	for _, r := range out.Results {
		if len(r.MatchedSources) != 2 {
			t.Fatalf("expected chunk %s to have matched both sources, got %v", r.ChunkID, r.MatchedSources)
		}
	}
}

func TestRetrieveDegradesWhenOneSourceErrors(t *testing.T) {
	semantic := &fakeSemantic{err: errors.New("timeout")}
	keyword := &fakeKeyword{hits: []sinks.SearchHit{{ChunkID: "a", Score: 1.0}}}
	structured := &fakeStructured{}
	e := fanout.New(semantic, keyword, structured, fakeEmbedder{}, nil)

	out := e.Retrieve(context.Background(), "anything", fanout.Filters{}, 10, "", router.OverrideForced, []router.Source{router.SourceSemantic, router.SourceKeyword})
	if out.Status != "success" {
		t.Fatalf("expected partial success when one source survives, got %s", out.Status)
	}
	if _, ok := out.Errors[string(router.SourceSemantic)]; !ok {
		t.Fatal("expected the failing source's error to be recorded")
	}
	if len(out.Results) != 1 {
		t.Fatalf("expected one surviving result, got %d", len(out.Results))
	}
}

func TestRetrieveNoSourcesAvailableWhenAllFail(t *testing.T) {
	semantic := &fakeSemantic{err: errors.New("down")}
	keyword := &fakeKeyword{err: errors.New("down")}
	structured := &fakeStructured{err: errors.New("down")}
	e := fanout.New(semantic, keyword, structured, fakeEmbedder{}, nil)

	out := e.Retrieve(context.Background(), "anything", fanout.Filters{}, 10, "", router.OverrideAlwaysOn, nil)
	if out.Status != "no_sources_available" {
		t.Fatalf("expected no_sources_available, got %s", out.Status)
	}
	if len(out.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(out.Results))
	}
}

func TestRetrieveRespectsPerSourceTimeout(t *testing.T) {
	semantic := &fakeSemantic{hits: []sinks.SearchHit{{ChunkID: "slow"}}, delay: 50 * time.Millisecond}
	keyword := &fakeKeyword{hits: []sinks.SearchHit{{ChunkID: "fast", Score: 1.0}}}
	structured := &fakeStructured{}
	e := fanout.New(semantic, keyword, structured, fakeEmbedder{}, nil).WithTimeout(5 * time.Millisecond)

	out := e.Retrieve(context.Background(), "anything", fanout.Filters{}, 10, "", router.OverrideAlwaysOn, nil)
	if _, timedOut := out.Errors[string(router.SourceSemantic)]; !timedOut {
		t.Fatal("expected the slow source to time out and record an error")
	}
	if len(out.Results) != 1 || out.Results[0].ChunkID != "fast" {
		t.Fatalf("expected only the fast source's result to survive, got %+v", out.Results)
	}
}

func TestRetrieveWithZeroTopKReturnsEmptyWithNoSourceCalls(t *testing.T) {
	semantic := &fakeSemantic{hits: []sinks.SearchHit{{ChunkID: "a"}}}
	keyword := &fakeKeyword{hits: []sinks.SearchHit{{ChunkID: "a"}}}
	structured := &fakeStructured{hits: []sinks.SearchHit{{ChunkID: "a"}}}
	embedCalls := 0
	e := fanout.New(semantic, keyword, structured, fakeEmbedder{calls: &embedCalls}, nil)

	out := e.Retrieve(context.Background(), "anything", fanout.Filters{}, 0, "", router.OverrideAlwaysOn, nil)
	if len(out.Results) != 0 {
		t.Fatalf("expected top_k=0 to return no results, got %d", len(out.Results))
	}
	if len(out.Errors) != 0 {
		t.Fatalf("expected no per-source errors since no source should be called, got %v", out.Errors)
	}
	if semantic.calls != 0 || keyword.calls != 0 || structured.calls != 0 || embedCalls != 0 {
		t.Fatalf("expected no source calls for top_k=0, got semantic=%d keyword=%d structured=%d embed=%d",
			semantic.calls, keyword.calls, structured.calls, embedCalls)
	}
}

func TestRetrieveClampsTopK(t *testing.T) {
	hits := make([]sinks.SearchHit, 0, fanout.MaxTopK+10)
	for i := 0; i < fanout.MaxTopK+10; i++ {
		hits = append(hits, sinks.SearchHit{ChunkID: fmt.Sprintf("chunk-%d", i)})
	}
	keyword := &fakeKeyword{hits: hits}
	e := fanout.New(&fakeSemantic{}, keyword, &fakeStructured{}, fakeEmbedder{}, nil)

	out := e.Retrieve(context.Background(), "anything", fanout.Filters{}, fanout.MaxTopK+50, "", router.OverrideForced, []router.Source{router.SourceKeyword})
	if len(out.Results) > fanout.MaxTopK {
		t.Fatalf("expected results clamped to MaxTopK=%d, got %d", fanout.MaxTopK, len(out.Results))
	}
}
