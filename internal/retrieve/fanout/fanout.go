// Package fanout implements the Retrieval Fan-Out Engine (C7): parallel
// queries against the sources the Adaptive Router selected, Reciprocal
// Rank Fusion over their results, and degraded-mode handling when a
// source errors or times out. Grounded on the pack's fn.FanOutTolerant
// fan-out helper, the same pattern internal/workers/index.go uses for its
// own tolerant three-sink write.
package fanout

import (
	"context"
	"sort"
	"time"

	"github.com/autopiloot/corepipe/internal/retrieve"
	"github.com/autopiloot/corepipe/internal/retrieve/router"
	"github.com/autopiloot/corepipe/internal/sinks"
	"github.com/autopiloot/corepipe/pkg/fn"
)

// KRRF is Reciprocal Rank Fusion's smoothing constant (spec section 4.7).
const KRRF = 60

// DefaultTopK and MaxTopK bound the result set size.
const (
	DefaultTopK = 10
	MaxTopK     = 100
)

// DefaultSourceTimeout is each source call's independent deadline.
const DefaultSourceTimeout = 1500 * time.Millisecond

// Filters mirrors C7's contract filters with the concrete bounds fanout
// needs to query the sinks themselves; routerFilters converts it to the
// router.Filters the routing decision takes.
type Filters struct {
	ChannelID      string
	MinPublishedAt time.Time
	MaxPublishedAt time.Time
	HasMinDate     bool
	HasMaxDate     bool
}

func (f Filters) routerFilters() router.Filters {
	return router.Filters{ChannelID: f.ChannelID, MinPublishedAt: f.HasMinDate, MaxPublishedAt: f.HasMaxDate}
}

func (f Filters) sinkFilters() map[string]string {
	if f.ChannelID == "" {
		return nil
	}
	return map[string]string{"channel_id": f.ChannelID}
}

// Embedder resolves a query string to a dense vector for the semantic sink.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FusionMode selects how per-source rank lists are combined into one score.
type FusionMode string

const (
	FusionRRF      FusionMode = "rrf"
	FusionWeighted FusionMode = "weighted"
)

// SourceWeights holds the per-source weight used by FusionWeighted,
// multiplied into each of that source's raw hit scores before they are
// summed (spec section 9, Open Question 3). Unlisted sources, and sources
// weighted 0, default to 1.0.
type SourceWeights map[router.Source]float64

// DefaultSourceWeights mirrors the RRF ranking's implicit parity: every
// source contributes equally unless the operator overrides it.
var DefaultSourceWeights = SourceWeights{
	router.SourceSemantic:   1.0,
	router.SourceKeyword:    1.0,
	router.SourceStructured: 1.0,
}

// Engine is C7.
type Engine struct {
	Semantic   sinks.SemanticSink
	Keyword    sinks.KeywordSink
	Structured sinks.StructuredSink
	Embedder   Embedder

	timeout   time.Duration
	available map[router.Source]bool
	mode      FusionMode
	weights   SourceWeights
}

// New constructs an Engine. available reports per-source runtime health
// (the C2-analog ping/cached-status signal spec section 4.7 step 1 calls
// for); a nil map treats every source as available. Fusion defaults to RRF.
func New(semantic sinks.SemanticSink, keyword sinks.KeywordSink, structuredSink sinks.StructuredSink, embedder Embedder, available map[router.Source]bool) *Engine {
	return &Engine{Semantic: semantic, Keyword: keyword, Structured: structuredSink, Embedder: embedder, timeout: DefaultSourceTimeout, available: available, mode: FusionRRF, weights: DefaultSourceWeights}
}

// WithTimeout overrides the per-source timeout.
func (e *Engine) WithTimeout(d time.Duration) *Engine {
	e.timeout = d
	return e
}

// WithFusionMode switches between RRF (default) and weighted-sum fusion.
func (e *Engine) WithFusionMode(mode FusionMode) *Engine {
	if mode == "" {
		mode = FusionRRF
	}
	e.mode = mode
	return e
}

// WithSourceWeights overrides the per-source weights used by weighted-sum
// fusion. Has no effect under RRF.
func (e *Engine) WithSourceWeights(w SourceWeights) *Engine {
	e.weights = w
	return e
}

type sourceOutcome struct {
	source router.Source
	hits   []sinks.SearchHit
	err    error
}

// Retrieve implements C7's contract: retrieve(query, filters, top_k) ->
// FusedResult. The source set comes from router.Route; videoID, if
// non-empty, is used for the structured sink's exact lookup.
func (e *Engine) Retrieve(ctx context.Context, query string, filters Filters, topK int, videoID string, override router.OverrideMode, forced []router.Source) retrieve.FusedResult {
	if topK == 0 {
		return retrieve.FusedResult{Status: "success", Errors: map[string]string{}}
	}
	if topK < 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	decision := router.Route(query, filters.routerFilters(), e.available, override, forced)

	fns := make([]func() fn.Result[sourceOutcome], 0, len(decision.Selected))
	for _, src := range decision.Selected {
		src := src
		fns = append(fns, func() fn.Result[sourceOutcome] {
			return fn.Ok(e.queryOne(ctx, src, query, filters, topK, videoID))
		})
	}

	outcomes := fn.FanOutTolerant(fns...)

	fused := retrieve.FusedResult{Errors: map[string]string{}}
	rankLists := make(map[router.Source][]sinks.SearchHit)
	var survived int
	for _, o := range outcomes {
		oc := o.Must()
		if oc.err != nil {
			fused.Errors[string(oc.source)] = oc.err.Error()
			continue
		}
		rankLists[oc.source] = oc.hits
		survived++
	}

	if survived == 0 {
		fused.Status = "no_sources_available"
		return fused
	}

	fused.Status = "success"
	if e.mode == FusionWeighted {
		fused.Results = fuseWeighted(rankLists, e.weights)
	} else {
		fused.Results = fuse(rankLists)
	}
	if len(fused.Results) > topK {
		fused.Results = fused.Results[:topK]
	}
	return fused
}

// queryOne runs a single source's query under its own timeout, so a slow
// source never delays the others and a global cancellation still reaches
// every in-flight call (spec section 4.7's timeouts & cancellation rule).
func (e *Engine) queryOne(ctx context.Context, src router.Source, query string, filters Filters, topK int, videoID string) sourceOutcome {
	sourceCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch src {
	case router.SourceSemantic:
		embedding, err := e.Embedder.Embed(sourceCtx, query)
		if err != nil {
			return sourceOutcome{source: src, err: err}
		}
		hits, err := e.Semantic.Search(sourceCtx, embedding, topK, filters.sinkFilters())
		return sourceOutcome{source: src, hits: hits, err: err}
	case router.SourceKeyword:
		hits, err := e.Keyword.Search(sourceCtx, query, topK, filters.sinkFilters())
		return sourceOutcome{source: src, hits: hits, err: err}
	case router.SourceStructured:
		hits, err := e.Structured.Search(sourceCtx, videoID, topK)
		return sourceOutcome{source: src, hits: hits, err: err}
	default:
		return sourceOutcome{source: src}
	}
}

// fuse implements Reciprocal Rank Fusion over each source's ranked hit
// list, then the spec's deterministic tie-break order.
func fuse(rankLists map[router.Source][]sinks.SearchHit) []retrieve.Result {
	merged := map[string]*retrieve.Result{}
	for src, hits := range rankLists {
		for rank, h := range hits {
			r, ok := merged[h.ChunkID]
			if !ok {
				r = &retrieve.Result{
					ChunkID:   h.ChunkID,
					VideoID:   h.VideoID,
					ChannelID: h.ChannelID,
					Text:      h.Text,
				}
				if !h.PublishedAt.IsZero() {
					r.PublishedAt = h.PublishedAt
					r.HasPublishedAt = true
				}
				merged[h.ChunkID] = r
			}
			r.ScoreFused += 1.0 / float64(KRRF+rank+1)
			if h.Score > r.MaxSourceScore {
				r.MaxSourceScore = h.Score
			}
			r.MatchedSources = append(r.MatchedSources, string(src))
		}
	}

	out := make([]retrieve.Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScoreFused != out[j].ScoreFused {
			return out[i].ScoreFused > out[j].ScoreFused
		}
		if out[i].MaxSourceScore != out[j].MaxSourceScore {
			return out[i].MaxSourceScore > out[j].MaxSourceScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// fuseWeighted implements the Open Question 3 alternative to RRF: each
// source's raw hit score is weighted and summed instead of rank-smoothed.
// Same merge and tie-break rule as fuse, different scoring term.
func fuseWeighted(rankLists map[router.Source][]sinks.SearchHit, weights SourceWeights) []retrieve.Result {
	merged := map[string]*retrieve.Result{}
	for src, hits := range rankLists {
		weight := weights[src]
		if weight == 0 {
			weight = 1.0
		}
		for _, h := range hits {
			r, ok := merged[h.ChunkID]
			if !ok {
				r = &retrieve.Result{
					ChunkID:   h.ChunkID,
					VideoID:   h.VideoID,
					ChannelID: h.ChannelID,
					Text:      h.Text,
				}
				if !h.PublishedAt.IsZero() {
					r.PublishedAt = h.PublishedAt
					r.HasPublishedAt = true
				}
				merged[h.ChunkID] = r
			}
			r.ScoreFused += weight * h.Score
			if h.Score > r.MaxSourceScore {
				r.MaxSourceScore = h.Score
			}
			r.MatchedSources = append(r.MatchedSources, string(src))
		}
	}

	out := make([]retrieve.Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScoreFused != out[j].ScoreFused {
			return out[i].ScoreFused > out[j].ScoreFused
		}
		if out[i].MaxSourceScore != out[j].MaxSourceScore {
			return out[i].MaxSourceScore > out[j].MaxSourceScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}
