// Package router implements the Adaptive Router (C8): query intent and
// filter-strength classification feeding a fixed routing table, grounded
// directly in the original pipeline's adaptive_query_routing keyword
// tables.
package router

import "strings"

// Source names the retrieval sinks C7 can select.
type Source string

const (
	SourceSemantic   Source = "semantic"
	SourceKeyword    Source = "keyword"
	SourceStructured Source = "structured"
)

// Intent is the query's classified information need.
type Intent string

const (
	IntentConceptual Intent = "conceptual"
	IntentFactual    Intent = "factual"
	IntentMixed      Intent = "mixed"
	IntentUnknown    Intent = "unknown"
)

// FilterStrength reflects how constrained the caller's filters are.
type FilterStrength string

const (
	FilterStrong   FilterStrength = "strong"
	FilterModerate FilterStrength = "moderate"
	FilterNone     FilterStrength = "none"
)

// OverrideMode lets an operator force routing behavior.
type OverrideMode string

const (
	OverrideAdaptive OverrideMode = "adaptive"
	OverrideAlwaysOn OverrideMode = "always_on"
	OverrideForced   OverrideMode = "forced"
)

// Filters mirrors C7's filter contract, used only to derive filter strength.
type Filters struct {
	ChannelID       string
	MinPublishedAt  bool
	MaxPublishedAt  bool
}

func (f Filters) hasChannel() bool { return f.ChannelID != "" }
func (f Filters) hasDateRange() bool { return f.MinPublishedAt || f.MaxPublishedAt }

var conceptualKeywords = []string{"how", "why", "explain", "concept", "framework"}
var factualKeywords = []string{"when", "who", "where", "which"}

// ClassifyIntent implements C8's keyword-signal intent classification.
func ClassifyIntent(query string) Intent {
	q := strings.ToLower(query)
	conceptual := containsAny(q, conceptualKeywords)
	factual := containsAny(q, factualKeywords) || hasExactNumberOrDate(q)

	switch {
	case conceptual && factual:
		return IntentMixed
	case conceptual:
		return IntentConceptual
	case factual:
		return IntentFactual
	default:
		return IntentUnknown
	}
}

func containsAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func hasExactNumberOrDate(q string) bool {
	for _, r := range q {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// ClassifyFilterStrength implements C8's filter-strength rule.
func ClassifyFilterStrength(f Filters) FilterStrength {
	switch {
	case f.hasChannel() && f.hasDateRange():
		return FilterStrong
	case f.hasChannel() || f.hasDateRange():
		return FilterModerate
	default:
		return FilterNone
	}
}

// Decision is route's result.
type Decision struct {
	Selected  []Source
	Strategy  string
	Rationale string
}

// Route implements C8's contract: route(query, filters, availability) ->
// {selected_sources, strategy, rationale}. available lists sources the
// caller has confirmed are healthy; unavailable sources are dropped from
// whatever the routing table selected.
func Route(query string, filters Filters, available map[Source]bool, override OverrideMode, forced []Source) Decision {
	if override == OverrideAlwaysOn {
		return finalize(allSources(), available, "always_on", "operator override forces all sources")
	}
	if override == OverrideForced && len(forced) > 0 {
		return finalize(forced, available, "forced", "operator override pins the selected source set")
	}

	intent := ClassifyIntent(query)
	strength := ClassifyFilterStrength(filters)

	switch {
	case strength == FilterStrong:
		return finalize([]Source{SourceKeyword, SourceStructured}, available, "filter_optimized", "strong filters (channel + date range) favor exact-match sources")
	case strength == FilterNone && intent == IntentConceptual:
		return finalize([]Source{SourceSemantic, SourceKeyword}, available, "semantic_optimized", "conceptual query with no filters favors semantic similarity")
	case strength == FilterModerate && intent == IntentFactual:
		return finalize([]Source{SourceKeyword, SourceStructured}, available, "keyword_optimized", "moderate filters on a factual query favor exact-match sources")
	case intent == IntentMixed:
		return finalize(allSources(), available, "comprehensive", "mixed intent draws on every source")
	default:
		return finalize(allSources(), available, "fallback", "no routing rule matched; falling back to all sources")
	}
}

func allSources() []Source { return []Source{SourceSemantic, SourceKeyword, SourceStructured} }

func finalize(candidates []Source, available map[Source]bool, strategy, rationale string) Decision {
	var selected []Source
	var dropped []Source
	for _, s := range candidates {
		if available == nil || available[s] {
			selected = append(selected, s)
		} else {
			dropped = append(dropped, s)
		}
	}
	if len(dropped) > 0 {
		rationale += "; dropped unavailable sources: " + joinSources(dropped)
	}
	return Decision{Selected: selected, Strategy: strategy, Rationale: rationale}
}

func joinSources(sources []Source) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return strings.Join(names, ",")
}
