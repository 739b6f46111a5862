// Package retrieve holds the types shared between the Retrieval Fan-Out
// Engine (C7), the Adaptive Router (C8, see the router subpackage), and the
// Policy Enforcer (C9): the fused result record that flows from one into
// the other.
package retrieve

import "time"

// Result is one fused hit flowing out of C7 and through C9. It generalizes
// spec section 4.7's per-source `{chunk_id, score, metadata, text_or_preview,
// source_tag}` shape into the fused record carried downstream.
type Result struct {
	ChunkID        string
	VideoID        string
	ChannelID      string
	PublishedAt    time.Time
	HasPublishedAt bool
	Text           string
	ScoreFused     float64
	MaxSourceScore float64
	MatchedSources []string

	Redacted bool
}

// FusedResult is C7's contract return value.
type FusedResult struct {
	Results []Result
	Errors  map[string]string // source -> error message, for dropped sources
	Status  string            // "success" or "no_sources_available"
}
