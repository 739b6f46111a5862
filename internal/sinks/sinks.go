// Package sinks declares the three-way fan-out write contract C6.4's Index
// stage writes to: a semantic (vector) sink, a keyword (full-text) sink,
// and a structured (columnar) sink, each independently idempotent on
// chunk_id so a partial failure can be retried without duplicating rows.
package sinks

import (
	"context"
	"time"
)

// ChunkRecord is one chunk projected into a retrieval sink.
type ChunkRecord struct {
	ChunkID       string
	VideoID       string
	ChannelID     string
	PublishedAt   time.Time
	Text          string
	ContentSHA256 string
	Embedding     []float32
}

// SearchHit is one sink's result for a query.
type SearchHit struct {
	ChunkID     string
	VideoID     string
	ChannelID   string
	PublishedAt time.Time
	Score       float64
	Text        string
}

// SemanticSink is the vector-similarity retrieval sink (Qdrant).
type SemanticSink interface {
	Upsert(ctx context.Context, records []ChunkRecord) error
	Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]SearchHit, error)
}

// KeywordSink is the full-text/BM25 retrieval sink (OpenSearch).
type KeywordSink interface {
	Upsert(ctx context.Context, records []ChunkRecord) error
	Search(ctx context.Context, query string, topK int, filters map[string]string) ([]SearchHit, error)
}

// StructuredSink is the columnar analytics/exact-match sink (ClickHouse).
type StructuredSink interface {
	Upsert(ctx context.Context, records []ChunkRecord) error
	Search(ctx context.Context, videoID string, topK int) ([]SearchHit, error)
}
