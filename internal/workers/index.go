package workers

import (
	"context"
	"fmt"

	"github.com/autopiloot/corepipe/internal/chunk"
	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/providers"
	"github.com/autopiloot/corepipe/internal/sinks"
	"github.com/autopiloot/corepipe/internal/store"
	"github.com/autopiloot/corepipe/pkg/fn"
)

// IndexWorker chunks a video's transcript and fans the chunks out across
// the semantic, keyword, and structured sinks, skipping chunks whose
// content hash is already present (spec section 4.1's idempotent-write
// invariant).
type IndexWorker struct {
	embedder  providers.Embedder
	blobs     providers.BlobStore
	videos    store.VideoStore
	records   store.IndexRecordStore
	semantic  sinks.SemanticSink
	keyword   sinks.KeywordSink
	structured sinks.StructuredSink
	chunkOpts chunk.Options
}

func NewIndexWorker(embedder providers.Embedder, blobs providers.BlobStore, videos store.VideoStore, records store.IndexRecordStore, semantic sinks.SemanticSink, keyword sinks.KeywordSink, structuredSink sinks.StructuredSink, chunkOpts chunk.Options) *IndexWorker {
	return &IndexWorker{
		embedder: embedder, blobs: blobs, videos: videos, records: records,
		semantic: semantic, keyword: keyword, structured: structuredSink, chunkOpts: chunkOpts,
	}
}

// Execute implements pipeline.Worker.
func (w *IndexWorker) Execute(ctx context.Context, job pipeline.Job) pipeline.ExecResult {
	v, err := w.videos.GetVideo(ctx, job.VideoID)
	if err != nil {
		return failed(fmt.Errorf("index: %w", err))
	}
	t, err := w.videos.GetTranscript(ctx, job.VideoID)
	if err != nil {
		return failed(fmt.Errorf("index: %w", err))
	}
	if len(t.ArtifactRefs) == 0 {
		return failed(fmt.Errorf("index: transcript has no artifact"))
	}

	text, err := w.blobs.GetText(ctx, t.ArtifactRefs[0].Path)
	if err != nil {
		return failed(fmt.Errorf("index: fetch transcript: %w", err))
	}

	existing, err := w.records.ExistingChunkIDs(ctx, job.VideoID)
	if err != nil {
		return failed(fmt.Errorf("index: existing chunk lookup: %w", err))
	}

	chunks := chunk.Split(text, w.chunkOpts)
	var toWrite []sinks.ChunkRecord
	var skipped int
	for i, c := range chunks {
		chunkID := chunk.ID(job.VideoID, i)
		if prevHash, ok := existing[chunkID]; ok && prevHash == c.ContentSHA256 {
			skipped++
			continue
		}
		embedding, err := w.embedder.Embed(ctx, c.Text)
		if err != nil {
			return failed(fmt.Errorf("index: embed %s: %w", chunkID, err))
		}
		toWrite = append(toWrite, sinks.ChunkRecord{
			ChunkID:       chunkID,
			VideoID:       job.VideoID,
			ChannelID:     v.ChannelID,
			PublishedAt:   v.PublishedAt,
			Text:          c.Text,
			ContentSHA256: c.ContentSHA256,
			Embedding:     embedding,
		})
	}

	if len(toWrite) == 0 {
		if v.Status != domain.VideoStatusIndexed {
			if _, err := w.videos.Transition(ctx, job.VideoID, domain.VideoStatusSummarized, domain.VideoStatusIndexed); err != nil {
				return failed(fmt.Errorf("index: transition: %w", err))
			}
		}
		return pipeline.ExecResult{Status: pipeline.ExecSuccess, Outputs: map[string]any{"written": 0, "skipped_unchanged": skipped}}
	}

	// The structured sink stores only a bounded preview, never the full
	// text (spec section 4.6's structured row has no full-text column).
	structuredRecords := make([]sinks.ChunkRecord, len(toWrite))
	for i, rec := range toWrite {
		structuredRecords[i] = rec
		structuredRecords[i].Text = preview(rec.Text, 256)
	}

	results := fn.FanOutTolerant(
		func() fn.Result[string] { return toResult("semantic", w.semantic.Upsert(ctx, toWrite)) },
		func() fn.Result[string] { return toResult("keyword", w.keyword.Upsert(ctx, toWrite)) },
		func() fn.Result[string] { return toResult("structured", w.structured.Upsert(ctx, structuredRecords)) },
	)

	var failures []string
	for _, r := range results {
		if !r.IsOk() {
			_, err := r.Unwrap()
			failures = append(failures, err.Error())
		}
	}

	indexRecords := make([]domain.IndexRecord, len(toWrite))
	for i, rec := range toWrite {
		indexRecords[i] = domain.IndexRecord{
			VideoID:       rec.VideoID,
			ChunkID:       rec.ChunkID,
			ContentSHA256: rec.ContentSHA256,
			TextPreview:   preview(rec.Text, 256),
			ChannelID:     rec.ChannelID,
			PublishedAt:   v.PublishedAt,
		}
	}
	if len(failures) < 3 {
		// At least one sink succeeded; persist the record of what was
		// attempted so a retry's idempotency check sees these chunk_ids.
		if err := w.records.PutIndexRecords(ctx, indexRecords); err != nil {
			return failed(fmt.Errorf("index: persist records: %w", err))
		}
	}

	if len(failures) == 3 {
		return failed(ingesterr.Transient("all_sinks_failed", fmt.Errorf("index: all sinks failed: %v", failures)))
	}

	status := pipeline.ExecSuccess
	if len(failures) > 0 {
		status = pipeline.ExecPartial
	}
	if _, err := w.videos.Transition(ctx, job.VideoID, domain.VideoStatusSummarized, domain.VideoStatusIndexed); err != nil {
		return failed(fmt.Errorf("index: transition: %w", err))
	}

	return pipeline.ExecResult{
		Status:  status,
		Outputs: map[string]any{"written": len(toWrite), "skipped_unchanged": skipped, "sink_failures": failures},
	}
}

func toResult(label string, err error) fn.Result[string] {
	if err != nil {
		return fn.Err[string](fmt.Errorf("%s: %w", label, err))
	}
	return fn.Ok(label)
}

func preview(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}
