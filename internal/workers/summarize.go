package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/autopiloot/corepipe/internal/chunk"
	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/pipeline"
	"github.com/autopiloot/corepipe/internal/providers"
	"github.com/autopiloot/corepipe/internal/store"
)

// SummarizeUSDPerThousandTokens is the chat provider's approximate blended
// rate, used only for the ledger cost record; the authoritative cost is
// whatever realized token usage the provider reports.
const SummarizeUSDPerThousandTokens = 0.002

// PromptID identifies the summarization prompt template version, recorded
// on every Summary so prompt drift is auditable.
const PromptID = "summarize-v1"

// SummarizeWorker produces a structured bullet/concept summary from a
// video's transcript, chunking long transcripts before sending them to the
// chat provider.
type SummarizeWorker struct {
	chat    providers.ChatProvider
	blobs   providers.BlobStore
	videos  store.VideoStore
	chunkOpts chunk.Options
}

func NewSummarizeWorker(chat providers.ChatProvider, blobs providers.BlobStore, videos store.VideoStore, chunkOpts chunk.Options) *SummarizeWorker {
	return &SummarizeWorker{chat: chat, blobs: blobs, videos: videos, chunkOpts: chunkOpts}
}

// Execute implements pipeline.Worker.
func (w *SummarizeWorker) Execute(ctx context.Context, job pipeline.Job) pipeline.ExecResult {
	t, err := w.videos.GetTranscript(ctx, job.VideoID)
	if err != nil {
		return failed(fmt.Errorf("summarize: %w", err))
	}
	if len(t.ArtifactRefs) == 0 {
		return failed(domain.ErrTranscriptRequired)
	}

	text, err := w.blobs.GetText(ctx, t.ArtifactRefs[0].Path)
	if err != nil {
		return failed(fmt.Errorf("summarize: fetch transcript: %w", err))
	}

	chunks := chunk.Split(text, w.chunkOpts)
	if len(chunks) == 0 {
		return failed(fmt.Errorf("summarize: transcript produced no chunks"))
	}

	var bullets, concepts []string
	var totalPrompt, totalCompletion int
	for _, c := range chunks {
		result, err := w.chat.Complete(ctx, []providers.ChatMessage{
			{Role: "system", Content: "Summarize this automotive repair transcript segment into concise bullet points and key concepts."},
			{Role: "user", Content: c.Text},
		}, 512)
		if err != nil {
			return failed(fmt.Errorf("summarize: chat completion: %w", err))
		}
		totalPrompt += result.PromptTokens
		totalCompletion += result.CompletionTokens

		b, cn := parseSummary(result.Text)
		bullets = append(bullets, b...)
		concepts = append(concepts, cn...)
	}

	dedupedBullets := dedupe(bullets)
	summaryText := strings.Join(dedupedBullets, "\n")
	path, err := w.blobs.PutText(ctx, "summary_md", job.VideoID, summaryText)
	if err != nil {
		return failed(fmt.Errorf("summarize: store artifact: %w", err))
	}

	s := domain.Summary{
		VideoID:      job.VideoID,
		Bullets:      dedupedBullets,
		Concepts:     dedupe(concepts),
		PromptID:     PromptID,
		TokenUsage:   domain.TokenUsage{Input: totalPrompt, Output: totalCompletion},
		ArtifactRefs: []domain.ArtifactRef{{Kind: "summary_md", Path: path}},
	}
	if _, err := w.videos.PutSummary(ctx, s); err != nil {
		return failed(fmt.Errorf("summarize: persist: %w", err))
	}
	if _, err := w.videos.Transition(ctx, job.VideoID, domain.VideoStatusTranscribed, domain.VideoStatusSummarized); err != nil {
		return failed(fmt.Errorf("summarize: transition: %w", err))
	}

	costUSD := float64(totalPrompt+totalCompletion) / 1000 * SummarizeUSDPerThousandTokens
	return pipeline.ExecResult{
		Status:  pipeline.ExecSuccess,
		Outputs: map[string]any{"bullets": len(s.Bullets), "concepts": len(s.Concepts), "chunks": len(chunks)},
		CostUSD: costUSD,
	}
}

// parseSummary splits a completion's lines into bullets (leading "-" or
// "*") and concepts (leading "Concept:" prefix), tolerating free-form
// model output by falling back to treating every non-empty line as a
// bullet.
func parseSummary(text string) (bullets, concepts []string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(strings.ToLower(line), "concept:"):
			concepts = append(concepts, strings.TrimSpace(line[len("concept:"):]))
		case strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*"):
			bullets = append(bullets, strings.TrimSpace(line[1:]))
		default:
			bullets = append(bullets, line)
		}
	}
	return bullets, concepts
}

// dedupe removes duplicates case-insensitively, keeping the first-seen
// original casing (spec section 4.6: "deduplicates case-insensitively").
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(it)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}
