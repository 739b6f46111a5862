// Package providers declares the pluggable external-service interfaces each
// stage worker depends on. Concrete implementations live alongside this
// package (youtube.go, assemblyai.go, ollama.go, blobstore.go); workers depend only on
// these interfaces so tests can substitute fakes.
package providers

import (
	"context"
	"time"
)

// VideoMeta is one discovered video's listing-time metadata.
type VideoMeta struct {
	VideoID     string
	ChannelID   string
	Title       string
	PublishedAt time.Time
	DurationSec int
}

// VideoLister discovers candidate videos from a channel or a search query.
// Implementations must respect ctx cancellation and surface quota
// exhaustion as a classifiable error (ingesterr.QuotaExceeded).
type VideoLister interface {
	ListChannel(ctx context.Context, channelID string, since time.Time) ([]VideoMeta, error)
	Search(ctx context.Context, query string, max int) ([]VideoMeta, error)
}

// SheetRow is one row of a configured tracking sheet.
type SheetRow struct {
	VideoID string
	Columns map[string]string
}

// SheetReader reads a configured tracking sheet of externally-curated
// video IDs (spec section 4.1's secondary discovery source).
type SheetReader interface {
	ReadRows(ctx context.Context, sheetID string) ([]SheetRow, error)
}

// TranscriptionJob is the provider-assigned handle for an in-flight
// transcription request.
type TranscriptionJob struct {
	ProviderJobID string
}

// TranscriptionStatus is the poll result's state discriminant.
type TranscriptionStatus string

const (
	TranscriptionQueued     TranscriptionStatus = "queued"
	TranscriptionProcessing TranscriptionStatus = "processing"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionError      TranscriptionStatus = "error"
)

// TranscriptionResult is a completed transcription's payload.
type TranscriptionResult struct {
	Status   TranscriptionStatus
	Text     string
	Language string
	Error    string
}

// Transcriber submits audio for transcription and polls for completion,
// grounded on AssemblyAI's submit-then-poll API shape.
type Transcriber interface {
	Submit(ctx context.Context, audioURL string) (TranscriptionJob, error)
	Poll(ctx context.Context, job TranscriptionJob) (TranscriptionResult, error)
}

// ChatMessage is one turn of a chat-completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResult is a completion's payload plus realized token usage, the unit
// the ledger and cost formulas operate on.
type ChatResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// ChatProvider performs LLM chat completions for the Summarize stage.
// Defined as a plain interface: the teacher's generated mlpb client stubs
// are absent from this module, so no protobuf transport is assumed here.
type ChatProvider interface {
	Complete(ctx context.Context, messages []ChatMessage, maxTokens int) (ChatResult, error)
}

// Embedder produces a vector embedding for one chunk of text, for the
// semantic sink.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BlobStore resolves a video ID to a fetchable audio URL, and persists the
// large text artifacts (transcripts, summaries) that domain.ArtifactRef
// points at rather than storing inline.
type BlobStore interface {
	AudioURL(ctx context.Context, videoID string) (string, error)
	PutText(ctx context.Context, kind, videoID, text string) (path string, err error)
	GetText(ctx context.Context, path string) (string, error)
}
