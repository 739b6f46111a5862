// Package domain defines the core entities shared by every component of the
// ingestion and retrieval pipeline. The Metadata Store is the only writer of
// Video, Transcript, and Summary; other components hold these types but
// never mutate them outside of a Store call.
package domain

import "time"

// VideoStatus is the state-machine position of a Video. Transitions are
// monotone along the declared order, or to VideoStatusFailed from anywhere.
type VideoStatus string

const (
	VideoStatusDiscovered          VideoStatus = "discovered"
	VideoStatusTranscriptionQueued VideoStatus = "transcription_queued"
	VideoStatusTranscribed         VideoStatus = "transcribed"
	VideoStatusSummarized          VideoStatus = "summarized"
	VideoStatusIndexed             VideoStatus = "indexed"
	VideoStatusFailed              VideoStatus = "failed"
)

// statusOrder gives the monotone rank of each non-terminal status.
var statusOrder = map[VideoStatus]int{
	VideoStatusDiscovered:          0,
	VideoStatusTranscriptionQueued: 1,
	VideoStatusTranscribed:         2,
	VideoStatusSummarized:          3,
	VideoStatusIndexed:             4,
}

// Advances reports whether moving from s to next is a monotone advance
// (or an entry into failed, which is always allowed).
func (s VideoStatus) Advances(next VideoStatus) bool {
	if next == VideoStatusFailed {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// VideoSource records which discovery path produced a Video.
type VideoSource string

const (
	VideoSourceChannelScrape VideoSource = "channel_scrape"
	VideoSourceSheetBackfill VideoSource = "sheet_backfill"
)

// MaxDurationSec is the default hard-filter applied at discovery; operators
// may override via idempotency.max_video_duration_sec.
const MaxDurationSec = 4200

// Video is the pipeline's primary record, keyed by VideoID across every
// downstream stage.
type Video struct {
	VideoID     string
	ChannelID   string
	Title       string
	PublishedAt time.Time
	DurationSec int
	Source      VideoSource
	Status      VideoStatus
	RetryCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ArtifactRef is an opaque handle to a blob-store object.
type ArtifactRef struct {
	Kind string // transcript_txt, transcript_json, summary_md, summary_json
	Path string
}

// Transcript is keyed by VideoID; at most one exists per Video, and
// replacement is only valid when ContentDigest changes.
type Transcript struct {
	VideoID       string
	ArtifactRefs  []ArtifactRef
	ContentDigest string
	CostUSD       float64
	Language      string
	DurationSec   int
	CreatedAt     time.Time
}

// TokenUsage accumulates LLM token consumption for a Summarize call.
type TokenUsage struct {
	Input  int
	Output int
}

// Summary is keyed by VideoID and requires a committed Transcript to exist.
type Summary struct {
	VideoID      string
	Bullets      []string
	Concepts     []string
	PromptID     string
	TokenUsage   TokenUsage
	ArtifactRefs []ArtifactRef
	CreatedAt    time.Time
}

// IndexRecord describes one chunk as projected into a retrieval sink.
// ChunkID has the form "<video_id>_chunk_<n>", 1-indexed and contiguous.
type IndexRecord struct {
	VideoID       string
	ChunkID       string
	TokenCount    int
	ContentSHA256 string
	TextPreview   string // <= 256 chars
	ChannelID     string
	PublishedAt   time.Time
}

// CostAggregate is keyed by calendar day (YYYY-MM-DD) in the ledger's
// configured timezone.
type CostAggregate struct {
	Day                   string
	TranscriptionUSDTotal float64
	TranscriptCount       int
	AlertsSent            map[string]bool
	LastUpdated           time.Time
}

// QuotaCounter is keyed by (service, day).
type QuotaCounter struct {
	Service   string
	Day       string
	Units     float64
	LastReset time.Time
}

// AlertThrottleRecord is keyed by alert_type; at most one alert per type per
// rolling hour is allowed to pass the throttle.
type AlertThrottleRecord struct {
	AlertType string
	LastSent  time.Time
	Count     int
}

// DLQSeverity classifies the operational priority of a dead-lettered job.
type DLQSeverity string

const (
	DLQSeverityLow      DLQSeverity = "low"
	DLQSeverityMedium   DLQSeverity = "medium"
	DLQSeverityHigh     DLQSeverity = "high"
	DLQSeverityCritical DLQSeverity = "critical"
)

// DLQFailure describes why a job was dead-lettered.
type DLQFailure struct {
	ErrorType  string
	Message    string
	RetryCount int
}

// DLQEntry is a terminally-failed job retained for inspection and replay.
type DLQEntry struct {
	JobID            string
	JobType          string
	VideoID          string
	Failure          DLQFailure
	OriginalInputs   map[string]any
	Severity         DLQSeverity
	RecoveryPriority int
	CreatedAt        time.Time
}

// ResourceLimits bounds a RunPlan's resource envelope.
type ResourceLimits struct {
	RemainingBudgetUSD float64
	RemainingQuota     map[string]float64
}

// RunPlan is produced by the dispatcher at each scheduled tick.
type RunPlan struct {
	RunID             string
	Channels          []string
	PerChannelLimit   int
	WindowStart       time.Time
	WindowEnd         time.Time
	ResourceLimits    ResourceLimits
	CreatedAt         time.Time
}

// QuotaState is the point-in-time snapshot of quota usage recorded in a
// RunSummary.
type QuotaState struct {
	Service   string
	Used      float64
	Remaining float64
}

// RunSummary is the terminal accounting of one scheduler run.
type RunSummary struct {
	RunID        string
	Planned      int
	Succeeded    int
	Failed       int
	DLQCount     int
	QuotaState   []QuotaState
	TotalCostUSD float64
	StartedAt    time.Time
	CompletedAt  time.Time
}

// HealthScore computes C10's 0-100 derived run health.
// health = 60*success_rate + 20*(1 - dlq_rate) + 20*quota_headroom
func (s RunSummary) HealthScore(quotaHeadroom float64) float64 {
	if s.Planned == 0 {
		return 100
	}
	successRate := float64(s.Succeeded) / float64(s.Planned)
	dlqRate := float64(s.DLQCount) / float64(s.Planned)
	if quotaHeadroom < 0 {
		quotaHeadroom = 0
	}
	if quotaHeadroom > 1 {
		quotaHeadroom = 1
	}
	return 60*successRate + 20*(1-dlqRate) + 20*quotaHeadroom
}
