// Package store defines the persistence ports the pipeline components
// depend on. internal/store/memory provides in-memory fakes for tests;
// internal/store/postgres provides the transactional implementation.
package store

import (
	"context"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
)

// VideoQuery filters query_by_status.
type VideoQuery struct {
	Status domain.VideoStatus
	Since  time.Time
	Limit  int
}

// VideoStore is the Metadata Store's (C1) contract over Video records. All
// writes are transactional and idempotent on VideoID.
type VideoStore interface {
	UpsertVideo(ctx context.Context, v domain.Video) (domain.Video, error)
	Transition(ctx context.Context, videoID string, from, to domain.VideoStatus) (domain.Video, error)
	GetVideo(ctx context.Context, videoID string) (domain.Video, error)
	QueryByStatus(ctx context.Context, q VideoQuery) ([]domain.Video, error)

	PutTranscript(ctx context.Context, t domain.Transcript) (domain.Transcript, error)
	GetTranscript(ctx context.Context, videoID string) (domain.Transcript, error)

	PutSummary(ctx context.Context, s domain.Summary) (domain.Summary, error)
	GetSummary(ctx context.Context, videoID string) (domain.Summary, error)
}

// LedgerStore is the Budget & Quota Ledger's (C2) persistence contract.
// Check and Record must be atomic against the same per-day record.
type LedgerStore interface {
	CheckBudget(ctx context.Context, day string, requestedUSD float64, dailyCapUSD float64) (allow bool, remaining float64, err error)
	RecordCost(ctx context.Context, day string, usedUSD float64) (domain.CostAggregate, error)
	Aggregate(ctx context.Context, day string) (domain.CostAggregate, error)
	MarkAlertSent(ctx context.Context, day string, alertType string) error

	CheckQuota(ctx context.Context, service, day string, requestedUnits, dailyCap float64) (allow bool, remaining float64, err error)
	RecordQuota(ctx context.Context, service, day string, usedUnits float64) (domain.QuotaCounter, error)
}

// ThrottleStore persists C3's alert throttle records.
type ThrottleStore interface {
	TryEmit(ctx context.Context, alertType string, now time.Time, window time.Duration) (allowed bool, record domain.AlertThrottleRecord, err error)
}

// DLQStore is C4's persistence contract.
type DLQQuery struct {
	JobType string
	Severity domain.DLQSeverity
	VideoID string
	Since   time.Time
	Until   time.Time
	Limit   int
}

type DLQStore interface {
	Enqueue(ctx context.Context, entry domain.DLQEntry) error
	Query(ctx context.Context, q DLQQuery) ([]domain.DLQEntry, error)
	Get(ctx context.Context, jobID string) (domain.DLQEntry, error)
	Delete(ctx context.Context, jobID string) error
}

// IndexRecordStore tracks which chunk_ids already exist in the structured
// sink, supporting C6.4's idempotent-write check.
type IndexRecordStore interface {
	ExistingChunkIDs(ctx context.Context, videoID string) (map[string]string, error) // chunk_id -> content_sha256
	PutIndexRecords(ctx context.Context, records []domain.IndexRecord) error
}
