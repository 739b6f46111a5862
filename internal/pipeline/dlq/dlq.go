// Package dlq implements the Dead-Letter Queue (C4): a terminal-failure
// archive with a query surface and a replay path that pushes original
// inputs back onto the dispatch transport for a single fresh retry cycle.
package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/internal/store"
)

// Republisher pushes a replayed job back onto the dispatch transport; C5's
// NATS-backed dispatcher implements this.
type Republisher interface {
	Republish(ctx context.Context, jobType string, videoID string, inputs map[string]any) error
}

// Queue is C4.
type Queue struct {
	store       store.DLQStore
	republisher Republisher
}

func New(s store.DLQStore, republisher Republisher) *Queue {
	return &Queue{store: s, republisher: republisher}
}

// DeriveSeverity implements C4's severity derivation table (spec 4.4).
func DeriveSeverity(kind ingesterr.Kind, errorType string, retryCount, maxRetries int, isPaidAPI bool) domain.DLQSeverity {
	switch {
	case kind == ingesterr.KindTerminal && (errorType == "auth_failure" || errorType == "poison_input" || errorType == "invalid_credential"):
		return domain.DLQSeverityCritical
	case kind == ingesterr.KindTerminal:
		return domain.DLQSeverityCritical
	case retryCount >= maxRetries && isPaidAPI:
		return domain.DLQSeverityHigh
	case errorType == "validation_error":
		return domain.DLQSeverityMedium
	default:
		return domain.DLQSeverityLow
	}
}

// Enqueue records a terminally-failed job.
func (q *Queue) Enqueue(ctx context.Context, jobType, videoID string, kind ingesterr.Kind, errorType, message string, retryCount int, inputs map[string]any, severity domain.DLQSeverity) error {
	entry := domain.DLQEntry{
		JobID:   uuid.NewString(),
		JobType: jobType,
		VideoID: videoID,
		Failure: domain.DLQFailure{
			ErrorType:  errorType,
			Message:    message,
			RetryCount: retryCount,
		},
		OriginalInputs: inputs,
		Severity:       severity,
		CreatedAt:      time.Now(),
	}
	return q.store.Enqueue(ctx, entry)
}

// Query implements C4's query surface.
func (q *Queue) Query(ctx context.Context, filter store.DLQQuery) ([]domain.DLQEntry, error) {
	return q.store.Query(ctx, filter)
}

// Replay pushes a DLQ entry's original inputs back to the dispatcher for a
// single retry cycle with retry_count reset to zero, then removes the entry.
func (q *Queue) Replay(ctx context.Context, jobID string) error {
	entry, err := q.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("dlq: replay %s: %w", jobID, err)
	}
	if q.republisher == nil {
		return fmt.Errorf("dlq: no republisher configured")
	}
	if err := q.republisher.Republish(ctx, entry.JobType, entry.VideoID, entry.OriginalInputs); err != nil {
		return fmt.Errorf("dlq: republish %s: %w", jobID, err)
	}
	return q.store.Delete(ctx, jobID)
}
