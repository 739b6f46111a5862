// Package postgres implements the Metadata Store (C1), Budget & Quota
// Ledger (C2), Throttled Alert Sink (C3), and Dead-Letter Queue (C4)
// persistence ports against Postgres via pgx, grounded in the teacher's
// connection-pool-plus-context idiom and generalized from its Neo4j
// repository pattern (pkg/repo) to a relational one.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/store"
	"github.com/autopiloot/corepipe/pkg/fn"
)

// VideoStore implements store.VideoStore against Postgres.
type VideoStore struct {
	pool *pgxpool.Pool
}

// NewVideoStore wraps an existing connection pool.
func NewVideoStore(pool *pgxpool.Pool) *VideoStore {
	return &VideoStore{pool: pool}
}

// conflictRetry is C1's write-conflict policy: base 100ms, x2, capped 1s,
// at most 5 attempts, before surfacing ErrStorageUnavailable.
var conflictRetry = fn.RetryOpts{
	MaxAttempts: 5,
	InitialWait: 100 * time.Millisecond,
	MaxWait:     time.Second,
	Jitter:      true,
}

func withConflictRetry[T any](ctx context.Context, f func(context.Context) (T, error)) (T, error) {
	r := fn.Retry(ctx, conflictRetry, func(ctx context.Context) fn.Result[T] {
		return fn.FromPair(f(ctx))
	})
	v, err := r.Unwrap()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return v, nil
}

func (s *VideoStore) UpsertVideo(ctx context.Context, v domain.Video) (domain.Video, error) {
	return withConflictRetry(ctx, func(ctx context.Context) (domain.Video, error) {
		return s.upsertVideoOnce(ctx, v)
	})
}

func (s *VideoStore) upsertVideoOnce(ctx context.Context, v domain.Video) (domain.Video, error) {
	now := time.Now()
	const q = `
INSERT INTO videos (video_id, channel_id, title, published_at, duration_sec, source, status, retry_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
ON CONFLICT (video_id) DO UPDATE SET
    channel_id = EXCLUDED.channel_id,
    title = EXCLUDED.title,
    published_at = EXCLUDED.published_at,
    duration_sec = EXCLUDED.duration_sec,
    source = EXCLUDED.source,
    updated_at = EXCLUDED.updated_at
RETURNING video_id, channel_id, title, published_at, duration_sec, source, status, retry_count, created_at, updated_at`

	status := v.Status
	if status == "" {
		status = domain.VideoStatusDiscovered
	}

	row := s.pool.QueryRow(ctx, q, v.VideoID, v.ChannelID, v.Title, v.PublishedAt, v.DurationSec, string(v.Source), string(status), now)
	return scanVideo(row)
}

func (s *VideoStore) Transition(ctx context.Context, videoID string, from, to domain.VideoStatus) (domain.Video, error) {
	return withConflictRetry(ctx, func(ctx context.Context) (domain.Video, error) {
		return s.transitionOnce(ctx, videoID, from, to)
	})
}

func (s *VideoStore) transitionOnce(ctx context.Context, videoID string, from, to domain.VideoStatus) (domain.Video, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Video{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT video_id, channel_id, title, published_at, duration_sec, source, status, retry_count, created_at, updated_at FROM videos WHERE video_id = $1 FOR UPDATE`, videoID)
	current, err := scanVideo(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Video{}, domain.ErrVideoNotFound
		}
		return domain.Video{}, err
	}

	if current.Status != from && to != domain.VideoStatusFailed {
		return domain.Video{}, domain.NewTransitionError(videoID, string(from), string(to), string(current.Status))
	}
	if !current.Status.Advances(to) {
		return domain.Video{}, domain.NewTransitionError(videoID, string(from), string(to), string(current.Status))
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `UPDATE videos SET status = $1, updated_at = $2 WHERE video_id = $3`, string(to), now, videoID); err != nil {
		return domain.Video{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Video{}, err
	}

	current.Status = to
	current.UpdatedAt = now
	return current, nil
}

func (s *VideoStore) GetVideo(ctx context.Context, videoID string) (domain.Video, error) {
	row := s.pool.QueryRow(ctx, `SELECT video_id, channel_id, title, published_at, duration_sec, source, status, retry_count, created_at, updated_at FROM videos WHERE video_id = $1`, videoID)
	v, err := scanVideo(row)
	if err == pgx.ErrNoRows {
		return domain.Video{}, domain.ErrVideoNotFound
	}
	return v, err
}

func (s *VideoStore) QueryByStatus(ctx context.Context, q store.VideoQuery) ([]domain.Video, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT video_id, channel_id, title, published_at, duration_sec, source, status, retry_count, created_at, updated_at
FROM videos WHERE status = $1 AND updated_at >= $2 ORDER BY updated_at ASC LIMIT $3`,
		string(q.Status), q.Since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Video
	for rows.Next() {
		v, err := scanVideoRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *VideoStore) PutTranscript(ctx context.Context, t domain.Transcript) (domain.Transcript, error) {
	var existingDigest string
	err := s.pool.QueryRow(ctx, `SELECT content_digest FROM transcripts WHERE video_id = $1`, t.VideoID).Scan(&existingDigest)
	if err == nil && existingDigest == t.ContentDigest {
		return domain.Transcript{}, domain.ErrDigestUnchanged
	}

	refs, _ := json.Marshal(t.ArtifactRefs)
	now := time.Now()
	const q = `
INSERT INTO transcripts (video_id, artifact_refs, content_digest, cost_usd, language, duration_sec, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (video_id) DO UPDATE SET
    artifact_refs = EXCLUDED.artifact_refs,
    content_digest = EXCLUDED.content_digest,
    cost_usd = EXCLUDED.cost_usd,
    language = EXCLUDED.language,
    duration_sec = EXCLUDED.duration_sec,
    created_at = EXCLUDED.created_at`
	if _, err := s.pool.Exec(ctx, q, t.VideoID, refs, t.ContentDigest, t.CostUSD, t.Language, t.DurationSec, now); err != nil {
		return domain.Transcript{}, err
	}
	t.CreatedAt = now
	return t, nil
}

func (s *VideoStore) GetTranscript(ctx context.Context, videoID string) (domain.Transcript, error) {
	row := s.pool.QueryRow(ctx, `SELECT video_id, artifact_refs, content_digest, cost_usd, language, duration_sec, created_at FROM transcripts WHERE video_id = $1`, videoID)
	var t domain.Transcript
	var refs []byte
	if err := row.Scan(&t.VideoID, &refs, &t.ContentDigest, &t.CostUSD, &t.Language, &t.DurationSec, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Transcript{}, domain.ErrTranscriptNotFound
		}
		return domain.Transcript{}, err
	}
	_ = json.Unmarshal(refs, &t.ArtifactRefs)
	return t, nil
}

func (s *VideoStore) PutSummary(ctx context.Context, sum domain.Summary) (domain.Summary, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transcripts WHERE video_id = $1)`, sum.VideoID).Scan(&exists); err != nil {
		return domain.Summary{}, err
	}
	if !exists {
		return domain.Summary{}, domain.ErrTranscriptRequired
	}

	bullets, _ := json.Marshal(sum.Bullets)
	concepts, _ := json.Marshal(sum.Concepts)
	refs, _ := json.Marshal(sum.ArtifactRefs)
	now := time.Now()
	const q = `
INSERT INTO summaries (video_id, bullets, concepts, prompt_id, tokens_input, tokens_output, artifact_refs, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (video_id) DO UPDATE SET
    bullets = EXCLUDED.bullets,
    concepts = EXCLUDED.concepts,
    prompt_id = EXCLUDED.prompt_id,
    tokens_input = EXCLUDED.tokens_input,
    tokens_output = EXCLUDED.tokens_output,
    artifact_refs = EXCLUDED.artifact_refs,
    created_at = EXCLUDED.created_at`
	if _, err := s.pool.Exec(ctx, q, sum.VideoID, bullets, concepts, sum.PromptID, sum.TokenUsage.Input, sum.TokenUsage.Output, refs, now); err != nil {
		return domain.Summary{}, err
	}
	sum.CreatedAt = now
	return sum, nil
}

func (s *VideoStore) GetSummary(ctx context.Context, videoID string) (domain.Summary, error) {
	row := s.pool.QueryRow(ctx, `SELECT video_id, bullets, concepts, prompt_id, tokens_input, tokens_output, artifact_refs, created_at FROM summaries WHERE video_id = $1`, videoID)
	var sum domain.Summary
	var bullets, concepts, refs []byte
	if err := row.Scan(&sum.VideoID, &bullets, &concepts, &sum.PromptID, &sum.TokenUsage.Input, &sum.TokenUsage.Output, &refs, &sum.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Summary{}, domain.ErrSummaryNotFound
		}
		return domain.Summary{}, err
	}
	_ = json.Unmarshal(bullets, &sum.Bullets)
	_ = json.Unmarshal(concepts, &sum.Concepts)
	_ = json.Unmarshal(refs, &sum.ArtifactRefs)
	return sum, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (domain.Video, error) {
	return scanVideoRows(row)
}

func scanVideoRows(row rowScanner) (domain.Video, error) {
	var v domain.Video
	var source, status string
	if err := row.Scan(&v.VideoID, &v.ChannelID, &v.Title, &v.PublishedAt, &v.DurationSec, &source, &status, &v.RetryCount, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return domain.Video{}, err
	}
	v.Source = domain.VideoSource(source)
	v.Status = domain.VideoStatus(status)
	return v, nil
}
