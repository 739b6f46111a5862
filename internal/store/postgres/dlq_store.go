package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/store"
)

// DLQStore implements store.DLQStore (C4) against Postgres.
type DLQStore struct {
	pool *pgxpool.Pool
}

func NewDLQStore(pool *pgxpool.Pool) *DLQStore {
	return &DLQStore{pool: pool}
}

func (s *DLQStore) Enqueue(ctx context.Context, entry domain.DLQEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	inputs, _ := json.Marshal(entry.OriginalInputs)
	const q = `
INSERT INTO dlq_entries (job_id, job_type, video_id, error_type, message, retry_count, original_inputs, severity, recovery_priority, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (job_id) DO UPDATE SET
    error_type = EXCLUDED.error_type,
    message = EXCLUDED.message,
    retry_count = EXCLUDED.retry_count,
    original_inputs = EXCLUDED.original_inputs,
    severity = EXCLUDED.severity,
    recovery_priority = EXCLUDED.recovery_priority`
	_, err := s.pool.Exec(ctx, q, entry.JobID, entry.JobType, entry.VideoID, entry.Failure.ErrorType, entry.Failure.Message,
		entry.Failure.RetryCount, inputs, string(entry.Severity), entry.RecoveryPriority, entry.CreatedAt)
	return err
}

func (s *DLQStore) Query(ctx context.Context, q store.DLQQuery) ([]domain.DLQEntry, error) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.JobType != "" {
		clauses = append(clauses, "job_type = "+arg(q.JobType))
	}
	if q.Severity != "" {
		clauses = append(clauses, "severity = "+arg(string(q.Severity)))
	}
	if q.VideoID != "" {
		clauses = append(clauses, "video_id = "+arg(q.VideoID))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "created_at >= "+arg(q.Since))
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "created_at <= "+arg(q.Until))
	}

	query := `SELECT job_id, job_type, video_id, error_type, message, retry_count, original_inputs, severity, recovery_priority, created_at FROM dlq_entries`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC"
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT " + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DLQEntry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DLQStore) Get(ctx context.Context, jobID string) (domain.DLQEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT job_id, job_type, video_id, error_type, message, retry_count, original_inputs, severity, recovery_priority, created_at FROM dlq_entries WHERE job_id = $1`, jobID)
	e, err := scanDLQEntry(row)
	if err == pgx.ErrNoRows {
		return domain.DLQEntry{}, domain.ErrDLQEntryNotFound
	}
	return e, err
}

func (s *DLQStore) Delete(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dlq_entries WHERE job_id = $1`, jobID)
	return err
}

func scanDLQEntry(row rowScanner) (domain.DLQEntry, error) {
	var e domain.DLQEntry
	var severity string
	var inputs []byte
	if err := row.Scan(&e.JobID, &e.JobType, &e.VideoID, &e.Failure.ErrorType, &e.Failure.Message, &e.Failure.RetryCount,
		&inputs, &severity, &e.RecoveryPriority, &e.CreatedAt); err != nil {
		return domain.DLQEntry{}, err
	}
	e.Severity = domain.DLQSeverity(severity)
	_ = json.Unmarshal(inputs, &e.OriginalInputs)
	return e, nil
}
