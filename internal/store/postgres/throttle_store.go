package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopiloot/corepipe/internal/domain"
)

// ThrottleStore implements store.ThrottleStore (C3) against Postgres. The
// throttle check and the record update happen inside one transaction so a
// throttled call performs no observable mutation beyond what TryEmit itself
// recorded.
type ThrottleStore struct {
	pool *pgxpool.Pool
}

func NewThrottleStore(pool *pgxpool.Pool) *ThrottleStore {
	return &ThrottleStore{pool: pool}
}

func (s *ThrottleStore) TryEmit(ctx context.Context, alertType string, now time.Time, window time.Duration) (bool, domain.AlertThrottleRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, domain.AlertThrottleRecord{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var rec domain.AlertThrottleRecord
	row := tx.QueryRow(ctx, `SELECT alert_type, last_sent, count FROM alert_throttles WHERE alert_type = $1 FOR UPDATE`, alertType)
	err = row.Scan(&rec.AlertType, &rec.LastSent, &rec.Count)
	switch {
	case err == pgx.ErrNoRows:
		rec = domain.AlertThrottleRecord{AlertType: alertType}
	case err != nil:
		return false, domain.AlertThrottleRecord{}, err
	}

	if !rec.LastSent.IsZero() && now.Sub(rec.LastSent) < window {
		return false, rec, tx.Commit(ctx)
	}

	rec.LastSent = now
	rec.Count++
	const q = `
INSERT INTO alert_throttles (alert_type, last_sent, count) VALUES ($1, $2, $3)
ON CONFLICT (alert_type) DO UPDATE SET last_sent = EXCLUDED.last_sent, count = EXCLUDED.count`
	if _, err := tx.Exec(ctx, q, alertType, rec.LastSent, rec.Count); err != nil {
		return false, domain.AlertThrottleRecord{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, domain.AlertThrottleRecord{}, err
	}
	return true, rec, nil
}
