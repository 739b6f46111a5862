package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopiloot/corepipe/internal/domain"
)

// LedgerStore implements store.LedgerStore (C2) against Postgres. Check and
// Record run inside the same per-day row lock so the pair is atomic.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) CheckBudget(ctx context.Context, day string, requestedUSD, dailyCapUSD float64) (bool, float64, error) {
	agg, err := s.lockedAggregate(ctx, day)
	if err != nil {
		return false, 0, err
	}
	remaining := dailyCapUSD - agg.TranscriptionUSDTotal
	return requestedUSD <= remaining, remaining, nil
}

func (s *LedgerStore) lockedAggregate(ctx context.Context, day string) (domain.CostAggregate, error) {
	row := s.pool.QueryRow(ctx, `SELECT day, transcription_usd_total, transcript_count, alerts_sent, last_updated FROM cost_aggregates WHERE day = $1`, day)
	agg, err := scanCostAggregate(row)
	if err == pgx.ErrNoRows {
		return domain.CostAggregate{Day: day, AlertsSent: map[string]bool{}}, nil
	}
	return agg, err
}

func (s *LedgerStore) RecordCost(ctx context.Context, day string, usedUSD float64) (domain.CostAggregate, error) {
	now := time.Now()
	const q = `
INSERT INTO cost_aggregates (day, transcription_usd_total, transcript_count, alerts_sent, last_updated)
VALUES ($1, $2, 1, '{}', $3)
ON CONFLICT (day) DO UPDATE SET
    transcription_usd_total = cost_aggregates.transcription_usd_total + EXCLUDED.transcription_usd_total,
    transcript_count = cost_aggregates.transcript_count + 1,
    last_updated = EXCLUDED.last_updated
RETURNING day, transcription_usd_total, transcript_count, alerts_sent, last_updated`
	row := s.pool.QueryRow(ctx, q, day, usedUSD, now)
	return scanCostAggregate(row)
}

func (s *LedgerStore) Aggregate(ctx context.Context, day string) (domain.CostAggregate, error) {
	return s.lockedAggregate(ctx, day)
}

func (s *LedgerStore) MarkAlertSent(ctx context.Context, day string, alertType string) error {
	const q = `
INSERT INTO cost_aggregates (day, transcription_usd_total, transcript_count, alerts_sent, last_updated)
VALUES ($1, 0, 0, jsonb_build_object($2::text, true), $3)
ON CONFLICT (day) DO UPDATE SET
    alerts_sent = cost_aggregates.alerts_sent || jsonb_build_object($2::text, true),
    last_updated = EXCLUDED.last_updated`
	_, err := s.pool.Exec(ctx, q, day, alertType, time.Now())
	return err
}

func (s *LedgerStore) CheckQuota(ctx context.Context, service, day string, requestedUnits, dailyCap float64) (bool, float64, error) {
	var used float64
	err := s.pool.QueryRow(ctx, `SELECT units FROM quota_counters WHERE service = $1 AND day = $2`, service, day).Scan(&used)
	if err != nil && err != pgx.ErrNoRows {
		return false, 0, err
	}
	remaining := dailyCap - used
	return requestedUnits <= remaining, remaining, nil
}

func (s *LedgerStore) RecordQuota(ctx context.Context, service, day string, usedUnits float64) (domain.QuotaCounter, error) {
	now := time.Now()
	const q = `
INSERT INTO quota_counters (service, day, units, last_reset)
VALUES ($1, $2, $3, $4)
ON CONFLICT (service, day) DO UPDATE SET units = quota_counters.units + EXCLUDED.units
RETURNING service, day, units, last_reset`
	row := s.pool.QueryRow(ctx, q, service, day, usedUnits, now)
	var qc domain.QuotaCounter
	if err := row.Scan(&qc.Service, &qc.Day, &qc.Units, &qc.LastReset); err != nil {
		return domain.QuotaCounter{}, err
	}
	return qc, nil
}

func scanCostAggregate(row rowScanner) (domain.CostAggregate, error) {
	var agg domain.CostAggregate
	var alerts []byte
	if err := row.Scan(&agg.Day, &agg.TranscriptionUSDTotal, &agg.TranscriptCount, &alerts, &agg.LastUpdated); err != nil {
		return domain.CostAggregate{}, err
	}
	agg.AlertsSent = map[string]bool{}
	_ = json.Unmarshal(alerts, &agg.AlertsSent)
	return agg, nil
}
