package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/pipeline/ledger"
	"github.com/autopiloot/corepipe/internal/store/memory"
)

type fakeAlerter struct {
	emitted []string
}

func (f *fakeAlerter) Emit(_ context.Context, alertType string, _ domain.DLQSeverity, _ map[string]any) (string, error) {
	f.emitted = append(f.emitted, alertType)
	return "sent", nil
}

func TestCheckBudgetAllowsUnderCap(t *testing.T) {
	store := memory.NewLedgerStore()
	led := ledger.New(store, time.UTC, 5.00, nil, nil)

	allow, remaining, _, err := led.CheckBudget(context.Background(), time.Now(), 1.00)
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !allow {
		t.Fatal("expected budget check under the daily cap to allow")
	}
	if remaining != 5.00 {
		t.Fatalf("expected full remaining budget before any spend, got %v", remaining)
	}
}

func TestCheckBudgetDeniesOverCap(t *testing.T) {
	store := memory.NewLedgerStore()
	led := ledger.New(store, time.UTC, 5.00, nil, nil)
	now := time.Now()

	if _, err := led.RecordCost(context.Background(), now, 4.50); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}
	allow, _, _, err := led.CheckBudget(context.Background(), now, 1.00)
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if allow {
		t.Fatal("expected a request exceeding the remaining budget to be denied")
	}
}

func TestRecordCostRaisesWarningAndCriticalAlertsExactlyOnce(t *testing.T) {
	store := memory.NewLedgerStore()
	alerter := &fakeAlerter{}
	led := ledger.New(store, time.UTC, 5.00, nil, alerter)
	now := time.Now()

	if _, err := led.RecordCost(context.Background(), now, 4.10); err != nil { // 82%, crosses warn
		t.Fatalf("RecordCost: %v", err)
	}
	if _, err := led.RecordCost(context.Background(), now, 0.80); err != nil { // 98%, crosses critical
		t.Fatalf("RecordCost: %v", err)
	}
	if _, err := led.RecordCost(context.Background(), now, 0.05); err != nil { // stays above both thresholds
		t.Fatalf("RecordCost: %v", err)
	}

	warnCount, critCount := 0, 0
	for _, a := range alerter.emitted {
		if a == "budget_warning" {
			warnCount++
		}
		if a == "budget_critical" {
			critCount++
		}
	}
	if warnCount != 1 {
		t.Fatalf("expected exactly one budget_warning alert, got %d", warnCount)
	}
	if critCount != 1 {
		t.Fatalf("expected exactly one budget_critical alert, got %d", critCount)
	}
}

func TestAggregateSumsRecordedCost(t *testing.T) {
	store := memory.NewLedgerStore()
	led := ledger.New(store, time.UTC, 5.00, nil, nil)
	now := time.Now()

	if _, err := led.RecordCost(context.Background(), now, 0.05); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}
	if _, err := led.RecordCost(context.Background(), now, 0.03); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	agg, err := led.Aggregate(context.Background(), led.Today(now))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.TranscriptionUSDTotal != 0.08 {
		t.Fatalf("expected the aggregate to equal the sum of recorded cost, got %v", agg.TranscriptionUSDTotal)
	}
	if agg.TranscriptCount != 2 {
		t.Fatalf("expected two transcript records, got %d", agg.TranscriptCount)
	}
}

func TestResetInReturnsDurationToNextLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	led := ledger.New(memory.NewLedgerStore(), loc, 5.00, nil, nil)
	now := time.Date(2026, 7, 31, 23, 0, 0, 0, loc)
	resetIn := led.ResetIn(now)
	if resetIn <= 0 || resetIn > time.Hour {
		t.Fatalf("expected reset_in just under an hour before midnight, got %v", resetIn)
	}
}

func TestCheckQuotaUnknownServiceErrors(t *testing.T) {
	led := ledger.New(memory.NewLedgerStore(), time.UTC, 5.00, map[string]float64{"youtube": 10000}, nil)
	if _, _, _, err := led.CheckQuota(context.Background(), time.Now(), "unknown", 1); err == nil {
		t.Fatal("expected checking an unconfigured quota service to error")
	}
}
