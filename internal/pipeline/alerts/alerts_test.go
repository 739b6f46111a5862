package alerts_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/pipeline/alerts"
	"github.com/autopiloot/corepipe/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, _ string, _ domain.DLQSeverity, _ map[string]any) error {
	f.calls++
	return f.err
}

func TestEmitSendsFirstCallInWindow(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := alerts.New(memory.NewThrottleStore(), notifier, discardLogger())

	status, err := sink.Emit(context.Background(), "budget_warning", domain.DLQSeverityMedium, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if status != string(alerts.StatusSent) {
		t.Fatalf("expected the first emit in a window to send, got %s", status)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected exactly one notify call, got %d", notifier.calls)
	}
}

func TestEmitThrottlesSecondCallWithinWindow(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := alerts.New(memory.NewThrottleStore(), notifier, discardLogger())
	ctx := context.Background()

	if _, err := sink.Emit(ctx, "budget_warning", domain.DLQSeverityMedium, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	status, err := sink.Emit(ctx, "budget_warning", domain.DLQSeverityMedium, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if status != string(alerts.StatusThrottled) {
		t.Fatalf("expected the second emit within the window to throttle, got %s", status)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected the notifier not to be called again while throttled, got %d calls", notifier.calls)
	}
}

func TestEmitDistinctAlertTypesDoNotThrottleEachOther(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := alerts.New(memory.NewThrottleStore(), notifier, discardLogger())
	ctx := context.Background()

	if _, err := sink.Emit(ctx, "budget_warning", domain.DLQSeverityMedium, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	status, err := sink.Emit(ctx, "quota_warning", domain.DLQSeverityMedium, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if status != string(alerts.StatusSent) {
		t.Fatalf("expected a distinct alert_type to send independently, got %s", status)
	}
}

func TestEmitSurfacesNotifierFailure(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("webhook down")}
	sink := alerts.New(memory.NewThrottleStore(), notifier, discardLogger())

	status, err := sink.Emit(context.Background(), "budget_critical", domain.DLQSeverityCritical, nil)
	if err == nil {
		t.Fatal("expected notifier failure to surface as an error")
	}
	if status != string(alerts.StatusFailed) {
		t.Fatalf("expected failed status, got %s", status)
	}
}

func TestEmitWithNilNotifierStillCountsAsSent(t *testing.T) {
	sink := alerts.New(memory.NewThrottleStore(), nil, discardLogger())
	status, err := sink.Emit(context.Background(), "budget_warning", domain.DLQSeverityLow, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if status != string(alerts.StatusSent) {
		t.Fatalf("expected sent status with no configured notifier, got %s", status)
	}
}

func TestEmitAllowsAgainAfterWindowElapses(t *testing.T) {
	store := memory.NewThrottleStore()
	notifier := &fakeNotifier{}
	sink := alerts.New(store, notifier, discardLogger())

	allowed1, _, err := store.TryEmit(context.Background(), "budget_warning", time.Now().Add(-2*time.Hour), alerts.Window)
	if err != nil || !allowed1 {
		t.Fatalf("seed TryEmit: allowed=%v err=%v", allowed1, err)
	}

	status, err := sink.Emit(context.Background(), "budget_warning", domain.DLQSeverityMedium, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if status != string(alerts.StatusSent) {
		t.Fatalf("expected emit to send again once the rolling window has elapsed, got %s", status)
	}
}
