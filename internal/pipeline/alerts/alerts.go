// Package alerts implements the Throttled Alert Sink (C3): at most one
// emission per alert_type per rolling hour, persisted and backed by a
// pluggable Notifier, grounded in the original pipeline's Slack-formatted
// send_error_alert tool but generalized behind an interface since Slack's
// SDK itself is out of scope (spec section 1).
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/observability"
	"github.com/autopiloot/corepipe/internal/store"
)

// EmitStatus is the result of Emit.
type EmitStatus string

const (
	StatusSent      EmitStatus = "sent"
	StatusThrottled EmitStatus = "throttled"
	StatusFailed    EmitStatus = "failed"
)

// Window is the rolling throttle window (spec section 4.3).
const Window = time.Hour

// Notifier delivers a formatted alert to an operational channel. The
// concrete Slack-webhook implementation lives in this package (slackhook.go)
// as a thin net/http client; Notifier keeps the sink itself decoupled from any specific
// transport.
type Notifier interface {
	Notify(ctx context.Context, alertType string, severity domain.DLQSeverity, payload map[string]any) error
}

// Sink is C3.
type Sink struct {
	store    store.ThrottleStore
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// New constructs a Sink. now defaults to time.Now; tests override it.
func New(s store.ThrottleStore, notifier Notifier, log *slog.Logger) *Sink {
	return &Sink{store: s, notifier: notifier, log: log, now: time.Now}
}

// Emit implements C3's emit(alert_type, severity, payload). A throttled call
// mutates only the throttle record (already handled atomically inside
// store.TryEmit) and performs no notifier call.
func (s *Sink) Emit(ctx context.Context, alertType string, severity domain.DLQSeverity, payload map[string]any) (string, error) {
	allowed, rec, err := s.store.TryEmit(ctx, alertType, s.now(), Window)
	if err != nil {
		observability.AlertsEmittedTotal.WithLabelValues(alertType, string(StatusFailed)).Inc()
		return string(StatusFailed), fmt.Errorf("alerts: throttle check: %w", err)
	}
	if !allowed {
		s.log.Debug("alert.throttled", "alert_type", alertType, "last_sent", rec.LastSent)
		observability.AlertsEmittedTotal.WithLabelValues(alertType, string(StatusThrottled)).Inc()
		return string(StatusThrottled), nil
	}

	if s.notifier == nil {
		observability.AlertsEmittedTotal.WithLabelValues(alertType, string(StatusSent)).Inc()
		return string(StatusSent), nil
	}
	if err := s.notifier.Notify(ctx, alertType, severity, payload); err != nil {
		s.log.Error("alert.notify_failed", "alert_type", alertType, "error", err)
		observability.AlertsEmittedTotal.WithLabelValues(alertType, string(StatusFailed)).Inc()
		return string(StatusFailed), err
	}
	s.log.Info("alert.sent", "alert_type", alertType, "severity", severity)
	observability.AlertsEmittedTotal.WithLabelValues(alertType, string(StatusSent)).Inc()
	return string(StatusSent), nil
}
