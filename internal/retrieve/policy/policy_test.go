package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/autopiloot/corepipe/internal/retrieve"
	"github.com/autopiloot/corepipe/internal/retrieve/policy"
)

func newEnforcer(t *testing.T) *policy.Enforcer {
	t.Helper()
	e, err := policy.NewEnforcer("retrieval-api")
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	return e
}

func TestEnforceNoPolicyRetainsEverything(t *testing.T) {
	e := newEnforcer(t)
	results := []retrieve.Result{{ChunkID: "c1", ChannelID: "chanA", Text: "plain text"}}

	out, err := e.Enforce(context.Background(), results, policy.Policy{})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("expected the result to be retained with no policy, got %d", len(out.Results))
	}
	if out.AuditTrail[0].Action != "retained" {
		t.Fatalf("expected retained action, got %s", out.AuditTrail[0].Action)
	}
}

func TestEnforceChannelAuthorizationDropsDisallowedChannel(t *testing.T) {
	e := newEnforcer(t)
	results := []retrieve.Result{
		{ChunkID: "c1", ChannelID: "chanA", Text: "hello"},
		{ChunkID: "c2", ChannelID: "chanB", Text: "world"},
	}

	out, err := e.Enforce(context.Background(), results, policy.Policy{AllowedChannels: []string{"chanA"}, Mode: policy.ModeFilter})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].ChunkID != "c1" {
		t.Fatalf("expected only chanA's result to survive, got %+v", out.Results)
	}
	for _, entry := range out.AuditTrail {
		if entry.ChunkID == "c2" && entry.Action != "dropped" {
			t.Fatalf("expected chanB's result to be dropped, got action %s", entry.Action)
		}
	}
}

func TestEnforceAgeAuthorizationFlagsExceededAndMissing(t *testing.T) {
	e := newEnforcer(t)
	old := time.Now().Add(-60 * 24 * time.Hour)
	results := []retrieve.Result{
		{ChunkID: "recent", PublishedAt: time.Now().Add(-time.Hour), HasPublishedAt: true},
		{ChunkID: "old", PublishedAt: old, HasPublishedAt: true},
		{ChunkID: "unknown-age"},
	}

	out, err := e.Enforce(context.Background(), results, policy.Policy{MaxAgeDays: 30, Mode: policy.ModeFilter})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].ChunkID != "recent" {
		t.Fatalf("expected only the recent result to survive age authorization, got %+v", out.Results)
	}
}

func TestEnforceRedactModeMasksSensitiveTextButKeepsResult(t *testing.T) {
	e := newEnforcer(t)
	results := []retrieve.Result{{ChunkID: "c1", Text: "call me at 555-123-4567 or email a@b.com"}}

	out, err := e.Enforce(context.Background(), results, policy.Policy{Mode: policy.ModeRedact})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("expected redact mode to retain the result, got %d", len(out.Results))
	}
	if !out.Results[0].Redacted {
		t.Fatal("expected the result to be marked redacted")
	}
	if out.Results[0].Text == results[0].Text {
		t.Fatal("expected the text to be rewritten with redaction placeholders")
	}
}

func TestEnforceFilterModeDropsSensitiveResultsWithoutRedacting(t *testing.T) {
	e := newEnforcer(t)
	results := []retrieve.Result{{ChunkID: "c1", Text: "email me at a@b.com"}}

	out, err := e.Enforce(context.Background(), results, policy.Policy{Mode: policy.ModeFilter})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(out.Results) != 0 {
		t.Fatalf("expected filter mode to drop sensitive results, got %d", len(out.Results))
	}
}

func TestEnforceAuditOnlyRetainsAndRecordsViolationWithoutRedacting(t *testing.T) {
	e := newEnforcer(t)
	results := []retrieve.Result{{ChunkID: "c1", Text: "email me at a@b.com"}}

	out, err := e.Enforce(context.Background(), results, policy.Policy{Mode: policy.ModeAuditOnly})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("expected audit_only to retain the result, got %d", len(out.Results))
	}
	if out.Results[0].Text != results[0].Text {
		t.Fatal("expected audit_only to leave the text unchanged")
	}
	if len(out.AuditTrail[0].Violations) == 0 {
		t.Fatal("expected audit_only to still record the sensitive-content violation")
	}
}

func TestEnforceRedactIsIdempotent(t *testing.T) {
	e := newEnforcer(t)
	p := policy.Policy{Mode: policy.ModeRedact}
	first, err := e.Enforce(context.Background(), []retrieve.Result{{ChunkID: "c1", Text: "reach a@b.com now"}}, p)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}

	second, err := e.Enforce(context.Background(), first.Results, p)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if second.Results[0].Text != first.Results[0].Text {
		t.Fatalf("expected re-enforcing an already-redacted result to be idempotent: %q vs %q", first.Results[0].Text, second.Results[0].Text)
	}
}
