// Package policy implements the Policy Enforcer (C9): post-retrieval
// channel authorization, age authorization, and sensitive-content
// filtering/redaction, with a per-result audit trail.
//
// Channel authorization is delegated to a casbin enforcer the same way
// tomtom215-cartographus/internal/authz wraps casbin.SyncedEnforcer behind
// a small typed facade: channel IDs are policy resources, the retrieving
// caller's subject is checked against them with a fixed "read" action, and
// results are only gated this way when allowed_channels is non-empty for
// the request (an empty allow-list means the check is skipped, per spec
// section 4.9).
package policy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/retrieve"
)

// Mode selects how a violation is handled.
type Mode string

const (
	ModeFilter    Mode = "filter"
	ModeRedact    Mode = "redact"
	ModeAuditOnly Mode = "audit_only"
)

// Policy is C9's contract input.
type Policy struct {
	AllowedChannels  []string
	MaxAgeDays       int // 0 means unset
	SensitivePattern map[string]string // kind -> regex, merged over domain.SensitivePatterns
	Mode             Mode
}

// AuditEntry is one per-result record in the audit trail (spec section 4.9).
type AuditEntry struct {
	ChunkID         string
	Action          string // "retained", "redacted", "dropped"
	Violations      []string
	ChecksPerformed []string
	Timestamp       time.Time
}

// Enforcer applies C9 over a batch of fused results. Channel authorization
// is delegated to casbin. Enforce uses the casbin enforcer and clock that
// NewEnforcer sets, so a nil or zero-value Enforcer is not usable.
type Enforcer struct {
	casbin  *casbin.Enforcer
	subject string
	now     func() time.Time
}

const channelModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// NewEnforcer builds a casbin-backed Enforcer. subject is the fixed
// principal checked against each allowed channel (e.g. "retrieval-api");
// callers that need per-caller subjects can construct distinct Enforcers.
func NewEnforcer(subject string) (*Enforcer, error) {
	m, err := model.NewModelFromString(channelModel)
	if err != nil {
		return nil, fmt.Errorf("policy: load casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("policy: new casbin enforcer: %w", err)
	}
	return &Enforcer{casbin: e, subject: subject, now: time.Now}, nil
}

// syncChannels replaces the casbin policy with one "p, subject, channel_id,
// read" rule per allowed channel, making allowed_channels the resource set
// casbin authorizes against for this request.
func (e *Enforcer) syncChannels(channels []string) error {
	e.casbin.ClearPolicy()
	for _, ch := range channels {
		if _, err := e.casbin.AddPolicy(e.subject, ch, "read"); err != nil {
			return fmt.Errorf("policy: add casbin policy for channel %q: %w", ch, err)
		}
	}
	return nil
}

// Outcome is enforce's contract return value.
type Outcome struct {
	Results    []retrieve.Result
	AuditTrail []AuditEntry
}

// Enforce implements C9's enforce(results, policy) -> {results, audit_trail}.
func (e *Enforcer) Enforce(ctx context.Context, results []retrieve.Result, p Policy) (Outcome, error) {
	if len(p.AllowedChannels) > 0 {
		if err := e.syncChannels(p.AllowedChannels); err != nil {
			return Outcome{}, err
		}
	}

	patterns := compilePatterns(p.SensitivePattern)
	now := e.now()

	out := Outcome{}
	for _, r := range results {
		checks := []string{}
		var violations []string

		if len(p.AllowedChannels) > 0 {
			checks = append(checks, "channel_authorization")
			allowed, err := e.casbin.Enforce(e.subject, r.ChannelID, "read")
			if err != nil {
				return Outcome{}, fmt.Errorf("policy: casbin enforce channel %q: %w", r.ChannelID, err)
			}
			if !allowed {
				violations = append(violations, "channel_not_allowed")
			}
		}

		if p.MaxAgeDays > 0 {
			checks = append(checks, "age_authorization")
			if !r.HasPublishedAt {
				violations = append(violations, "missing_published_at")
			} else if now.Sub(r.PublishedAt) > time.Duration(p.MaxAgeDays)*24*time.Hour {
				violations = append(violations, "age_exceeded")
			}
		}

		text := r.Text
		var sensitiveKinds []string
		if len(patterns) > 0 {
			checks = append(checks, "sensitive_content")
			text, sensitiveKinds = redact(text, patterns, p.Mode == ModeRedact)
			for _, kind := range sensitiveKinds {
				violations = append(violations, "sensitive:"+kind)
			}
		}

		entry := AuditEntry{
			ChunkID:         r.ChunkID,
			Violations:      violations,
			ChecksPerformed: checks,
			Timestamp:       now,
		}

		switch {
		case len(violations) == 0:
			entry.Action = "retained"
			out.Results = append(out.Results, r)
		case p.Mode == ModeFilter:
			entry.Action = "dropped"
		case p.Mode == ModeRedact:
			entry.Action = "retained"
			if len(sensitiveKinds) > 0 {
				entry.Action = "redacted"
				r.Text = text
				r.Redacted = true
			}
			out.Results = append(out.Results, r)
		default: // audit_only
			entry.Action = "retained"
			out.Results = append(out.Results, r)
		}

		out.AuditTrail = append(out.AuditTrail, entry)
	}
	return out, nil
}

func compilePatterns(operator map[string]string) map[string]*regexp.Regexp {
	merged := make(map[string]string, len(domain.SensitivePatterns)+len(operator))
	for k, v := range domain.SensitivePatterns {
		merged[k] = v
	}
	for k, v := range operator {
		merged[k] = v
	}
	compiled := make(map[string]*regexp.Regexp, len(merged))
	for kind, pat := range merged {
		if re, err := regexp.Compile(pat); err == nil {
			compiled[kind] = re
		}
	}
	return compiled
}

// redact scans text for every pattern and, when doRedact is true, replaces
// matches with "[<KIND> REDACTED]". It always returns the set of kinds that
// matched, so filter/audit_only modes can record violations without
// mutating text.
func redact(text string, patterns map[string]*regexp.Regexp, doRedact bool) (string, []string) {
	kinds := make([]string, 0, len(patterns))
	for kind, re := range patterns {
		if !re.MatchString(text) {
			continue
		}
		kinds = append(kinds, kind)
		if doRedact {
			placeholder := "[" + strings.ToUpper(kind) + " REDACTED]"
			text = re.ReplaceAllString(text, placeholder)
		}
	}
	sort.Strings(kinds)
	return text, kinds
}
