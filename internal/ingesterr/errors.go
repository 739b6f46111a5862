// Package ingesterr classifies worker and dispatcher errors into the error
// taxonomy of spec section 7, so the dispatcher's decision table (C5) can
// switch on a single Kind instead of inspecting error chains itself.
package ingesterr

import "errors"

// Kind is one of the six error classes the dispatcher policy recognizes.
type Kind string

const (
	KindTransient       Kind = "transient"
	KindTerminal        Kind = "terminal"
	KindBudgetExceeded  Kind = "budget_exceeded"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindPartial         Kind = "partial"
	KindPolicyViolation Kind = "policy_violation"
	KindUnknown         Kind = "unknown"
)

// Error is a classified, wrapped error carrying the kind the dispatcher and
// DLQ severity derivation need.
type Error struct {
	Kind      Kind
	ErrorType string // e.g. "unsupported_media", "rate_limit", "auth_failure"
	Wrapped   error
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return string(e.Kind) + ": " + e.ErrorType
	}
	return string(e.Kind) + ": " + e.ErrorType + ": " + e.Wrapped.Error()
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New wraps err with a classification.
func New(kind Kind, errorType string, err error) *Error {
	return &Error{Kind: kind, ErrorType: errorType, Wrapped: err}
}

// Transient marks an error as retryable (timeout, 5xx, rate-limit,
// storage-unavailable).
func Transient(errorType string, err error) *Error { return New(KindTransient, errorType, err) }

// Terminal marks an error as not retryable (auth, invalid input, unsupported
// media, poison payload).
func Terminal(errorType string, err error) *Error { return New(KindTerminal, errorType, err) }

// BudgetExceeded marks a daily cost-cap rejection.
func BudgetExceeded(errorType string, err error) *Error {
	return New(KindBudgetExceeded, errorType, err)
}

// QuotaExceeded marks a service-quota rejection.
func QuotaExceeded(errorType string, err error) *Error {
	return New(KindQuotaExceeded, errorType, err)
}

// Partial marks a multi-sink/multi-source call where some but not all
// targets succeeded.
func Partial(errorType string, err error) *Error { return New(KindPartial, errorType, err) }

// PolicyViolation marks a retrieval-time authorization or content violation.
func PolicyViolation(errorType string, err error) *Error {
	return New(KindPolicyViolation, errorType, err)
}

// Classify extracts the Kind from err, walking the error chain. Errors not
// produced by this package classify as KindUnknown, which the dispatcher
// treats the same as KindTerminal to fail closed.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ErrorType extracts the provider-specific error type tag, or "" if err was
// not produced by this package.
func ErrorType(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrorType
	}
	return ""
}
