// Package orcherr defines the tagged error taxonomy shared by every
// orchestrator component. Errors carry a Kind and Severity instead of
// relying on a type hierarchy, so recoverability is a property of the
// variant rather than of a dynamic type check.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure from the orchestrator's error taxonomy.
type Kind string

const (
	KindValidationError         Kind = "ValidationError"
	KindPermissionDenied        Kind = "PermissionDenied"
	KindQuotaExceeded           Kind = "QuotaExceeded"
	KindRateLimited             Kind = "RateLimited"
	KindSessionNotFound         Kind = "SessionNotFound"
	KindSessionExpired          Kind = "SessionExpired"
	KindTooManySessions         Kind = "TooManySessions"
	KindModelUnavailable        Kind = "ModelUnavailable"
	KindModelTimeout            Kind = "ModelTimeout"
	KindModelContentTooLarge    Kind = "ModelContentTooLarge"
	KindCircuitOpen             Kind = "CircuitOpen"
	KindBulkheadFull            Kind = "BulkheadFull"
	KindToolNotAllowedForAgent  Kind = "ToolNotAllowedForAgent"
	KindInvalidToolParameters   Kind = "InvalidToolParameters"
	KindUnsafeParameters        Kind = "UnsafeParameters"
	KindToolResultUnknown       Kind = "ToolResultUnknown"
	KindRecoveryExhausted       Kind = "RecoveryExhausted"
	KindTimeout                 Kind = "Timeout"
	KindInternal                Kind = "Internal"
)

// Severity classifies how serious an error is for logging and client display.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityByKind is the canonical severity assignment from the taxonomy.
var severityByKind = map[Kind]Severity{
	KindValidationError:        SeverityLow,
	KindSessionNotFound:        SeverityLow,
	KindInvalidToolParameters:  SeverityLow,
	KindCircuitOpen:            SeverityMedium,
	KindBulkheadFull:           SeverityMedium,
	KindToolResultUnknown:      SeverityMedium,
	KindRateLimited:            SeverityMedium,
	KindQuotaExceeded:          SeverityMedium,
	KindToolNotAllowedForAgent: SeverityMedium,
	KindModelUnavailable:       SeverityHigh,
	KindModelTimeout:           SeverityHigh,
	KindModelContentTooLarge:   SeverityHigh,
	KindSessionExpired:         SeverityHigh,
	KindTooManySessions:        SeverityHigh,
	KindTimeout:                SeverityHigh,
	KindUnsafeParameters:       SeverityCritical,
	KindRecoveryExhausted:      SeverityCritical,
	KindPermissionDenied:       SeverityCritical,
	KindInternal:               SeverityCritical,
}

// recoverableKinds are the variants the Recovery Coordinator should be
// given a chance to handle before the error surfaces to the caller.
var recoverableKinds = map[Kind]bool{
	KindModelUnavailable: true,
	KindModelTimeout:     true,
	KindCircuitOpen:      true,
	KindSessionExpired:   true,
	KindTimeout:          true,
}

// retryableKinds marks kinds the resilience retry policy may resubmit.
// Permission, validation, and quota failures are deliberately absent.
var retryableKinds = map[Kind]bool{
	KindModelTimeout:  true,
	KindCircuitOpen:   true,
	KindTimeout:       true,
	KindBulkheadFull:  true,
}

// Error is the tagged error type propagated across every orchestrator
// component. The zero value is not meaningful; construct with New or Wrap.
type Error struct {
	Kind         Kind
	Severity     Severity
	UserMessage  string
	RecoveryHint string
	Op           string // component/operation that raised it, for logs only
	err          error
}

// New constructs an Error of the given kind with a user-safe message.
func New(kind Kind, op, userMessage string) *Error {
	return &Error{
		Kind:        kind,
		Severity:    severityFor(kind),
		UserMessage: userMessage,
		Op:          op,
	}
}

// Wrap attaches internal diagnostic context to an Error without leaking it
// to UserMessage; the wrapped error is retrievable only via Unwrap for logs.
func Wrap(kind Kind, op, userMessage string, cause error) *Error {
	e := New(kind, op, userMessage)
	e.err = cause
	return e
}

// WithRecoveryHint sets a concrete next step shown to the client.
func (e *Error) WithRecoveryHint(hint string) *Error {
	e.RecoveryHint = hint
	return e
}

func severityFor(kind Kind) Severity {
	if s, ok := severityByKind[kind]; ok {
		return s
	}
	return SeverityCritical
}

// Error implements the error interface. The message returned here is the
// internal diagnostic form (op + kind + cause) — never send it to a client.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.UserMessage)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.err
}

// Recoverable reports whether the Recovery Coordinator should attempt a
// strategy chain before this error surfaces to the caller.
func (e *Error) Recoverable() bool {
	return recoverableKinds[e.Kind]
}

// Retryable reports whether the resilience retry policy may resubmit the
// operation that produced this error.
func (e *Error) Retryable() bool {
	return retryableKinds[e.Kind]
}

// Is lets errors.Is match on Kind alone, ignoring message/cause differences.
func (e *Error) Is(target error) bool {
	var o *Error
	if !errors.As(target, &o) {
		return false
	}
	return o.Kind == e.Kind
}

// KindOf extracts the Kind from err, returning KindInternal for anything
// that isn't an *Error (defensive default — an untagged error is always
// treated as the most severe, non-retryable case).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Recoverable reports whether err, if an *Error, is recoverable.
func Recoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable()
	}
	return false
}

// Retryable reports whether err, if an *Error, may be retried.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
