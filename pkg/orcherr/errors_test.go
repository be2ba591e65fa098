package orcherr

import (
	"errors"
	"testing"
)

func TestSeverityDefaults(t *testing.T) {
	cases := map[Kind]Severity{
		KindValidationError:  SeverityLow,
		KindCircuitOpen:      SeverityMedium,
		KindModelUnavailable: SeverityHigh,
		KindRecoveryExhausted: SeverityCritical,
	}
	for kind, want := range cases {
		e := New(kind, "test", "msg")
		if e.Severity != want {
			t.Errorf("Kind %s: severity = %s, want %s", kind, e.Severity, want)
		}
	}
}

func TestRecoverableKinds(t *testing.T) {
	if !New(KindModelUnavailable, "op", "").Recoverable() {
		t.Error("ModelUnavailable should be recoverable")
	}
	if New(KindPermissionDenied, "op", "").Recoverable() {
		t.Error("PermissionDenied must not be recoverable")
	}
}

func TestRetryableKinds(t *testing.T) {
	if !New(KindCircuitOpen, "op", "").Retryable() {
		t.Error("CircuitOpen should be retryable (after cooldown)")
	}
	for _, k := range []Kind{KindPermissionDenied, KindValidationError, KindQuotaExceeded} {
		if New(k, "op", "").Retryable() {
			t.Errorf("%s must never be retryable", k)
		}
	}
}

func TestIsMatchesOnKind(t *testing.T) {
	e1 := New(KindSessionExpired, "sessions.resume", "your session expired")
	e2 := New(KindSessionExpired, "sessions.touch", "different message, same kind")
	if !errors.Is(e1, e2) {
		t.Error("errors with the same Kind should match via errors.Is")
	}
	e3 := New(KindSessionNotFound, "sessions.resume", "")
	if errors.Is(e1, e3) {
		t.Error("errors with different Kind must not match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := Wrap(KindModelUnavailable, "modelengine.generate", "the model is temporarily unavailable", cause)
	if !errors.Is(e, cause) && errors.Unwrap(e) != cause {
		t.Error("Wrap should preserve the underlying cause via Unwrap")
	}
	if e.UserMessage == cause.Error() {
		t.Error("UserMessage must not leak the internal cause")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("an untagged error should classify as Internal")
	}
}

func TestWithRecoveryHint(t *testing.T) {
	e := New(KindQuotaExceeded, "gate.check", "quota exceeded").WithRecoveryHint("retry after window reset")
	if e.RecoveryHint != "retry after window reset" {
		t.Error("WithRecoveryHint did not set the hint")
	}
}
