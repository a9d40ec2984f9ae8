// Package cupcakeerr defines the engine's error taxonomy (spec.md §7).
// Errors are classified by Kind, not by Go type, so callers branch on
// behavior ("is this fail-closed, is this localized to one signal")
// rather than on concrete error types.
package cupcakeerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the taxonomy in spec.md §7.
type Kind string

const (
	KindInput     Kind = "InputError"
	KindConfig    Kind = "ConfigError"
	KindCompile   Kind = "CompileError"
	KindSignal    Kind = "SignalError"
	KindRuntime   Kind = "RuntimeError"
	KindSynthesis Kind = "SynthesisError"
	KindTrust     Kind = "TrustError"
)

// TrustSubKind enumerates the TrustError variants (spec.md §7).
type TrustSubKind string

const (
	TrustNotInitialized  TrustSubKind = "NotInitialized"
	TrustDisabled        TrustSubKind = "Disabled"
	TrustTampered        TrustSubKind = "Tampered"
	TrustScriptModified  TrustSubKind = "ScriptModified"
	TrustScriptNotTrusted TrustSubKind = "ScriptNotTrusted"
	TrustScriptNotFound  TrustSubKind = "ScriptNotFound"
)

// Error is the engine's single error type, carrying a Kind for
// caller-side branching and wrapping the underlying cause.
type Error struct {
	Kind    Kind
	SubKind TrustSubKind // only meaningful when Kind == KindTrust
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.SubKind != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s(%s): %s: %v", e.Kind, e.SubKind, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.SubKind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind (and, when
// set, the same SubKind), so callers can do errors.Is(err, cupcakeerr.New(KindTrust, "", nil)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.SubKind != "" && e.SubKind != t.SubKind {
		return false
	}
	return true
}

// New builds an Error of the given Kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Trust builds a TrustError with a sub-kind.
func Trust(sub TrustSubKind, message string, cause error) *Error {
	return &Error{Kind: KindTrust, SubKind: sub, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsFailClosed reports whether an error of this kind must fail closed
// (Deny), per spec.md §7's propagation policy.
func IsFailClosed(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case KindRuntime, KindSynthesis:
		return true
	case KindTrust:
		var e *Error
		errors.As(err, &e)
		return e != nil && e.SubKind == TrustTampered
	default:
		return false
	}
}
