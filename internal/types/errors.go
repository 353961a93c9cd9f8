package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind classifies a failure for machine callers. Every error surfaced
// across a package boundary carries exactly one kind.
type ErrorKind string

const (
	// ErrInvalidArgument marks caller mistakes: bad enum values, malformed
	// references, out-of-range scores.
	ErrInvalidArgument ErrorKind = "InvalidArgument"
	// ErrNotFound marks lookups for memories, blocks, or sessions that do
	// not exist.
	ErrNotFound ErrorKind = "NotFound"
	// ErrIntegrityMismatch marks a body whose hash no longer matches its
	// envelope.
	ErrIntegrityMismatch ErrorKind = "IntegrityMismatch"
	// ErrLogCorruption marks undecodable event-log lines discovered during
	// replay or verification.
	ErrLogCorruption ErrorKind = "LogCorruption"
	// ErrTransientExternal marks external failures worth retrying: network
	// flaps, lock contention, rate limits.
	ErrTransientExternal ErrorKind = "TransientExternal"
	// ErrPermanentExternal marks external failures that retries cannot fix:
	// auth rejection, missing binaries.
	ErrPermanentExternal ErrorKind = "PermanentExternal"
	// ErrPolicyDenied marks writes rejected by policy, such as secret
	// material in a payload.
	ErrPolicyDenied ErrorKind = "PolicyDenied"
)

// Error is the structured error carried across omnimem package boundaries.
type Error struct {
	Kind        ErrorKind
	Message     string
	Remediation string
	cause       error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a classified error around an underlying cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithRemediation attaches an actionable hint for the operator.
func (e *Error) WithRemediation(hint string) *Error {
	e.Remediation = hint
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the classification from any error in the chain. Errors
// without a classification report as empty.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// RemediationOf extracts the remediation hint, if any, from the chain.
func RemediationOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Remediation
	}
	return ""
}

// Retryable reports whether err is worth retrying. Transient external
// failures are retryable; unclassified errors are treated as transient so a
// retry loop gets at least one more attempt before giving up.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	kind := KindOf(err)
	return kind == ErrTransientExternal || kind == ""
}

// =============================================================================
// RESULT - Machine-readable operation outcome
// =============================================================================

// Result is the uniform machine-readable outcome returned by CLI operations.
type Result struct {
	OK          bool   `json:"ok"`
	Message     string `json:"message,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Remediation string `json:"remediation_hint,omitempty"`
}

// OKResult builds a success result.
func OKResult(format string, args ...any) Result {
	return Result{OK: true, Message: fmt.Sprintf(format, args...)}
}

// FailResult builds a failure result from a classified error.
func FailResult(err error) Result {
	return Result{
		OK:          false,
		Message:     err.Error(),
		ErrorKind:   string(KindOf(err)),
		Remediation: RemediationOf(err),
	}
}
