package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ledger failures.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the issue id is unknown. Caller misuse.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConflict indicates a stale token or an already-resolved offer.
	// Expected under normal races - not an operational error.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeInvalidState indicates an operation that the record's status
	// does not allow (e.g. complete before assigned). Caller misuse.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeExhausted indicates no candidates are left. Terminal, normal.
	ErrCodeExhausted ErrorCode = "EXHAUSTED"

	// ErrCodeAlreadyExists indicates Create was called for a known issue id.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrCodeInvalidArgument indicates malformed input (empty ids, empty or
	// duplicate candidate lists).
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Error is the typed error returned by every Ledger implementation.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the ledger operation that failed (e.g. "try_accept").
	Op string

	// IssueID identifies the affected record, when known.
	IssueID string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.IssueID != "" {
		return fmt.Sprintf("%s: %s: %s (issue=%s)", e.Op, e.Code, e.Message, e.IssueID)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

// Expected reports whether the error is a normal outcome under races
// (Conflict, Exhausted) rather than caller misuse or an infrastructure fault.
func (e *Error) Expected() bool {
	return e.Code == ErrCodeConflict || e.Code == ErrCodeExhausted
}

func newError(code ErrorCode, op, issueID, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		IssueID: issueID,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound creates a NOT_FOUND error.
func NotFound(op, issueID string) *Error {
	return newError(ErrCodeNotFound, op, issueID, "unknown issue")
}

// Conflict creates a CONFLICT error.
func Conflict(op, issueID, format string, args ...any) *Error {
	return newError(ErrCodeConflict, op, issueID, format, args...)
}

// InvalidState creates an INVALID_STATE error.
func InvalidState(op, issueID, format string, args ...any) *Error {
	return newError(ErrCodeInvalidState, op, issueID, format, args...)
}

// Exhausted creates an EXHAUSTED error.
func Exhausted(op, issueID string) *Error {
	return newError(ErrCodeExhausted, op, issueID, "no candidates left")
}

// AlreadyExists creates an ALREADY_EXISTS error.
func AlreadyExists(op, issueID string) *Error {
	return newError(ErrCodeAlreadyExists, op, issueID, "issue already has an assignment record")
}

// InvalidArgument creates an INVALID_ARGUMENT error.
func InvalidArgument(op, issueID, format string, args ...any) *Error {
	return newError(ErrCodeInvalidArgument, op, issueID, format, args...)
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a ledger
// error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsNotFound returns true if err is a NOT_FOUND ledger error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsConflict returns true if err is a CONFLICT ledger error.
func IsConflict(err error) bool { return CodeOf(err) == ErrCodeConflict }

// IsInvalidState returns true if err is an INVALID_STATE ledger error.
func IsInvalidState(err error) bool { return CodeOf(err) == ErrCodeInvalidState }

// IsExhausted returns true if err is an EXHAUSTED ledger error.
func IsExhausted(err error) bool { return CodeOf(err) == ErrCodeExhausted }

// IsAlreadyExists returns true if err is an ALREADY_EXISTS ledger error.
func IsAlreadyExists(err error) bool { return CodeOf(err) == ErrCodeAlreadyExists }

// IsInvalidArgument returns true if err is an INVALID_ARGUMENT ledger error.
func IsInvalidArgument(err error) bool { return CodeOf(err) == ErrCodeInvalidArgument }

// Classify turns a failed compare-and-swap into the right error, given the
// record as it looks now. Backends call it after their atomic update matched
// nothing.
//
// A terminal or assigned record answers Complete with INVALID_STATE; every
// other miss is a CONFLICT (the token went stale under us).
func Classify(op string, current Record) *Error {
	if op == OpComplete {
		return InvalidState(op, current.IssueID, "status is %s, want %s", current.Status, StatusAssigned)
	}
	if current.Status == StatusExhausted {
		return Exhausted(op, current.IssueID)
	}
	return Conflict(op, current.IssueID, "record moved on (status=%s cursor=%d)", current.Status, current.Cursor)
}

// IsExpected returns true if err is a ledger error that represents a normal
// race outcome (CONFLICT or EXHAUSTED).
func IsExpected(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Expected()
	}
	return false
}
