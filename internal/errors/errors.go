// Package errors provides the error definitions for caldata.
//
// This file provides:
// - Wire protocol error codes for the RPC facade
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode and CodeToError mapping
// - Constructors that attach context
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Wire protocol error codes - surfaced unchanged by the RPC facade
// ============================================================================

const (
	CodeUnknown           int32 = 1
	CodeInvalidRequest    int32 = 4
	CodeUnknownSolutionID int32 = 5
	CodeAlreadyExists     int32 = 6
	CodeInternal          int32 = 7
	CodeStorageFault      int32 = 14
	CodeNotImplemented    int32 = 15
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeUnknownSolutionID:
		return "UnknownSolutionId"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeInternal:
		return "Internal"
	case CodeStorageFault:
		return "StorageFault"
	case CodeNotImplemented:
		return "NotImplemented"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// ErrAlreadyExists is returned when a solution of the given type is
	// already stored under the identifier.
	ErrAlreadyExists = errors.New("solution already exists")

	// ErrUnknownSolutionID is returned when an identifier, type or
	// timestamp bound has no matching data.
	ErrUnknownSolutionID = errors.New("unknown solution id")

	// ErrStorageFault marks index or blob I/O failures.
	ErrStorageFault = errors.New("storage fault")

	// ErrCorrupt is returned when stored bytes fail to decode.
	ErrCorrupt = fmt.Errorf("corrupt solution data: %w", ErrStorageFault)

	ErrNotImplemented  = errors.New("not implemented")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("store is closed")
	ErrInternal        = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsAlreadyExists returns true if err is an already-exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsUnknownSolution returns true if err reports missing solution data.
func IsUnknownSolution(err error) bool {
	return errors.Is(err, ErrUnknownSolutionID)
}

// IsStorageFault returns true if err is an underlying I/O failure.
func IsStorageFault(err error) bool {
	return errors.Is(err, ErrStorageFault)
}

// ============================================================================
// Error to wire code mapping
// ============================================================================

// ErrorToCode maps an error to its wire protocol code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case IsAlreadyExists(err):
		return CodeAlreadyExists
	case IsUnknownSolution(err):
		return CodeUnknownSolutionID
	case IsStorageFault(err):
		return CodeStorageFault
	case Is(err, ErrNotImplemented):
		return CodeNotImplemented
	case Is(err, ErrInvalidArgument):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// CodeToError maps a wire code to a sentinel error (for clients).
func CodeToError(code int32) error {
	switch code {
	case CodeAlreadyExists:
		return ErrAlreadyExists
	case CodeUnknownSolutionID:
		return ErrUnknownSolutionID
	case CodeStorageFault:
		return ErrStorageFault
	case CodeNotImplemented:
		return ErrNotImplemented
	case CodeInvalidRequest:
		return ErrInvalidArgument
	default:
		return ErrInternal
	}
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewAlreadyExists reports a duplicate (id, type) pair.
func NewAlreadyExists(id int64, kind fmt.Stringer) error {
	return fmt.Errorf("%s solution with id %d: %w", kind, id, ErrAlreadyExists)
}

// NewUnknownSolution reports a missing (id, type) pair.
func NewUnknownSolution(id int64, kind fmt.Stringer) error {
	return fmt.Errorf("%s solution with id %d: %w", kind, id, ErrUnknownSolutionID)
}

// NewStorageFault wraps an I/O failure of the named operation. Domain errors
// pass through untouched so callers keep seeing their real category.
func NewStorageFault(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsStorageFault(err) || IsAlreadyExists(err) || IsUnknownSolution(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFault, err)
}

// NewInvalidArgument reports a malformed argument.
func NewInvalidArgument(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidArgument)
}
