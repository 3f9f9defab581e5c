package trace

import (
	"context"
	"errors"
	"strings"
)

// Error class constants for write failure classification.
const (
	WriteErrorClassValidation = "validation"
	WriteErrorClassTimeout    = "timeout"
	WriteErrorClassContention = "contention"
	WriteErrorClassConstraint = "constraint"
	WriteErrorClassStorage    = "storage"
	WriteErrorClassUnknown    = "unknown"
)

// ClassifyWriteError maps a write error to one of the defined error classes
// so operators can alert and dashboard on failure categories rather than
// opaque Go type names.
func ClassifyWriteError(err error) string {
	if err == nil {
		return WriteErrorClassUnknown
	}

	if errors.Is(err, ErrInvalidEvent) {
		return WriteErrorClassValidation
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WriteErrorClassTimeout
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return WriteErrorClassStorage
	}

	// String-based classification for errors from the sqlite driver, where
	// type information is lost behind database/sql.
	msg := strings.ToLower(err.Error())

	if isTimeoutString(msg) {
		return WriteErrorClassTimeout
	}
	if isContentionString(msg) {
		return WriteErrorClassContention
	}
	if isConstraintString(msg) {
		return WriteErrorClassConstraint
	}
	if isStorageString(msg) {
		return WriteErrorClassStorage
	}

	return WriteErrorClassUnknown
}

func isTimeoutString(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}

func isContentionString(msg string) bool {
	return strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database is locked")
}

func isConstraintString(msg string) bool {
	return strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "constraint violation") ||
		strings.Contains(msg, "duplicate key")
}

func isStorageString(msg string) bool {
	return strings.Contains(msg, "unable to open database") ||
		strings.Contains(msg, "disk i/o error") ||
		strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "attempt to write a readonly database") ||
		strings.Contains(msg, "no such table")
}
