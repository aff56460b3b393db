// Package storage holds what every persistence backend shares: the error taxonomy and the
// dead-letter file for logs that could not be decoded.
package storage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies persistence failures.
type ErrorKind int

const (
	// Unavailable is a transient database failure; the same batch may be retried.
	Unavailable ErrorKind = iota + 1
	// Conflict means the write would move the checkpoint backwards. It is never retried.
	Conflict
)

func (k ErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// PersistError is returned by sinks for failed writes.
type PersistError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// ErrStaleCheckpoint is the cause of Conflict errors.
var ErrStaleCheckpoint = errors.New("checkpoint would move backwards")

// NewConflict builds a Conflict error for a stale checkpoint write.
func NewConflict(op string, stored, proposed uint64) *PersistError {
	return &PersistError{
		Kind: Conflict,
		Op:   op,
		Err:  fmt.Errorf("%w: stored %d, proposed %d", ErrStaleCheckpoint, stored, proposed),
	}
}

// KindOf returns the persistence error kind of err, or 0 when err is not a PersistError.
func KindOf(err error) ErrorKind {
	var persistErr *PersistError
	if errors.As(err, &persistErr) {
		return persistErr.Kind
	}
	return 0
}

// IsUnavailable reports whether err is a retryable persistence failure.
func IsUnavailable(err error) bool {
	return KindOf(err) == Unavailable
}

// IsConflict reports whether err is a stale checkpoint write.
func IsConflict(err error) bool {
	return KindOf(err) == Conflict
}
