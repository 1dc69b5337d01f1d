// Package telemetry resolves device hierarchies, appends readings and answers
// the per-device aggregation queries.
package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity marks a uniqueness conflict whose winning row cannot be read back
	ErrIntegrity = errors.New("storage integrity violation")

	// ErrNotFound is returned by write paths addressing an entity that does not exist
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed or missing input, detected before any
// storage access
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IntegrityError is returned when an insert was rejected as a duplicate but
// the re-read by natural key finds nothing
type IntegrityError struct {
	Kind Kind
	Key  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %q was rejected as duplicate but cannot be found", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrIntegrity) hold
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// TransactionError wraps any failure inside an ingestion unit of work. None of
// the writes made by the failed call are durable.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s rolled back: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
