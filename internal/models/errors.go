// -----------------------------------------------------------------------
// Error taxonomy - Typed outcomes commands return instead of panicking
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors callers dispatch on with errors.Is.
var (
	// ErrNotFound means the referenced job, change, or entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidSpec means an enqueue request failed validation
	ErrInvalidSpec = errors.New("invalid job spec")

	// ErrTerminalJob means the job already reached an absorbing status
	ErrTerminalJob = errors.New("job is in a terminal status")

	// ErrAlreadyReviewed means the change already left the pending state
	ErrAlreadyReviewed = errors.New("change already reviewed")

	// ErrIntegrity means an apply hit an inconsistency that needs operator attention
	ErrIntegrity = errors.New("integrity violation")
)

// DuplicateJobError is returned when an enqueue collides with a live job
// carrying the same spec hash. ExistingID lets the caller adopt the
// in-flight job instead of retrying.
type DuplicateJobError struct {
	ExistingID string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("duplicate job: identical spec already queued as %s", e.ExistingID)
}

// AmbiguousMatchError blocks approval of a create whose candidate could be
// any of several stored entities. The change stays pending.
type AmbiguousMatchError struct {
	ChangeID     string
	CandidateIDs []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for change %s: candidates %s",
		e.ChangeID, strings.Join(e.CandidateIDs, ", "))
}

// StaleChangeError blocks approval of an update whose base values no longer
// match the stored entity. The change stays pending so the operator can
// re-collect or reject.
type StaleChangeError struct {
	ChangeID          string
	EntityID          string
	ConflictingFields []string
}

func (e *StaleChangeError) Error() string {
	return fmt.Sprintf("stale change %s: entity %s moved on fields %s",
		e.ChangeID, e.EntityID, strings.Join(e.ConflictingFields, ", "))
}

// ---- Job failure classification ----

// transientError marks failures worth retrying with backoff
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// fatalError marks failures that will not improve with retries
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Transient wraps err as retryable. Deadline and provider availability
// failures take this path.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Fatal wraps err as non-retryable. Schema contract violations and
// anchor-entity lookups that fail take this path.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsTransient reports whether err should be retried.
// Unclassified errors default to transient so flaky infrastructure
// never dead-letters a job on its first wobble.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fatal *fatalError
	if errors.As(err, &fatal) {
		return false
	}
	return true
}

// IsFatal reports whether err is explicitly non-retryable
func IsFatal(err error) bool {
	var fatal *fatalError
	return errors.As(err, &fatal)
}
