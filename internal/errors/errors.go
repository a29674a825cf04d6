package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrNotFound                  = errors.New("not found")
	ErrIOFailure                 = errors.New("io failure")
	ErrAlgorithmUnavailable      = errors.New("algorithm unavailable")
	ErrChecksumMismatch          = errors.New("checksum mismatch")
	ErrResourceAcquisitionFailed = errors.New("resource acquisition failed")
	ErrSurfaceRegistrationFailed = errors.New("surface registration failed")
	ErrTaskNotRunning            = errors.New("task not running")
	ErrJobNotFound               = errors.New("job not found")
	ErrJobInProgress             = errors.New("job in progress")
	ErrJobFinished               = errors.New("job already finished")
	ErrInsufficientStorage       = errors.New("insufficient storage space")
)

// Error carries an error kind together with a human-readable detail and
// the underlying cause, if any.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

// New returns an *Error of the given kind.
func New(kind error, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Detail, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf reports the name of the first known kind err matches, or "internal".
func KindOf(err error) string {
	for _, k := range []struct {
		kind error
		name string
	}{
		{ErrNotFound, "not_found"},
		{ErrIOFailure, "io_failure"},
		{ErrAlgorithmUnavailable, "algorithm_unavailable"},
		{ErrChecksumMismatch, "checksum_mismatch"},
		{ErrResourceAcquisitionFailed, "resource_acquisition_failed"},
		{ErrSurfaceRegistrationFailed, "surface_registration_failed"},
		{ErrTaskNotRunning, "task_not_running"},
		{ErrJobNotFound, "job_not_found"},
		{ErrJobInProgress, "job_in_progress"},
		{ErrJobFinished, "job_finished"},
		{ErrInsufficientStorage, "insufficient_storage"},
	} {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}
