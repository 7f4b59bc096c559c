// Package dispatcherrors implements the closed error taxonomy of spec §7 as
// concrete Go types, following the pattern of alexisbeaulieu97/streamy's
// internal/plugin/errors.go: each category is a distinct type implementing
// error, Unwrap and Is, so a RetryAction can pattern-match on category with
// errors.As instead of walking an open exception hierarchy.
package dispatcherrors

import (
	"errors"
	"fmt"
	"time"
)

// JobError is raised for bad input, unreachable remote resources, or a
// corrupted download — anything wrong with the job's data or environment
// rather than the dispatcher's own code.
type JobError struct {
	Msg string
	Err error
}

func NewJobError(format string, args ...any) *JobError {
	return &JobError{Msg: fmt.Sprintf(format, args...)}
}

func WrapJobError(err error, format string, args ...any) *JobError {
	return &JobError{Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *JobError) Unwrap() error { return e.Err }

func (e *JobError) Is(target error) bool {
	_, ok := target.(*JobError)
	return ok
}

// InfrastructureError is raised for a fault in hardware or auxiliary lab
// infrastructure (serial cable, PDU, network switch, dispatcher host
// tooling). It is recovered the same way as JobError but categorized
// distinctly so operator dashboards can tell "your job is broken" apart
// from "the lab is broken".
type InfrastructureError struct {
	Msg string
	Err error
}

func NewInfrastructureError(format string, args ...any) *InfrastructureError {
	return &InfrastructureError{Msg: fmt.Sprintf(format, args...)}
}

func WrapInfrastructureError(err error, format string, args ...any) *InfrastructureError {
	return &InfrastructureError{Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *InfrastructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Is(target error) bool {
	_, ok := target.(*InfrastructureError)
	return ok
}

// TestError is a soft failure inside a test definition: a bad measurement, an
// unmatched pattern. It is logged and cleared by the surrounding action and
// is never fatal to the job.
type TestError struct {
	Msg string
	Err error
}

func NewTestError(format string, args ...any) *TestError {
	return &TestError{Msg: fmt.Sprintf(format, args...)}
}

func (e *TestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *TestError) Unwrap() error { return e.Err }

func (e *TestError) Is(target error) bool {
	_, ok := target.(*TestError)
	return ok
}

// JobTimeout reports that the job-global deadline elapsed.
type JobTimeout struct {
	JobName  string
	Duration time.Duration
}

func (e *JobTimeout) Error() string {
	return fmt.Sprintf("job '%s' timed out after %d seconds", e.JobName, int(e.Duration.Seconds()))
}

func (e *JobTimeout) Is(target error) bool {
	_, ok := target.(*JobTimeout)
	return ok
}

// ProtectedTimeout reports an attempt to modify a timeout declared
// protected.
type ProtectedTimeout struct {
	Name string
}

func (e *ProtectedTimeout) Error() string {
	return fmt.Sprintf("trying to modify a protected timeout: %s", e.Name)
}

func (e *ProtectedTimeout) Is(target error) bool {
	_, ok := target.(*ProtectedTimeout)
	return ok
}

// InternalError wraps any unexpected error surfaced from an Action.Run that
// is not one of the domain categories above. It is always treated as a bug:
// the engine logs it, runs cleanup, and the job aborts rather than retries.
type InternalError struct {
	Msg string
	Err error
}

func NewInternalError(err error, format string, args ...any) *InternalError {
	return &InternalError{Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Is(target error) bool {
	_, ok := target.(*InternalError)
	return ok
}

// Recoverable reports whether err belongs to the two categories a
// RetryAction may swallow and retry: JobError and InfrastructureError.
// Cancellation, JobTimeout and InternalError are never retried.
func Recoverable(err error) bool {
	var je *JobError
	var ie *InfrastructureError
	return errors.As(err, &je) || errors.As(err, &ie)
}

// Category names the five domain categories plus InternalError, used for
// result-record enrichment and operator-dashboard grouping.
type Category string

const (
	CategoryJob            Category = "job"
	CategoryInfrastructure Category = "infrastructure"
	CategoryTest           Category = "test"
	CategoryTimeout        Category = "timeout"
	CategoryProtected      Category = "protected-timeout"
	CategoryInternal       Category = "internal"
	CategoryNone           Category = ""
)

// Classify returns the Category of err, or CategoryNone if err is nil. An
// error that matches none of the known types is classified as
// CategoryInternal.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	var je *JobError
	if errors.As(err, &je) {
		return CategoryJob
	}
	var ie *InfrastructureError
	if errors.As(err, &ie) {
		return CategoryInfrastructure
	}
	var te *TestError
	if errors.As(err, &te) {
		return CategoryTest
	}
	var jt *JobTimeout
	if errors.As(err, &jt) {
		return CategoryTimeout
	}
	var pt *ProtectedTimeout
	if errors.As(err, &pt) {
		return CategoryProtected
	}
	var ine *InternalError
	if errors.As(err, &ine) {
		return CategoryInternal
	}
	return CategoryInternal
}
