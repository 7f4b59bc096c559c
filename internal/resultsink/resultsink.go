// Package resultsink implements the result records contract of spec §6 and
// the supplemental LavaTestData-style aggregate summary of SPEC_FULL §12.6
// (original_source/lava_dispatcher/test_data.py). The engine emits one
// Record per completed action through a Sink; Sink is the "external
// collaborator" spec §1 calls out as out of scope for the core, so the only
// implementation shipped here is a structured-logger-backed one.
package resultsink

import (
	"time"

	"github.com/google/uuid"

	"github.com/duttest/dispatcher/internal/dispatchlog"
)

// Record is the per-action result record required by spec §6:
// {definition, case, level, duration, result, extra} plus the enriched
// {timeout, connection-timeout} fields SPEC_FULL §12.1 requires kept under
// distinct keys (the source's explode() bug conflates them under one
// 'timeout' key; this is treated as a bug per spec §9 and fixed here).
type Record struct {
	Definition        string
	Case              string
	Level             string
	Duration          time.Duration
	Result            string // "pass" or "fail"
	Extra             map[string]any
	Timeout           time.Duration
	ConnectionTimeout time.Duration
}

// Sink consumes result records as they are produced. Implementations must
// not block the pipeline for long, since run_actions emits a record
// synchronously after every completed action.
type Sink interface {
	Emit(rec Record)
}

// LoggerSink adapts a *dispatchlog.Logger into a Sink.
type LoggerSink struct {
	Logger *dispatchlog.Logger
}

func (s *LoggerSink) Emit(rec Record) {
	extra := rec.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	extra["timeout"] = rec.Timeout.Seconds()
	extra["connection-timeout"] = rec.ConnectionTimeout.Seconds()
	s.Logger.Result(dispatchlog.Record{
		Definition: rec.Definition,
		Case:       rec.Case,
		Level:      rec.Level,
		Duration:   rec.Duration,
		Result:     rec.Result,
		Extra:      extra,
	})
}

// TestCaseResult is one row of a JobSummary, mirroring
// LavaTestData.add_result(test_case_id, result, message).
type TestCaseResult struct {
	ID      string
	Result  string
	Message string
}

// JobSummary aggregates an overall job status plus an ordered list of
// individual test-case results, the supplemental feature SPEC_FULL §12.6
// carries forward from test_data.py's LavaTestData.
type JobSummary struct {
	RunID      string
	JobStatus  string
	Results    []TestCaseResult
	Attachment []Attachment
}

// Attachment mirrors LavaTestData.add_attachment: a named blob associated
// with the job summary (e.g. a captured serial log).
type Attachment struct {
	Pathname string
	MimeType string
	Content  []byte
}

// NewJobSummary returns a JobSummary with a fresh run ID and a "pass"
// default status, flipped to "fail" by AddResult on the first failing case.
func NewJobSummary() *JobSummary {
	return &JobSummary{RunID: uuid.NewString(), JobStatus: "pass"}
}

// AddResult appends a test-case result and downgrades JobStatus to "fail" if
// result is not "pass".
func (s *JobSummary) AddResult(caseID, result, message string) {
	s.Results = append(s.Results, TestCaseResult{ID: caseID, Result: result, Message: message})
	if result != "pass" {
		s.JobStatus = "fail"
	}
}

// AddAttachment appends a named blob to the summary.
func (s *JobSummary) AddAttachment(a Attachment) {
	s.Attachment = append(s.Attachment, a)
}

// Finalize returns a copy of Results with the overall job-complete result
// (carrying JobStatus) appended, mirroring LavaTestData.get_test_run's
// implicit add_result('job_complete', status). s.Results is not modified.
func (s *JobSummary) Finalize() []TestCaseResult {
	return append(append([]TestCaseResult{}, s.Results...), TestCaseResult{
		ID:     "job_complete",
		Result: s.JobStatus,
	})
}
