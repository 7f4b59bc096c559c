package pipeline

import (
	"context"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/dispatcherrors"
)

// RetryAction wraps an internal pipeline and re-runs it according to one of
// two policies (spec §4.4), generalized from lava_dispatcher's
// RetryAction/RepeatAction (action.py):
//
//   - failure_retry: run until the internal pipeline succeeds or
//     MaxRetries() attempts are exhausted. A JobError or
//     InfrastructureError is swallowed and retried; anything else
//     (InternalError, JobTimeout, a protected-timeout violation, or
//     context cancellation) is fatal immediately.
//   - repeat: always run exactly MaxRetries() times, swallowing recoverable
//     failures along the way (each iteration's own result records already
//     capture pass/fail), and only aborting early on a non-recoverable
//     error.
type RetryAction struct {
	*Base
	repeat bool
}

// NewRetryAction returns a RetryAction. repeat selects "repeat" semantics;
// false selects "failure_retry" semantics.
func NewRetryAction(name, summary, description string, repeat bool) *RetryAction {
	return &RetryAction{Base: NewBase(name, summary, description, "retry"), repeat: repeat}
}

// AttachPipeline installs the internal pipeline this retry action wraps.
// Callers (typically a strategy's Populate) build the pipeline with
// NewPipeline(job, retryAction.Level(), ...) and its own AddAction calls
// before attaching it here.
func (r *RetryAction) AttachPipeline(p *Pipeline) {
	r.setInternalPipeline(p)
}

// Run implements the retry/repeat loop described above.
func (r *RetryAction) Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	if err := r.CallProtocols(); err != nil {
		return conn, err
	}
	internal := r.InternalPipeline()
	if internal == nil {
		return conn, dispatcherrors.NewInternalError(nil, "retry action %s has no internal pipeline attached", r.Name())
	}

	attempts := r.MaxRetries()
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			resetPipelineErrors(internal)
		}
		result, err := internal.RunActions(ctx, conn, args)
		if result != nil {
			conn = result
		}
		if err == nil {
			if !r.repeat {
				return conn, nil
			}
			lastErr = nil
			continue
		}
		if !dispatcherrors.Recoverable(err) {
			return conn, err
		}
		lastErr = err
		if logger := loggerOf(r.Job()); logger != nil {
			logger.Debug(r.Name() + ": attempt failed, retrying")
		}
	}

	if r.repeat {
		return conn, nil
	}
	return conn, dispatcherrors.WrapJobError(lastErr, "%s did not succeed after %d attempts", r.Name(), attempts)
}

func loggerOf(job JobHandle) interface{ Debug(string) } {
	if job == nil {
		return nil
	}
	if l := job.Logger(); l != nil {
		return l
	}
	return nil
}

// resetPipelineErrors clears every descendant action's own validation error
// list and result data (spec §4.4's "reset subtree errors ... reset subtree
// boot-result") before a fresh retry attempt, recursing into nested internal
// pipelines depth-first. Without the result reset, a field a prior failed
// attempt recorded (e.g. boot's matched_prompt) would survive into the
// successful attempt's result record alongside it.
func resetPipelineErrors(p *Pipeline) {
	for _, a := range p.actions {
		a.resetErrors()
		a.resetResults()
		if sub := a.InternalPipeline(); sub != nil {
			resetPipelineErrors(sub)
		}
	}
}
