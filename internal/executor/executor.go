// Package executor implements the top-level run loop of spec §4.5: given a
// Job whose root Pipeline has already been built (cmd/dispatcher's buildRun
// does that), wire the job-global Timeout as an ambient context deadline,
// run ValidateActions and then RunActions, and guarantee that
// registered cleanup actions run on every exit path — success, a fatal
// pipeline error, or an external INT/TERM signal. It generalizes
// lava_dispatcher's Job.run (job.py), whose try/except/finally around
// pipeline.run_actions is the direct model for the defer-based cleanup
// here. There is no separate whole-tree prepare or post-process pass:
// RunActions calls each action's Prepare just before its Run and its
// PostProcess just after a successful Run.
package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/dispatcherrors"
	"github.com/duttest/dispatcher/internal/dispatchlog"
	"github.com/duttest/dispatcher/internal/job"
)

// Executor runs a single Job to completion.
type Executor struct {
	Job    *job.Job
	Logger *dispatchlog.Logger
}

// New returns an Executor for j.
func New(j *job.Job, logger *dispatchlog.Logger) *Executor {
	return &Executor{Job: j, Logger: logger}
}

// Outcome summarizes how a run ended.
type Outcome struct {
	Validated   bool
	Ran         bool
	Err         error
	CleanupErrs []error
}

// Run executes the job's root pipeline under parentCtx, composing the
// job's global timeout on top of it, and installing a signal handler so an
// operator's Ctrl-C (SIGINT) or an orchestrator's SIGTERM cancels the run
// cooperatively — the pipeline observes context cancellation at the top of
// every RunActions iteration rather than being killed out from under
// itself. Cleanup actions registered during the run are always executed
// before Run returns, regardless of how the run ended.
func (e *Executor) Run(parentCtx context.Context) Outcome {
	root := e.Job.RootPipeline()
	if root == nil {
		return Outcome{Err: dispatcherrors.NewInternalError(nil, "executor run with no root pipeline built")}
	}

	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, e.Job.GlobalTimeout().Duration)
	defer cancel()

	outcome := Outcome{}
	defer func() {
		outcome.CleanupErrs = e.Job.RunCleanupActions()
		for _, cerr := range outcome.CleanupErrs {
			if e.Logger != nil {
				e.Logger.Error(cerr, "cleanup action failed")
			}
		}
	}()

	root.ValidateActions()
	outcome.Validated = root.Valid()
	if !outcome.Validated {
		outcome.Err = dispatcherrors.NewJobError("job failed to validate: %v", root.Errors())
		return outcome
	}

	var conn connection.Connection
	outcome.Ran = true
	_, err := root.RunActions(ctx, conn, map[string]any{})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			outcome.Err = &dispatcherrors.JobTimeout{JobName: e.Job.Name(), Duration: e.Job.GlobalTimeout().Duration}
		} else {
			outcome.Err = err
		}
		return outcome
	}
	return outcome
}

// Validate runs only the validate phase, for a "dry run" / `validate`
// subcommand that never executes any action.
func (e *Executor) Validate() []string {
	root := e.Job.RootPipeline()
	if root == nil {
		return []string{"no root pipeline built"}
	}
	root.ValidateActions()
	return root.Errors()
}

// Describe returns the root pipeline's structure, for a `describe`
// subcommand.
func (e *Executor) Describe(verbose bool) []map[string]any {
	root := e.Job.RootPipeline()
	if root == nil {
		return nil
	}
	return root.Describe(verbose)
}
