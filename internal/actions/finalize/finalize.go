// Package finalize implements the mandatory terminal action every job's
// root pipeline ends with: close the active connection (if any) and close
// out the job's aggregate summary. It generalizes lava_dispatcher's
// FinalizeAction (actions/boot/__init__.py's sibling module, finalize.py),
// which always runs last and is itself idempotent so re-running it during
// a diagnostic retry never double-reports.
package finalize

import (
	"context"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/registry"
	"github.com/duttest/dispatcher/internal/resultsink"
)

// summaryProvider is satisfied by *job.Job without this package importing
// internal/job (which would cycle back through internal/registry ->
// internal/pipeline). It is an optional capability, probed with a type
// assertion, exactly the way database/sql probes driver.Queryer.
type summaryProvider interface {
	Summary() *resultsink.JobSummary
}

// Action is the finalize strategy's Action.
type Action struct {
	*pipeline.Base
	closed bool
}

// New returns a finalize Action.
func New() *Action {
	return &Action{Base: pipeline.NewBase(
		"finalize",
		"finalize the job",
		"closes the active connection and closes out the job summary",
		"finalize",
	)}
}

// Run is idempotent: calling it a second time (e.g. because a diagnostic
// action retried the pipeline) is a no-op beyond the first call.
func (a *Action) Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	if a.closed {
		return conn, nil
	}
	a.closed = true

	if conn != nil {
		if err := conn.Close(); err != nil {
			return nil, err
		}
	}
	if job := a.Job(); job != nil {
		if sp, ok := job.(summaryProvider); ok {
			sp.Summary().AddResult("job_complete", "pass", "")
		}
	}
	return nil, nil
}

// strategy registers Action under the "finalize" section. It always
// accepts, since every job gets exactly one finalize action regardless of
// device or parameters.
type strategy struct{}

func (strategy) Section() string                            { return "finalize" }
func (strategy) Priority() int                              { return 0 }
func (strategy) Accepts(device, params map[string]any) bool { return true }
func (strategy) New() pipeline.Action                       { return New() }

// Register installs the finalize strategy into r.
func Register(r *registry.Registry) {
	r.Register(strategy{})
}
