package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/dispatcherrors"
	"github.com/duttest/dispatcher/internal/dispatchlog"
	"github.com/duttest/dispatcher/internal/resultsink"
	"github.com/duttest/dispatcher/internal/timeout"
)

// Pipeline is an ordered, leveled list of Actions: spec §4.3. A Pipeline
// with no owning action is the job's root pipeline (parentLevel == ""); a
// Pipeline built by an action's Populate to hold sub-actions is an internal
// pipeline, whose levels are dotted continuations of the owner's level
// (e.g. owner level "2" → children "2.1", "2.2", ...), mirroring
// lava_dispatcher's Pipeline._set_action_level (pipeline.py/action.py).
type Pipeline struct {
	actions     []Action
	parentLevel string
	job         JobHandle
	logger      *dispatchlog.Logger
	sink        resultsink.Sink
}

// NewPipeline returns an empty Pipeline. parentLevel is "" for a job's root
// pipeline, or the owning action's Level() for an internal pipeline.
func NewPipeline(job JobHandle, parentLevel string, logger *dispatchlog.Logger, sink resultsink.Sink) *Pipeline {
	return &Pipeline{job: job, parentLevel: parentLevel, logger: logger, sink: sink}
}

// Actions returns the pipeline's direct children in execution order.
func (p *Pipeline) Actions() []Action { return p.actions }

// Len returns the number of direct children.
func (p *Pipeline) Len() int { return len(p.actions) }

func (p *Pipeline) nextLevel() string {
	idx := strconv.Itoa(len(p.actions) + 1)
	if p.parentLevel == "" {
		return idx
	}
	return p.parentLevel + "." + idx
}

// AddAction appends action to the pipeline: assigns its dotted level,
// attaches the owning job, merges params into the action's own parameters
// (spec §9's precedence fix: device/job-level overrides win over the
// action constructor's own defaults, applied without mutating a shared
// map), calls Populate so the action can build its own internal pipeline
// before validation runs, and registers the action for the job's own
// best-effort cleanup pass (every action, at every nesting depth, shares one
// job and so one cleanup list — this is what makes Job.RunCleanupActions
// recurse the whole tree rather than the single failed action). This is
// lava_dispatcher's Pipeline.add_action (action.py), generalized.
func (p *Pipeline) AddAction(action Action, params map[string]any) error {
	if action == nil {
		return dispatcherrors.NewInternalError(nil, "add_action called with a nil action")
	}
	action.setLevel(p.nextLevel())
	action.SetJob(p.job)
	action.setParameters(params)
	if err := action.Populate(params); err != nil {
		return dispatcherrors.WrapJobError(err, "failed to populate action %q", action.Name())
	}
	p.actions = append(p.actions, action)
	if p.job != nil {
		p.job.RegisterCleanup(action)
	}
	return nil
}

// ValidateActions runs Validate on every direct child. Base.Validate
// already recurses into any internal pipeline, so one pass over the direct
// children validates the whole subtree.
func (p *Pipeline) ValidateActions() {
	for _, a := range p.actions {
		a.Validate()
	}
}

// Errors aggregates every descendant's validation errors.
func (p *Pipeline) Errors() []string {
	var all []string
	for _, a := range p.actions {
		all = append(all, a.Errors()...)
	}
	return all
}

// Valid reports whether Errors() is empty.
func (p *Pipeline) Valid() bool { return len(p.Errors()) == 0 }

// RunActions executes every direct child in order, short-circuiting on the
// first action whose Run returns a fatal error. This is the heart of spec
// §4.3's scheduling loop (lava_dispatcher's Pipeline.run_actions):
//
//  1. bail out early if the job-global deadline has already elapsed;
//  2. run the action under its own scoped timeout;
//  3. emit a result record and, on fatal failure, call the action's own
//     Cleanup and drain the job's trigger queue once looking for a
//     matching diagnostic to run.
//
// A *dispatcherrors.TestError is not fatal: spec §7 treats it as a soft,
// per-test-case failure, so the loop records it and continues rather than
// aborting the job.
func (p *Pipeline) RunActions(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	isRoot := p.parentLevel == ""
	for _, action := range p.actions {
		if ctx.Err() != nil {
			err := p.globalTimeoutErr()
			if isRoot {
				conn = p.runFinalize(ctx, conn, args)
			}
			return conn, err
		}

		if p.logger != nil {
			p.logger.Start(isRoot, action.Level(), action.Name(), int(action.Timeout().Duration.Seconds()))
		}

		if err := action.Prepare(); err != nil {
			p.emitResult(action, "fail", 0)
			return conn, dispatcherrors.WrapJobError(err, "prepare failed for %s", action.Name())
		}

		start := time.Now()
		var result connection.Connection
		runErr := timeout.Scoped(ctx, action.Timeout(), func(actx context.Context) error {
			newConn, err := action.Run(actx, conn, args)
			if newConn != nil {
				result = newConn
			}
			return err
		})
		if result != nil {
			conn = result
		}
		elapsed := time.Since(start)
		action.setElapsedTime(elapsed)
		if p.logger != nil {
			p.logger.Duration(isRoot, action.Name(), elapsed)
		}

		if runErr == nil {
			if err := action.PostProcess(); err != nil {
				p.emitResult(action, "fail", elapsed)
				return conn, dispatcherrors.WrapJobError(err, "post_process failed for %s", action.Name())
			}
			p.emitResult(action, "pass", elapsed)
			continue
		}

		var testErr *dispatcherrors.TestError
		if errors.As(runErr, &testErr) {
			p.emitResult(action, "fail", elapsed)
			continue
		}

		p.emitResult(action, "fail", elapsed)
		if cerr := action.Cleanup(); cerr != nil && p.logger != nil {
			p.logger.Error(cerr, "cleanup failed for "+action.Name())
		}
		p.runDiagnostics(ctx, conn, args)
		if isRoot {
			conn = p.runFinalize(ctx, conn, args)
		}
		return conn, runErr
	}
	return conn, nil
}

func (p *Pipeline) globalTimeoutErr() error {
	if p.job == nil {
		return context.DeadlineExceeded
	}
	return &dispatcherrors.JobTimeout{JobName: p.job.Name(), Duration: p.job.GlobalTimeout().Duration}
}

// runFinalize locates the root pipeline's finalize action — always its last
// action, appended once by the job builder — and runs it. This is spec
// §8's invariant that the root-level finalize action has run exactly once
// after any failure that reaches the root, generalizing lava_dispatcher's
// run_actions, which looks up job.pipeline.actions[-1] and runs it if named
// "finalize" on both a job timeout and an unrecovered JobError/
// InfrastructureError. Only the true root calls this (parentLevel == ""):
// a nested/internal pipeline's error propagates up to the owning action's
// Run return value instead, so the root's own RunActions loop is the one
// that eventually observes it and tears down, exactly once.
func (p *Pipeline) runFinalize(ctx context.Context, conn connection.Connection, args map[string]any) connection.Connection {
	for _, a := range p.actions {
		if a.Name() != "finalize" {
			continue
		}
		result, err := a.Run(ctx, conn, args)
		if result != nil {
			conn = result
		}
		if err != nil && p.logger != nil {
			p.logger.Error(err, "finalize failed")
		}
		return conn
	}
	return conn
}

// runDiagnostics drains the job's trigger queue once (not once per
// complaint) and runs any diagnostic whose Trigger() matches a drained
// complaint, best-effort (SPEC_FULL §12.5).
func (p *Pipeline) runDiagnostics(ctx context.Context, conn connection.Connection, args map[string]any) {
	if p.job == nil {
		return
	}
	complaints := p.job.Triggers().Drain()
	for _, complaint := range complaints {
		diag, ok := p.job.Diagnose(complaint)
		if !ok {
			continue
		}
		if _, err := diag.Run(ctx, conn, args); err != nil && p.logger != nil {
			p.logger.Error(err, "diagnostic "+complaint+" failed")
		}
	}
}

func (p *Pipeline) emitResult(action Action, result string, elapsed time.Duration) {
	if p.sink == nil {
		return
	}
	extra := map[string]any{}
	for _, kv := range action.Results().Ordered() {
		extra[kv.Key] = kv.Value
	}
	p.sink.Emit(resultsink.Record{
		Definition:        "lava-dispatcher",
		Case:              action.Name(),
		Level:             action.Level(),
		Duration:          elapsed,
		Result:            result,
		Extra:             extra,
		Timeout:           action.Timeout().Duration,
		ConnectionTimeout: action.ConnectionTimeout().Duration,
	})
}

// Describe returns the pipeline's structure as a serializable tree, using
// each action's explicit Snapshot rather than reflecting over its fields
// (spec §9). When verbose is false each entry carries only the action's
// name, section and level; when verbose is true it carries the action's
// full Snapshot. Nested internal pipelines are included under "pipeline"
// either way, matching lava_dispatcher's Pipeline.describe(verbose).
func (p *Pipeline) Describe(verbose bool) []map[string]any {
	out := make([]map[string]any, 0, len(p.actions))
	for _, action := range p.actions {
		snap := action.Snapshot()
		if !verbose {
			snap = map[string]any{
				"name":    snap["name"],
				"section": snap["section"],
				"level":   snap["level"],
			}
		}
		if internal := action.InternalPipeline(); internal != nil {
			snap["pipeline"] = internal.Describe(verbose)
		}
		out = append(out, snap)
	}
	return out
}
