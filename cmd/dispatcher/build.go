package main

import (
	"fmt"
	"os"

	"github.com/duttest/dispatcher/internal/actions/boot"
	"github.com/duttest/dispatcher/internal/actions/deploy"
	"github.com/duttest/dispatcher/internal/actions/finalize"
	"github.com/duttest/dispatcher/internal/actions/shelltest"
	"github.com/duttest/dispatcher/internal/dispatchlog"
	"github.com/duttest/dispatcher/internal/executor"
	"github.com/duttest/dispatcher/internal/job"
	"github.com/duttest/dispatcher/internal/jobfile"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/registry"
	"github.com/duttest/dispatcher/internal/resultsink"
	"github.com/duttest/dispatcher/internal/timeout"
)

// newRegistry returns a registry populated with every shipped strategy.
// A production deployment would register additional device-family-specific
// strategies here; this set is deliberately the example strategies
// SPEC_FULL §13 names.
func newRegistry() *registry.Registry {
	r := registry.New()
	deploy.Register(r)
	boot.Register(r)
	shelltest.Register(r)
	finalize.Register(r)
	return r
}

// buildRun loads the job and device documents at jobPath/devicePath, builds
// a Job and its root Pipeline by walking the job's action blocks through
// the registry, and returns a ready-to-run Executor.
func buildRun(jobPath, devicePath, logLevel string) (*executor.Executor, *job.Job, error) {
	doc, err := jobfile.Load(jobPath)
	if err != nil {
		return nil, nil, err
	}
	device, err := jobfile.LoadDevice(devicePath)
	if err != nil {
		return nil, nil, err
	}

	logger := dispatchlog.New(dispatchlog.Options{Writer: os.Stderr, Level: logLevel})
	sink := &resultsink.LoggerSink{Logger: logger}

	j, err := job.New(job.Options{
		Name:          doc.Name,
		Device:        device,
		Parameters:    map[string]any{},
		GlobalTimeout: timeout.NewProtected(doc.Name, doc.JobTimeout()),
		Logger:        logger,
		Sink:          sink,
	})
	if err != nil {
		return nil, nil, err
	}

	j.RegisterDiagnostic(boot.NewDiagnostic())

	r := newRegistry()
	root := pipeline.NewPipeline(j, "", logger, sink)
	j.SetRootPipeline(root)

	for _, block := range doc.Actions {
		if err := addBlock(root, r, j, doc, block); err != nil {
			return nil, nil, err
		}
	}
	if err := root.AddAction(finalize.New(), map[string]any{}); err != nil {
		return nil, nil, err
	}

	return executor.New(j, logger), j, nil
}

func addBlock(root *pipeline.Pipeline, r *registry.Registry, j *job.Job, doc *jobfile.Document, block jobfile.ActionBlock) error {
	if block.Section == "finalize" {
		return nil // the finalize action is always appended once, at the end
	}

	action, err := r.Select(block.Section, j.Device(), block.Body)
	if err != nil {
		return fmt.Errorf("action block %q: %w", block.Section, err)
	}
	applyTimeoutOverrides(action, doc, j.Device())

	_, hasFailureRetry := block.Body["failure_retry"]
	_, hasRepeat := block.Body["repeat"]
	if !hasFailureRetry && !hasRepeat {
		return root.AddAction(action, block.Body)
	}

	retry := pipeline.NewRetryAction(
		block.Section+"-retry",
		"retry wrapper for "+block.Section,
		"retries the wrapped action according to its failure_retry/repeat parameters",
		hasRepeat,
	)
	if err := root.AddAction(retry, block.Body); err != nil {
		return err
	}
	inner := pipeline.NewPipeline(j, retry.Level(), j.Logger(), j.Sink())
	if err := inner.AddAction(action, block.Body); err != nil {
		return err
	}
	retry.AttachPipeline(inner)
	return nil
}

// applyTimeoutOverrides resolves the §6 precedence rule (job ≻ device ≻
// action default) for action and its connection, keyed by the action's own
// internal name rather than its job-file section — lava_dispatcher's
// add_action keys overrides off action.name (e.g. "auto-login-action"), not
// the job-file section ("boot"), and this mirrors that. Job-level overrides
// are job input, so they're routed through Timeout.Modify and clamped
// (spec §3); device-descriptor overrides assign the duration directly,
// since §3 explicitly exempts durations "set by the owning action or by
// the device descriptor" from the clamp. This runs before AddAction, so
// setParameters' own inline "timeout"/"connection_timeout" handling (which
// only applies while the duration is still at its constructor default)
// correctly defers to whichever override already ran here.
func applyTimeoutOverrides(action pipeline.Action, doc *jobfile.Document, device jobfile.Device) {
	name := action.Name()
	if d, ok := doc.ActionTimeout(name); ok {
		_ = action.Timeout().Modify(d)
	} else if d, ok := jobfile.DeviceActionTimeout(device, name); ok {
		action.Timeout().Duration = d
	}

	if d, ok := doc.ConnectionTimeout(name); ok {
		_ = action.ConnectionTimeout().Modify(d)
	} else if d, ok := jobfile.DeviceConnectionTimeout(device, name); ok {
		action.ConnectionTimeout().Duration = d
	}
}
