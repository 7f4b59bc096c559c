// Package job implements Job: the object that owns a dispatch run's root
// Pipeline, device descriptor, shared Context, trigger queue, protocol
// list and diagnostics registry. It is the lava_dispatcher Job class
// (job.py) generalized; it exists mainly to satisfy pipeline.JobHandle
// without pipeline importing this package (that would cycle, since Job
// holds a *pipeline.Pipeline).
package job

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/duttest/dispatcher/internal/dispatchlog"
	"github.com/duttest/dispatcher/internal/jobctx"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/protocol"
	"github.com/duttest/dispatcher/internal/resultsink"
	"github.com/duttest/dispatcher/internal/timeout"
)

// Diagnostic is an Action that can also answer which complaint token it
// responds to when registered into a Job's diagnostics table — spec §4.2's
// "register as a diagnostic", generalized from lava_dispatcher's
// Action.trigger class attribute.
type Diagnostic interface {
	pipeline.Action
	Trigger() string
}

// Job owns one dispatch run end to end.
type Job struct {
	name       string
	device     map[string]any
	parameters map[string]any

	ctx           *jobctx.Context
	triggers      *jobctx.TriggerQueue
	globalTimeout *timeout.Timeout
	protocols     []protocol.Protocol

	logger *dispatchlog.Logger
	sink   resultsink.Sink

	root *pipeline.Pipeline

	mu             sync.Mutex
	diagnostics    map[string]pipeline.Action
	cleanupActions []pipeline.Action

	scratchRoot string
	summary     *resultsink.JobSummary
}

// Options configures a new Job.
type Options struct {
	Name          string
	Device        map[string]any
	Parameters    map[string]any
	GlobalTimeout *timeout.Timeout
	Protocols     []protocol.Protocol
	Logger        *dispatchlog.Logger
	Sink          resultsink.Sink
}

// New constructs a Job. It creates a scratch root directory immediately
// (lava_dispatcher creates the job's tmp_dir eagerly in Job.__init__ too),
// so MkDtemp never has to lazily initialize shared state.
func New(opts Options) (*Job, error) {
	scratchRoot, err := os.MkdirTemp("", "dispatcher-job-*")
	if err != nil {
		return nil, fmt.Errorf("create job scratch directory: %w", err)
	}
	gt := opts.GlobalTimeout
	if gt == nil {
		gt = timeout.New(opts.Name)
	}
	j := &Job{
		name:          opts.Name,
		device:        opts.Device,
		parameters:    opts.Parameters,
		ctx:           jobctx.New(),
		triggers:      &jobctx.TriggerQueue{},
		globalTimeout: gt,
		protocols:     opts.Protocols,
		logger:        opts.Logger,
		sink:          opts.Sink,
		diagnostics:   make(map[string]pipeline.Action),
		scratchRoot:   scratchRoot,
		summary:       resultsink.NewJobSummary(),
	}
	return j, nil
}

// Summary returns the job's aggregate LavaTestData-style summary
// (SPEC_FULL §12.6). The finalize action appends the closing job_complete
// record to it through this accessor.
func (j *Job) Summary() *resultsink.JobSummary { return j.summary }

func (j *Job) Name() string                     { return j.name }
func (j *Job) Context() *jobctx.Context         { return j.ctx }
func (j *Job) Triggers() *jobctx.TriggerQueue   { return j.triggers }
func (j *Job) Protocols() []protocol.Protocol   { return j.protocols }
func (j *Job) GlobalTimeout() *timeout.Timeout  { return j.globalTimeout }
func (j *Job) Parameters() map[string]any       { return j.parameters }
func (j *Job) Device() map[string]any           { return j.device }
func (j *Job) Logger() *dispatchlog.Logger      { return j.logger }
func (j *Job) Sink() resultsink.Sink            { return j.sink }
func (j *Job) RootPipeline() *pipeline.Pipeline { return j.root }

// SetRootPipeline attaches the job's root pipeline, built once by the
// caller (cmd/dispatcher's buildRun) after parsing the job definition.
func (j *Job) SetRootPipeline(p *pipeline.Pipeline) { j.root = p }

// RegisterDiagnostic adds d to the diagnostics table, keyed by its own
// Trigger() token.
func (j *Job) RegisterDiagnostic(d Diagnostic) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.diagnostics[d.Trigger()] = d
}

// Diagnose looks up the diagnostic registered for complaint.
func (j *Job) Diagnose(complaint string) (pipeline.Action, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.diagnostics[complaint]
	return a, ok
}

// RegisterCleanup queues action for a best-effort Cleanup call once the
// job finishes, regardless of outcome — see RunCleanupActions.
func (j *Job) RegisterCleanup(action pipeline.Action) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleanupActions = append(j.cleanupActions, action)
}

// RunCleanupActions calls Cleanup on every action registered via
// RegisterCleanup, innermost/most-recently-registered first, continuing
// past individual failures and returning every error encountered. This is
// lava_dispatcher's JobPipeline.cleanup() walking self.cleanup_actions in
// reverse inside a finally block.
func (j *Job) RunCleanupActions() []error {
	j.mu.Lock()
	actions := append([]pipeline.Action{}, j.cleanupActions...)
	j.mu.Unlock()

	var errs []error
	for i := len(actions) - 1; i >= 0; i-- {
		if err := actions[i].Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// MkDtemp returns a fresh subdirectory of the job's scratch root, scoped to
// actionName (SPEC_FULL §12.7, lava_dispatcher's Action.mkdtemp).
func (j *Job) MkDtemp(actionName string) (string, error) {
	dir, err := os.MkdirTemp(j.scratchRoot, actionName+"-")
	if err != nil {
		return "", fmt.Errorf("mkdtemp for action %s: %w", actionName, err)
	}
	return dir, nil
}

// ScratchRoot returns the job's own top-level scratch directory.
func (j *Job) ScratchRoot() string { return j.scratchRoot }

// Close removes the job's entire scratch tree, including every action's
// mkdtemp output.
func (j *Job) Close() error {
	return os.RemoveAll(filepath.Clean(j.scratchRoot))
}
