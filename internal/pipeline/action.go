// Package pipeline implements the core of this repository: the Action
// contract, the Pipeline container, and the RetryAction wrapper described in
// spec §4.2–§4.4. It is a direct generalization of lava_dispatcher's
// action.py: the Python Action/Pipeline classes become a Go interface plus
// an embeddable Base, since Go has no class inheritance.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/dispatcherrors"
	"github.com/duttest/dispatcher/internal/dispatchlog"
	"github.com/duttest/dispatcher/internal/jobctx"
	"github.com/duttest/dispatcher/internal/protocol"
	"github.com/duttest/dispatcher/internal/resultsink"
	"github.com/duttest/dispatcher/internal/timeout"
)

// JobHandle is the narrow view of a Job an Action needs. It exists so this
// package never imports internal/job — the Job owns the root Pipeline, so
// the dependency has to run the other way (job imports pipeline), and this
// interface is how an Action still reaches job-wide state (the shared
// Context, the protocol list, the diagnostics registry, the global
// timeout) without a cycle.
type JobHandle interface {
	Name() string
	Context() *jobctx.Context
	Triggers() *jobctx.TriggerQueue
	Protocols() []protocol.Protocol
	Diagnose(complaint string) (Action, bool)
	GlobalTimeout() *timeout.Timeout
	Parameters() map[string]any
	Device() map[string]any
	MkDtemp(actionName string) (string, error)
	RootPipeline() *Pipeline
	Logger() *dispatchlog.Logger
	Sink() resultsink.Sink
	// RegisterCleanup queues action to have Cleanup called once, at job
	// finalize time, regardless of how the rest of the job turns out —
	// generalized from lava_dispatcher's Pipeline.cleanup_actions list.
	RegisterCleanup(Action)
}

// Internal marks a helper object that must never appear in a serialized
// pipeline description (spec §4.3 describe, spec §9's "reflective attribute
// dumping" design note: exclude by marker interface, not type inspection).
type Internal interface {
	internalHelper()
}

// InternalHelper is embedded by helper types that should satisfy Internal.
type InternalHelper struct{}

func (InternalHelper) internalHelper() {}

// Action is the unit of work in the pipeline: spec §4.2's contract exposed
// to the engine. Concrete strategies embed *Base (which supplies every
// method below with the default, spec-compliant behavior) and override only
// what they need to specialize — usually Validate, Populate and Run.
type Action interface {
	Name() string
	Summary() string
	Description() string
	Section() string
	SetSection(string)
	Level() string
	Parameters() map[string]any
	Timeout() *timeout.Timeout
	ConnectionTimeout() *timeout.Timeout
	MaxRetries() int
	Errors() []string
	Valid() bool
	Results() *ResultMap
	ElapsedTime() time.Duration
	InternalPipeline() *Pipeline
	Job() JobHandle
	SetJob(JobHandle)

	// Validate performs a pure, non-blocking check and appends to errors.
	Validate()
	// Populate is called exactly once, right after the action is attached
	// to its parent Pipeline, to let the action build an internal Pipeline.
	Populate(params map[string]any) error
	Prepare() error
	PostProcess() error
	// Run performs the action's work. It may return a new connection, the
	// same one unchanged, or nil to mean "unchanged".
	Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error)
	// Cleanup is invoked only when Run returned an error.
	Cleanup() error

	// Snapshot returns the explicit set of publicly describable fields
	// (spec §9: no reflective attribute dumping).
	Snapshot() map[string]any

	// internal setters used only by Pipeline.AddAction and RetryAction.
	setLevel(level string)
	setParameters(params map[string]any)
	setElapsedTime(d time.Duration)
	setInternalPipeline(p *Pipeline)
	addError(msg string)
	resetErrors()
	resetResults()
}

// ResultMap is the ordered result-record mapping spec §3 requires
// ("results (ordered mapping of result record fields)"). Go maps have no
// order, so this keeps an explicit key slice alongside the values, the way
// lava_dispatcher leans on collections.OrderedDict.
type ResultMap struct {
	keys   []string
	values map[string]any
}

// NewResultMap returns an empty ordered result map.
func NewResultMap() *ResultMap {
	return &ResultMap{values: make(map[string]any)}
}

// Set inserts or updates key, preserving first-insertion order.
func (r *ResultMap) Set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Merge applies Set for every entry of data, preserving data's own order
// when data is itself built from an ordered source.
func (r *ResultMap) Merge(data map[string]any) {
	for k, v := range data {
		r.Set(k, v)
	}
}

// Get returns the value at key.
func (r *ResultMap) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Empty reports whether the map has no entries.
func (r *ResultMap) Empty() bool { return len(r.keys) == 0 }

// Reset discards every entry, returning the map to its freshly-constructed
// state.
func (r *ResultMap) Reset() {
	r.keys = nil
	r.values = make(map[string]any)
}

// Ordered returns the entries in insertion order.
func (r *ResultMap) Ordered() []KV {
	out := make([]KV, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, KV{Key: k, Value: r.values[k]})
	}
	return out
}

// AsMap returns a plain map snapshot (order not preserved by the return
// type itself, but Ordered() is available when order matters to a caller).
func (r *ResultMap) AsMap() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// KV is one ordered key/value pair.
type KV struct {
	Key   string
	Value any
}

// Base implements Action with the defaults spec §4.2 describes. Concrete
// strategies embed Base and override Validate/Populate/Run/Cleanup as
// needed; anything left un-overridden behaves exactly as lava_dispatcher's
// base Action class does.
type Base struct {
	name        string
	summary     string
	description string
	section     string
	level       string
	parameters  map[string]any

	timeoutV           *timeout.Timeout
	connectionTimeoutV *timeout.Timeout
	maxRetries         int

	errs    []string
	results *ResultMap
	elapsed time.Duration

	internalPipeline *Pipeline
	job              JobHandle

	// CharacterDelay paces Sendline calls on the connection; sourced from
	// the device descriptor's character_delays[section] (SPEC_FULL §12.3).
	CharacterDelay time.Duration
}

// NewBase constructs a Base for an action kind named name (must be
// non-empty and contain no whitespace; Validate enforces this, NewBase does
// not, so unit tests can exercise the validation failure path).
func NewBase(name, summary, description, section string) *Base {
	return &Base{
		name:               name,
		summary:            summary,
		description:        description,
		section:            section,
		parameters:         map[string]any{},
		timeoutV:           timeout.New(name),
		connectionTimeoutV: timeout.New(name),
		maxRetries:         1,
		results:            NewResultMap(),
	}
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Summary() string     { return b.summary }
func (b *Base) Description() string { return b.description }
func (b *Base) Section() string     { return b.section }
func (b *Base) SetSection(s string) { b.section = s }
func (b *Base) Level() string       { return b.level }
func (b *Base) Parameters() map[string]any {
	return b.parameters
}
func (b *Base) Timeout() *timeout.Timeout           { return b.timeoutV }
func (b *Base) ConnectionTimeout() *timeout.Timeout { return b.connectionTimeoutV }
func (b *Base) MaxRetries() int                     { return b.maxRetries }
func (b *Base) Results() *ResultMap                 { return b.results }
func (b *Base) ElapsedTime() time.Duration          { return b.elapsed }
func (b *Base) InternalPipeline() *Pipeline         { return b.internalPipeline }
func (b *Base) Job() JobHandle                      { return b.job }
func (b *Base) SetJob(j JobHandle)                  { b.job = j }

// Errors returns this action's own errors plus, recursively, every
// descendant's errors — spec §4.2's Action.errors property.
func (b *Base) Errors() []string {
	if b.internalPipeline != nil {
		return append(append([]string{}, b.errs...), b.internalPipeline.Errors()...)
	}
	return append([]string{}, b.errs...)
}

// Valid reports whether Errors() is empty.
func (b *Base) Valid() bool { return len(b.Errors()) == 0 }

func (b *Base) addError(msg string) {
	if msg != "" {
		b.errs = append(b.errs, msg)
	}
}

// Fail records a validation error against this action. It is the exported
// entry point concrete strategies (which live outside this package) use
// from their own Validate override, since addError itself is unexported.
func (b *Base) Fail(format string, args ...any) {
	b.addError(fmt.Sprintf(format, args...))
}

// resetErrors clears this action's own error list (not its descendants' —
// a RetryAction resets its whole internal pipeline's errors by calling
// resetErrors on every descendant, see retry.go).
func (b *Base) resetErrors() { b.errs = nil }

// resetResults clears this action's own result data (lava_dispatcher's
// action.data dict, e.g. its 'boot-result' entry) before a fresh retry
// attempt, so a prior attempt's findings never leak into the next one's
// result record.
func (b *Base) resetResults() { b.results.Reset() }

func (b *Base) setLevel(level string)           { b.level = level }
func (b *Base) setElapsedTime(d time.Duration)  { b.elapsed = d }
func (b *Base) setInternalPipeline(p *Pipeline) { b.internalPipeline = p }

// setParameters applies the §3 invariant that parameters, once set, are not
// mutated further — it assigns a fresh map rather than mutating a shared
// one, which is the fix SPEC_FULL §9/Open Questions calls for (the source
// mutates the caller's parameter dict in place via
// parameters['timeout'] = overrides[name]).
func (b *Base) setParameters(params map[string]any) {
	merged := make(map[string]any, len(b.parameters)+len(params))
	for k, v := range b.parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	b.parameters = merged

	// The action block's own inline "timeout"/"connection_timeout" keys are
	// job input (the job author wrote them directly into this action's
	// parameters), so §3's clamp applies: route them through Modify rather
	// than assigning Duration directly. A prior named override (job-level
	// or device-level, applied by the caller before AddAction) has already
	// moved the duration off its constructor default, so the guard below
	// preserves that override's higher precedence.
	if v, ok := merged["timeout"]; ok {
		if spec, ok := v.(map[string]any); ok {
			if b.timeoutV.Duration == timeout.DefaultDuration {
				if d, err := timeout.ParseMap(spec); err == nil {
					_ = b.timeoutV.Modify(d)
				}
			}
		}
	}
	if v, ok := merged["connection_timeout"]; ok {
		if spec, ok := v.(map[string]any); ok {
			if b.connectionTimeoutV.Duration == timeout.DefaultDuration {
				if d, err := timeout.ParseMap(spec); err == nil {
					_ = b.connectionTimeoutV.Modify(d)
				}
			}
		}
	}

	_, hasFailureRetry := merged["failure_retry"]
	_, hasRepeat := merged["repeat"]
	if hasFailureRetry && hasRepeat {
		b.addError("unable to use repeat and failure_retry, use a repeat block")
	} else if hasFailureRetry {
		if n, ok := toInt(merged["failure_retry"]); ok {
			b.maxRetries = n
		}
	} else if hasRepeat {
		if n, ok := toInt(merged["repeat"]); ok {
			b.maxRetries = n
		}
	}

	if b.job != nil {
		if device := b.job.Device(); device != nil {
			if delays, ok := device["character_delays"].(map[string]any); ok {
				if raw, ok := delays[b.section]; ok {
					if secs, ok := toFloat(raw); ok {
						b.CharacterDelay = time.Duration(secs * float64(time.Second))
					}
				}
			}
		}
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Validate implements the default checks spec §4.2 requires: name set with
// no whitespace, summary and description present, section present, and
// (recursively) every descendant of an internal pipeline is valid. It also
// ensures this action's own namespace exists in common data
// (SPEC_FULL §12.2, lava_dispatcher's job.context.setdefault(self.name, {})).
func (b *Base) Validate() {
	if b.name == "" {
		b.addError(fmt.Sprintf("%T action has no name set", b))
	} else if strings.ContainsAny(b.name, " \t\n") {
		b.addError(fmt.Sprintf("whitespace must not be used in action names, only descriptions or summaries: %s", b.name))
	}
	if b.summary == "" {
		b.addError(fmt.Sprintf("action %s lacks a summary", b.name))
	}
	if b.description == "" {
		b.addError(fmt.Sprintf("action %s lacks a description", b.name))
	}
	if b.section == "" {
		b.addError(fmt.Sprintf("%s action has no section set", b.name))
	}
	if b.job != nil {
		b.job.Context().EnsureNamespace(b.name)
	}
	if b.internalPipeline != nil {
		b.internalPipeline.ValidateActions()
	}
}

// Populate is a no-op by default; strategies that need an internal pipeline
// override it.
func (b *Base) Populate(params map[string]any) error { return nil }

// Prepare and PostProcess are no-ops by default.
func (b *Base) Prepare() error     { return nil }
func (b *Base) PostProcess() error { return nil }

// Run implements the default behavior of spec §4.2: invoke call_protocols,
// then either delegate to the internal pipeline or propagate the incoming
// connection after attaching connection_timeout.
func (b *Base) Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	if err := b.CallProtocols(); err != nil {
		return nil, err
	}
	if b.internalPipeline != nil {
		return b.internalPipeline.RunActions(ctx, conn, args)
	}
	if conn != nil {
		conn.SetTimeout(b.connectionTimeoutV.Duration)
	}
	return conn, nil
}

// Cleanup is a no-op by default.
func (b *Base) Cleanup() error { return nil }

// Snapshot is the explicit serialization table spec §9 asks for in place of
// reflective attribute dumping. Concrete actions that add their own fields
// should build their own map and merge this one in under the same keys.
func (b *Base) Snapshot() map[string]any {
	snap := map[string]any{
		"name":    b.name,
		"summary": b.summary,
		"section": b.section,
		"level":   b.level,
		"timeout": map[string]any{
			"name":     b.timeoutV.Name,
			"duration": b.timeoutV.Duration.Seconds(),
		},
		"connection_timeout": map[string]any{
			"name":     b.connectionTimeoutV.Name,
			"duration": b.connectionTimeoutV.Duration.Seconds(),
		},
		"max_retries":  b.maxRetries,
		"errors":       b.Errors(),
		"elapsed_time": b.elapsed.Seconds(),
	}
	if b.description != "" {
		snap["description"] = b.description
	}
	if !b.results.Empty() {
		snap["results"] = b.results.AsMap()
	}
	return snap
}

// CallProtocols implements spec §4.2's call_protocols: for each protocol
// named in parameters["protocols"] and supported by the job, invoke it and
// store a successful collate() result under common/<protocol-name>/<key>.
// Calls to distinct protocols run concurrently via errgroup — spec §5
// explicitly allows unspecified ordering across protocol calls within one
// action — but an error in one call does not cancel the others,
// since each protocol's own failure is independent domain data, not a
// reason to abort sibling calls.
func (b *Base) CallProtocols() error {
	raw, ok := b.parameters["protocols"]
	if !ok || b.job == nil {
		return nil
	}
	wanted, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	var g errgroup.Group
	for _, proto := range b.job.Protocols() {
		proto := proto
		calls, ok := wanted[proto.Name()]
		if !ok {
			continue
		}
		callList, ok := calls.([]any)
		if !ok {
			continue
		}
		g.Go(func() error {
			return b.callOneProtocol(proto, callList)
		})
	}
	return g.Wait()
}

// callOneProtocol runs every call this action has directed at one protocol,
// in order. It is invoked concurrently with sibling protocols' calls by
// CallProtocols, via errgroup.Group — spec §5 leaves ordering across
// distinct protocol calls within one action unspecified, so there is
// nothing to serialize here beyond each protocol's own call list.
func (b *Base) callOneProtocol(proto protocol.Protocol, callList []any) error {
	var firstErr error
	for _, c := range callList {
		callMap, ok := c.(map[string]any)
		if !ok {
			continue
		}
		action, _ := callMap["action"].(string)
		if action != b.name {
			continue
		}
		desc := normalizeCallDescriptor(callMap)
		if err := proto.CheckTimeout(b.connectionTimeoutV.Duration, desc); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reply, err := proto.Call(desc)
		if err != nil {
			if firstErr == nil {
				firstErr = dispatcherrors.WrapInfrastructureError(err, "protocol %s call failed", proto.Name())
			}
			continue
		}
		if key, value, ok := proto.Collate(reply, desc); ok {
			b.job.Context().Set("common/"+proto.Name(), key, value)
		}
	}
	return firstErr
}

func normalizeCallDescriptor(callMap map[string]any) protocol.CallDescriptor {
	action, _ := callMap["action"].(string)
	msg, _ := callMap["message"].(map[string]any)
	return protocol.CallDescriptor{Action: action, Message: msg}
}

// RunCommand launches cmdArgs without a shell, captures combined
// stdout+stderr, and returns the decoded output on success. On non-zero
// exit it appends the captured output (or, when there is none, the error
// string) to errors and returns the error; when
// allowSilent is true and the process exited zero with empty output, it
// returns ("", nil) as a silent-success sentinel the caller can
// distinguish by checking len(output)==0. This generalizes
// lava_dispatcher's Action.run_command (action.py), including its "nice"
// prefix (SPEC_FULL §12.4) and passthrough of the dispatcher's inherited
// environment (proxy variables included, since exec.Command inherits os.Environ
// by default).
func (b *Base) RunCommand(ctx context.Context, cmdArgs []string, allowSilent bool) (string, error) {
	return runCommand(ctx, cmdArgs, allowSilent, 0, b.addError)
}

// RunCommandIdle is RunCommand with an additional idle-output watchdog: the
// command is killed if it produces no output for idleTimeout, even while
// the action's own scoped timeout has time left.
func (b *Base) RunCommandIdle(ctx context.Context, cmdArgs []string, allowSilent bool, idleTimeout time.Duration) (string, error) {
	return runCommand(ctx, cmdArgs, allowSilent, idleTimeout, b.addError)
}

// GetCommonData is a shortcut to Job().Context().GetCommon.
func (b *Base) GetCommonData(ns, key string, deepCopy bool) (any, bool) {
	if b.job == nil {
		return nil, false
	}
	return b.job.Context().Get(ns, key, deepCopy)
}

// SetCommonData is a shortcut to Job().Context().Set.
func (b *Base) SetCommonData(ns, key string, value any) {
	if b.job == nil {
		return
	}
	b.job.Context().Set(ns, key, value)
}

// Mkdtemp delegates to the job's per-action scoped temp directory
// (SPEC_FULL §12.7, lava_dispatcher's Action.mkdtemp -> job.mkdtemp(name)).
func (b *Base) Mkdtemp() (string, error) {
	if b.job == nil {
		return "", fmt.Errorf("action %s has no job", b.name)
	}
	return b.job.MkDtemp(b.name)
}
