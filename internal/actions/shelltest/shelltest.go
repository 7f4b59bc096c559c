// Package shelltest implements an example "test" strategy: it runs a shell
// command and matches its combined output against a pass pattern,
// generalizing lava_dispatcher's ShellCommand/ShellSession test-definition
// execution (actions/test/shell.py). Pattern mismatch is exactly the kind
// of failure spec §7 assigns to TestError: a soft per-test-case failure
// that must not abort the rest of the job.
package shelltest

import (
	"context"
	"fmt"
	"regexp"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/dispatcherrors"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/registry"
)

// Action runs a single shell test case.
type Action struct {
	*pipeline.Base
	caseName string
	command  []string
	pattern  *regexp.Regexp
}

// New returns a shell-test Action.
func New() *Action {
	return &Action{Base: pipeline.NewBase(
		"shell-test-case",
		"run a shell test command",
		"executes a shell command and matches its output against a pass pattern",
		"test",
	)}
}

// Populate reads command, pass_pattern and case from the action's
// parameters, compiling the pattern once up front rather than per Run.
func (a *Action) Populate(params map[string]any) error {
	if name, ok := params["case"].(string); ok {
		a.caseName = name
	} else {
		a.caseName = a.Name()
	}

	if rawCmd, ok := params["command"].([]any); ok {
		for _, c := range rawCmd {
			if s, ok := c.(string); ok {
				a.command = append(a.command, s)
			}
		}
	}

	if pat, ok := params["pass_pattern"].(string); ok {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("compile pass_pattern %q: %w", pat, err)
		}
		a.pattern = re
	}
	return nil
}

// Validate additionally requires a non-empty command and a compiled
// pattern, on top of Base.Validate's generic checks.
func (a *Action) Validate() {
	a.Base.Validate()
	if len(a.command) == 0 {
		a.Fail("shell test case %s has no command", a.caseName)
	}
	if a.pattern == nil {
		a.Fail("shell test case %s has no pass_pattern", a.caseName)
	}
}

// Run executes the configured command and matches its output against the
// pass pattern, returning a *dispatcherrors.TestError (never fatal) on
// mismatch or non-zero exit.
func (a *Action) Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	if err := a.CallProtocols(); err != nil {
		return conn, err
	}

	output, err := a.RunCommand(ctx, a.command, true)
	if err != nil {
		a.Results().Set("case", a.caseName)
		a.Results().Set("output", output)
		return conn, dispatcherrors.NewTestError("test case %s: command failed: %v", a.caseName, err)
	}

	a.Results().Set("case", a.caseName)
	a.Results().Set("output", output)
	if !a.pattern.MatchString(output) {
		return conn, dispatcherrors.NewTestError("test case %s: output did not match pass_pattern", a.caseName)
	}
	return conn, nil
}

type strategy struct{}

func (strategy) Section() string { return "test" }
func (strategy) Priority() int   { return 0 }
func (strategy) Accepts(device, params map[string]any) bool {
	_, ok := params["command"]
	return ok
}
func (strategy) New() pipeline.Action { return New() }

// Register installs the shell-test strategy into r.
func Register(r *registry.Registry) {
	r.Register(strategy{})
}
