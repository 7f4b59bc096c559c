// Package boot implements an example "boot" strategy plus a matching
// diagnostic, generalizing lava_dispatcher's BootAction and its
// bootloader-interrupt diagnostics (actions/boot/__init__.py,
// actions/boot/u_boot.py). The strategy dials a shell connection using the
// device's boot command and waits for a prompt; on timeout it raises a
// trigger complaint the registered diagnostic picks up to capture whatever
// the console printed before the deadline.
package boot

import (
	"context"
	"fmt"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/dispatcherrors"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/registry"
)

// TriggerBootTimeout is the complaint token pushed to the job's trigger
// queue when a boot prompt never appears.
const TriggerBootTimeout = "boot-timeout"

// Action boots the device and waits for its prompt.
type Action struct {
	*pipeline.Base
	bootCommand string
	prompts     []string
}

// New returns a boot Action.
func New() *Action {
	return &Action{Base: pipeline.NewBase(
		"auto-login-action",
		"boot the device and wait for a prompt",
		"dials a console connection using the device boot command and waits for a login or shell prompt",
		"boot",
	)}
}

// Populate reads the boot command from the device descriptor and the
// expected prompts from the action's own parameters (falling back to the
// built-in shell prompt patterns "# $" and "\$ $" when none are given).
func (a *Action) Populate(params map[string]any) error {
	if job := a.Job(); job != nil {
		if cmds, ok := job.Device()["commands"].(map[string]any); ok {
			if boot, ok := cmds["boot"].(string); ok {
				a.bootCommand = boot
			}
		}
	}
	if raw, ok := params["prompts"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				a.prompts = append(a.prompts, s)
			}
		}
	}
	if len(a.prompts) == 0 {
		a.prompts = []string{"# $", "\\$ $"}
	}
	return nil
}

// Validate requires a resolved boot command.
func (a *Action) Validate() {
	a.Base.Validate()
	if a.bootCommand == "" {
		a.Fail("boot action %s has no device boot command", a.Name())
	}
}

// Run dials the console and waits for one of the configured prompts.
func (a *Action) Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	if err := a.CallProtocols(); err != nil {
		return conn, err
	}

	shell, err := connection.Dial(ctx, a.bootCommand)
	if err != nil {
		return conn, dispatcherrors.WrapInfrastructureError(err, "boot action could not start console connection")
	}
	shell.SetPromptStr(a.prompts)
	shell.SetTimeout(a.ConnectionTimeout().Duration)
	shell.CharacterDelay = a.CharacterDelay

	idx, err := shell.Expect(ctx, a.prompts, a.ConnectionTimeout().Duration)
	if err != nil {
		if job := a.Job(); job != nil {
			job.Triggers().Push(TriggerBootTimeout)
		}
		return shell, dispatcherrors.WrapInfrastructureError(err, "timed out waiting for a boot prompt")
	}

	a.Results().Set("matched_prompt", a.prompts[idx])
	return shell, nil
}

// Diagnostic captures whatever the console printed before a boot timeout.
type Diagnostic struct {
	*pipeline.Base
}

// NewDiagnostic returns the boot-timeout diagnostic Action.
func NewDiagnostic() *Diagnostic {
	return &Diagnostic{Base: pipeline.NewBase(
		"boot-timeout-diagnostic",
		"capture console output after a boot timeout",
		"reads whatever the console buffered before the boot prompt wait gave up, for operator triage",
		"boot",
	)}
}

// Trigger reports the complaint token this diagnostic responds to.
func (d *Diagnostic) Trigger() string { return TriggerBootTimeout }

// Run reads back the connection's accumulated output, if a connection
// survived the timeout, and records it as a result extra.
func (d *Diagnostic) Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	if conn == nil {
		d.Results().Set("diagnostic", "no connection available to inspect")
		return conn, nil
	}
	rw, err := conn.TestConnection()
	if err != nil {
		return conn, dispatcherrors.WrapInfrastructureError(err, "boot diagnostic could not access connection")
	}
	buf := make([]byte, 4096)
	n, _ := rw.Read(buf)
	d.Results().Set("diagnostic", fmt.Sprintf("%d bytes captured", n))
	d.Results().Set("console_tail", string(buf[:n]))
	return conn, nil
}

type strategy struct{}

func (strategy) Section() string { return "boot" }
func (strategy) Priority() int   { return 0 }
func (strategy) Accepts(device, params map[string]any) bool {
	cmds, ok := device["commands"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = cmds["boot"]
	return ok
}
func (strategy) New() pipeline.Action { return New() }

// Register installs the boot strategy into r.
func Register(r *registry.Registry) {
	r.Register(strategy{})
}
