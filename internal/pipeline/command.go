package pipeline

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/dispatcherrors"
)

// runCommand generalizes lava_dispatcher's Action.run_command (action.py):
// it shells out without an interactive shell, captures combined output, and
// prefixes the argv with "nice" when available so a long-running local
// command never starves the dispatcher host (SPEC_FULL §12.4). The
// dispatcher's own environment — proxy variables included — is passed
// through unchanged, since exec.Command inherits os.Environ() by default
// and nothing here overrides it. When idleTimeout is non-zero, the command
// is killed if no output arrives for that long even though the overall ctx
// deadline hasn't passed yet; this activity-watchdog technique is adapted
// from the teacher's runLocalCommandExec.
func runCommand(ctx context.Context, cmdArgs []string, allowSilent bool, idleTimeout time.Duration, onError func(string)) (string, error) {
	if len(cmdArgs) == 0 {
		return "", dispatcherrors.NewInternalError(nil, "run_command called with no arguments")
	}
	argv := cmdArgs
	if nice, err := exec.LookPath("nice"); err == nil {
		argv = append([]string{nice}, cmdArgs...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	connection.SetProcessGroup(cmd)

	var buf bytes.Buffer
	var err error
	if idleTimeout > 0 {
		err = runWithIdleWatchdog(cmd, &buf, idleTimeout)
	} else {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		err = cmd.Run()
	}

	output := buf.String()
	if err != nil {
		if output != "" {
			onError(output)
		} else {
			onError(err.Error())
		}
		return output, dispatcherrors.WrapInfrastructureError(err, "command %v failed", cmdArgs)
	}
	if output == "" && !allowSilent {
		onError("command produced no output: " + joinArgs(cmdArgs))
		return "", dispatcherrors.NewJobError("command produced no output: %v", cmdArgs)
	}
	return output, nil
}

// runWithIdleWatchdog runs cmd to completion, copying its combined output
// into out, but kills the whole process group if no output arrives for
// idleTimeout. cmd must already have been built with exec.CommandContext so
// the overall job/action deadline still applies independently.
func runWithIdleWatchdog(cmd *exec.Cmd, out io.Writer, idleTimeout time.Duration) error {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	activity := make(chan struct{}, 1)
	notify := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}
	copyNotify := func(r io.ReadCloser) {
		defer r.Close()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				out.Write(buf[:n])
				notify()
			}
			if err != nil {
				return
			}
		}
	}
	go copyNotify(stdoutPipe)
	go copyNotify(stderrPipe)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()
	for {
		select {
		case <-activity:
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(idleTimeout)
		case <-idleTimer.C:
			connection.KillProcessGroup(cmd)
			<-done
			return dispatcherrors.NewInfrastructureError("command idle for longer than %s, killed", idleTimeout)
		case err := <-done:
			return err
		}
	}
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
