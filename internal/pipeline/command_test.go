package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duttest/dispatcher/internal/dispatcherrors"
	"github.com/duttest/dispatcher/internal/pipeline"
)

func TestRunCommandCapturesOutput(t *testing.T) {
	a := pipeline.NewBase("echo-test", "s", "d", "test")
	out, err := a.RunCommand(context.Background(), []string{"echo", "hello-world"}, false)
	require.NoError(t, err)
	assert.Contains(t, out, "hello-world")
}

func TestRunCommandRejectsSilentOutputUnlessAllowed(t *testing.T) {
	a := pipeline.NewBase("silent-test", "s", "d", "test")
	_, err := a.RunCommand(context.Background(), []string{"true"}, false)
	require.Error(t, err)
	var je *dispatcherrors.JobError
	assert.True(t, errors.As(err, &je))
}

func TestRunCommandAllowsSilentOutputWhenPermitted(t *testing.T) {
	a := pipeline.NewBase("silent-test", "s", "d", "test")
	out, err := a.RunCommand(context.Background(), []string{"true"}, true)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunCommandWrapsNonZeroExitAsInfrastructureError(t *testing.T) {
	a := pipeline.NewBase("failing-test", "s", "d", "test")
	_, err := a.RunCommand(context.Background(), []string{"false"}, true)
	require.Error(t, err)
	var ie *dispatcherrors.InfrastructureError
	assert.True(t, errors.As(err, &ie))
	assert.NotEmpty(t, a.Errors(), "a failing command must append its captured output to the action's errors")
}

func TestRunCommandIdleWatchdogKillsSilentLongRunner(t *testing.T) {
	a := pipeline.NewBase("idle-test", "s", "d", "test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.RunCommandIdle(ctx, []string{"sleep", "5"}, true, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle for longer")
}
