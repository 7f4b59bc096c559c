package boot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duttest/dispatcher/internal/actions/boot"
	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/job"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/registry"
	"github.com/duttest/dispatcher/internal/timeout"
)

func newBootJob(t *testing.T, device map[string]any) *job.Job {
	t.Helper()
	j, err := job.New(job.Options{Name: "t", Device: device, Parameters: map[string]any{}, GlobalTimeout: timeout.New("t")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestStrategyAcceptsDeviceWithBootCommand(t *testing.T) {
	r := registry.New()
	boot.Register(r)

	action, err := r.Select("boot", map[string]any{"commands": map[string]any{"boot": "true"}}, map[string]any{})
	require.NoError(t, err)
	assert.IsType(t, &boot.Action{}, action)
}

func TestStrategyRejectsDeviceWithoutBootCommand(t *testing.T) {
	r := registry.New()
	boot.Register(r)

	_, err := r.Select("boot", map[string]any{}, map[string]any{})
	assert.Error(t, err)
}

func TestValidateRequiresResolvedBootCommand(t *testing.T) {
	j := newBootJob(t, map[string]any{})
	root := pipeline.NewPipeline(j, "", nil, nil)
	j.SetRootPipeline(root)

	a := boot.New()
	require.NoError(t, root.AddAction(a, map[string]any{}))
	a.Validate()
	assert.False(t, a.Valid())
}

func TestRunMatchesConfiguredPrompt(t *testing.T) {
	j := newBootJob(t, map[string]any{"commands": map[string]any{"boot": "echo boot-prompt-appeared"}})
	root := pipeline.NewPipeline(j, "", nil, nil)
	j.SetRootPipeline(root)

	a := boot.New()
	require.NoError(t, root.AddAction(a, map[string]any{"prompts": []any{"boot-prompt-appeared"}}))

	conn, err := a.Run(context.Background(), nil, map[string]any{})
	require.NoError(t, err)
	defer conn.Close()

	matched, ok := a.Results().Get("matched_prompt")
	require.True(t, ok)
	assert.Equal(t, "boot-prompt-appeared", matched)
}

func TestRunPushesTriggerOnTimeout(t *testing.T) {
	j := newBootJob(t, map[string]any{"commands": map[string]any{"boot": "sleep 5"}})
	root := pipeline.NewPipeline(j, "", nil, nil)
	j.SetRootPipeline(root)

	a := boot.New()
	params := map[string]any{
		"prompts":            []any{"this-never-appears"},
		"connection_timeout": map[string]any{"seconds": 0.05},
	}
	require.NoError(t, root.AddAction(a, params))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := a.Run(ctx, nil, map[string]any{})
	require.Error(t, err)
	if conn != nil {
		defer conn.Close()
	}

	drained := j.Triggers().Drain()
	assert.Contains(t, drained, boot.TriggerBootTimeout)
}

func TestDiagnosticWithNoConnectionRecordsPlaceholder(t *testing.T) {
	d := boot.NewDiagnostic()
	_, err := d.Run(context.Background(), nil, map[string]any{})
	require.NoError(t, err)

	msg, ok := d.Results().Get("diagnostic")
	require.True(t, ok)
	assert.Contains(t, msg, "no connection")
}

func TestDiagnosticCapturesConsoleTail(t *testing.T) {
	conn, err := connection.Dial(context.Background(), "cat")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Sendline("console output before timeout", 0))
	time.Sleep(50 * time.Millisecond)

	d := boot.NewDiagnostic()
	_, err = d.Run(context.Background(), conn, map[string]any{})
	require.NoError(t, err)

	tail, ok := d.Results().Get("console_tail")
	require.True(t, ok)
	assert.Contains(t, tail, "console output before timeout")
}
