package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duttest/dispatcher/internal/dispatcherrors"
	"github.com/duttest/dispatcher/internal/pipeline"
)

func TestRetryActionFailureRetrySucceedsEventually(t *testing.T) {
	j := newTestJob(t, time.Minute)
	root := pipeline.NewPipeline(j, "", nil, nil)
	j.SetRootPipeline(root)

	retryAction := pipeline.NewRetryAction("retry-boot", "retry boot", "retries boot on failure", false)
	require.NoError(t, root.AddAction(retryAction, map[string]any{"failure_retry": 3}))

	inner := pipeline.NewPipeline(j, retryAction.Level(), nil, nil)
	var calls int
	flaky := newFnAction("flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return dispatcherrors.NewInfrastructureError("transient fault")
		}
		return nil
	})
	require.NoError(t, inner.AddAction(flaky, nil))
	retryAction.AttachPipeline(inner)

	_, err := root.RunActions(context.Background(), nil, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "must stop retrying as soon as the internal pipeline succeeds")
}

func TestRetryActionFailureRetryExhaustsAttempts(t *testing.T) {
	j := newTestJob(t, time.Minute)
	root := pipeline.NewPipeline(j, "", nil, nil)
	j.SetRootPipeline(root)

	retryAction := pipeline.NewRetryAction("retry-boot", "retry boot", "retries boot on failure", false)
	require.NoError(t, root.AddAction(retryAction, map[string]any{"failure_retry": 2}))

	inner := pipeline.NewPipeline(j, retryAction.Level(), nil, nil)
	var calls int
	alwaysFails := newFnAction("always-fails", func(ctx context.Context) error {
		calls++
		return dispatcherrors.NewInfrastructureError("permanent fault")
	})
	require.NoError(t, inner.AddAction(alwaysFails, nil))
	retryAction.AttachPipeline(inner)

	_, err := root.RunActions(context.Background(), nil, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, 2, calls, "must run exactly MaxRetries attempts before giving up")
}

func TestRetryActionNonRecoverableAbortsImmediately(t *testing.T) {
	j := newTestJob(t, time.Minute)
	root := pipeline.NewPipeline(j, "", nil, nil)
	j.SetRootPipeline(root)

	retryAction := pipeline.NewRetryAction("retry-boot", "retry boot", "retries boot on failure", false)
	require.NoError(t, root.AddAction(retryAction, map[string]any{"failure_retry": 5}))

	inner := pipeline.NewPipeline(j, retryAction.Level(), nil, nil)
	var calls int
	broken := newFnAction("broken", func(ctx context.Context) error {
		calls++
		return dispatcherrors.NewInternalError(nil, "programmer error")
	})
	require.NoError(t, inner.AddAction(broken, nil))
	retryAction.AttachPipeline(inner)

	_, err := root.RunActions(context.Background(), nil, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a non-recoverable error must not be retried at all")
}

func TestRetryActionRepeatRunsExactCountSwallowingFailures(t *testing.T) {
	j := newTestJob(t, time.Minute)
	root := pipeline.NewPipeline(j, "", nil, nil)
	j.SetRootPipeline(root)

	retryAction := pipeline.NewRetryAction("repeat-case", "repeat a test case", "runs N times", true)
	require.NoError(t, root.AddAction(retryAction, map[string]any{"repeat": 4}))

	inner := pipeline.NewPipeline(j, retryAction.Level(), nil, nil)
	var calls int
	flaky := newFnAction("flaky", func(ctx context.Context) error {
		calls++
		return dispatcherrors.NewJobError("expected occasional failure")
	})
	require.NoError(t, inner.AddAction(flaky, nil))
	retryAction.AttachPipeline(inner)

	_, err := root.RunActions(context.Background(), nil, map[string]any{})
	require.NoError(t, err, "repeat mode swallows recoverable per-iteration failures")
	assert.Equal(t, 4, calls, "repeat mode must run exactly the configured count")
}

func TestFailureRetryAndRepeatTogetherIsRejected(t *testing.T) {
	j := newTestJob(t, time.Minute)
	root := pipeline.NewPipeline(j, "", nil, nil)
	j.SetRootPipeline(root)

	retryAction := pipeline.NewRetryAction("bad-config", "s", "d", false)
	require.NoError(t, root.AddAction(retryAction, map[string]any{"failure_retry": 3, "repeat": 3}))

	assert.False(t, retryAction.Valid(), "specifying both failure_retry and repeat must record a validation error")
}
