package job_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duttest/dispatcher/internal/job"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/timeout"
)

type stubAction struct {
	*pipeline.Base
	cleanupErr error
	cleaned    bool
	order      *[]string
}

func newStubAction(name string) *stubAction {
	return &stubAction{Base: pipeline.NewBase(name, "s", "d", "test")}
}

func (s *stubAction) Cleanup() error {
	s.cleaned = true
	if s.order != nil {
		*s.order = append(*s.order, s.Name())
	}
	return s.cleanupErr
}

type diagAction struct {
	*pipeline.Base
	trigger string
}

func (d *diagAction) Trigger() string { return d.trigger }

func newJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New(job.Options{Name: "t", Device: map[string]any{}, Parameters: map[string]any{}, GlobalTimeout: timeout.New("t")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestNewCreatesScratchRoot(t *testing.T) {
	j := newJob(t)
	info, err := os.Stat(j.ScratchRoot())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCloseRemovesScratchRoot(t *testing.T) {
	j, err := job.New(job.Options{Name: "t", Device: map[string]any{}, Parameters: map[string]any{}, GlobalTimeout: timeout.New("t")})
	require.NoError(t, err)
	root := j.ScratchRoot()
	require.NoError(t, j.Close())
	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMkDtempIsScopedUnderScratchRoot(t *testing.T) {
	j := newJob(t)
	dir, err := j.MkDtemp("deploy")
	require.NoError(t, err)
	assert.Contains(t, dir, j.ScratchRoot())
}

func TestRegisterDiagnosticAndDiagnose(t *testing.T) {
	j := newJob(t)
	d := &diagAction{Base: pipeline.NewBase("boot-timeout-diagnostic", "s", "d", "diagnostic"), trigger: "boot-timeout"}
	j.RegisterDiagnostic(d)

	found, ok := j.Diagnose("boot-timeout")
	require.True(t, ok)
	assert.Same(t, d, found)

	_, ok = j.Diagnose("unregistered-complaint")
	assert.False(t, ok)
}

func TestRunCleanupActionsRunsInReverseOrderAndCollectsErrors(t *testing.T) {
	j := newJob(t)

	first := newStubAction("first")
	second := newStubAction("second")
	second.cleanupErr = errors.New("second failed to clean up")
	var order []string
	first.order = &order
	second.order = &order

	j.RegisterCleanup(first)
	j.RegisterCleanup(second)

	errs := j.RunCleanupActions()
	require.Len(t, errs, 1)
	assert.True(t, first.cleaned)
	assert.True(t, second.cleaned)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestSummaryStartsAtPass(t *testing.T) {
	j := newJob(t)
	assert.Equal(t, "pass", j.Summary().JobStatus)
}
