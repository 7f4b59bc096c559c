package jobfile_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duttest/dispatcher/internal/jobfile"
	"github.com/duttest/dispatcher/internal/timeout"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const jobYAML = `
job_name: smoke-test
priority: medium
context:
  build_url: https://example.test/build/42
  target: qemu-arm
timeouts:
  job:
    minutes: 10
  actions:
    boot-qemu:
      minutes: 3
actions:
  - deploy:
      overlay:
        "etc/motd": "built from {{build_url}}"
  - boot:
      prompts:
        - "{{ target }}# $"
  - test:
      case: smoke
      command:
        - "echo"
        - "ok"
`

func TestLoadParsesTopLevelFields(t *testing.T) {
	path := writeFile(t, jobYAML)
	doc, err := jobfile.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "smoke-test", doc.Name)
	assert.Equal(t, "medium", doc.Priority)
	require.Len(t, doc.Actions, 3)
	assert.Equal(t, "deploy", doc.Actions[0].Section)
	assert.Equal(t, "boot", doc.Actions[1].Section)
	assert.Equal(t, "test", doc.Actions[2].Section)
}

func TestLoadInterpolatesContextPlaceholders(t *testing.T) {
	path := writeFile(t, jobYAML)
	doc, err := jobfile.Load(path)
	require.NoError(t, err)

	overlay := doc.Actions[0].Body["overlay"].(map[string]any)
	assert.Equal(t, "built from https://example.test/build/42", overlay["etc/motd"])

	prompts := doc.Actions[1].Body["prompts"].([]any)
	assert.Equal(t, "qemu-arm# $", prompts[0])
}

func TestJobTimeoutParsesMinutes(t *testing.T) {
	path := writeFile(t, jobYAML)
	doc, err := jobfile.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, doc.JobTimeout())
}

func TestJobTimeoutFallsBackToDefault(t *testing.T) {
	path := writeFile(t, "job_name: no-timeouts\nactions: []\n")
	doc, err := jobfile.Load(path)
	require.NoError(t, err)

	assert.Equal(t, timeout.DefaultDuration, doc.JobTimeout())
}

func TestActionTimeoutReturnsOverrideWhenPresent(t *testing.T) {
	path := writeFile(t, jobYAML)
	doc, err := jobfile.Load(path)
	require.NoError(t, err)

	d, ok := doc.ActionTimeout("boot-qemu")
	require.True(t, ok)
	assert.Equal(t, 3*time.Minute, d)

	_, ok = doc.ActionTimeout("does-not-exist")
	assert.False(t, ok)
}

func TestConnectionTimeoutReturnsOverrideWhenPresent(t *testing.T) {
	path := writeFile(t, `
job_name: smoke-test
timeouts:
  connections:
    auto-login-action:
      seconds: 45
actions: []
`)
	doc, err := jobfile.Load(path)
	require.NoError(t, err)

	d, ok := doc.ConnectionTimeout("auto-login-action")
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, d)

	_, ok = doc.ConnectionTimeout("does-not-exist")
	assert.False(t, ok)
}

const deviceYAML = `
commands:
  boot: "qemu-system-arm -kernel zImage"
character_delays:
  boot: 0.05
timeouts:
  actions:
    auto-login-action:
      seconds: 10
  connections:
    auto-login-action:
      seconds: 20
`

func TestLoadDeviceParsesNestedMaps(t *testing.T) {
	path := writeFile(t, deviceYAML)
	dev, err := jobfile.LoadDevice(path)
	require.NoError(t, err)

	commands := dev["commands"].(map[string]any)
	assert.Contains(t, commands["boot"], "qemu-system-arm")
}

func TestDeviceTimeoutOverridesReadNamedEntries(t *testing.T) {
	path := writeFile(t, deviceYAML)
	dev, err := jobfile.LoadDevice(path)
	require.NoError(t, err)

	d, ok := jobfile.DeviceActionTimeout(dev, "auto-login-action")
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	d, ok = jobfile.DeviceConnectionTimeout(dev, "auto-login-action")
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, d)

	_, ok = jobfile.DeviceActionTimeout(dev, "does-not-exist")
	assert.False(t, ok)
}
