// Package jobfile loads the two YAML documents an executor run needs: the
// job definition and the device descriptor. Per spec's Non-goals, this
// package does not implement the full lava_dispatcher job-parser DSL
// (nested include files, Jinja2-style job-context conditionals; only plain
// {{KEY}} substitution from the job's context block is done); it decodes the
// structures the rest of the engine actually consumes and leaves
// unrecognized keys in place as opaque parameters, the way
// lava_dispatcher's JobParser ultimately hands each action block's
// dict straight to Action.populate.
package jobfile

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/duttest/dispatcher/internal/timeout"
)

// ActionBlock is one entry of a job definition's top-level "actions" list:
// Section is the entry's single key (e.g. "deploy", "boot", "test") and
// Body is its parameter mapping, both derived by Load for the registry to
// act on.
type ActionBlock struct {
	Section string
	Body    map[string]any
}

// Document is the parsed form of a job definition YAML file.
type Document struct {
	Name      string
	Timeouts  map[string]any
	Priority  string
	Context   map[string]any
	Protocols map[string]any
	Actions   []ActionBlock
}

type rawDocument struct {
	JobName   string                      `yaml:"job_name"`
	Timeouts  map[string]any              `yaml:"timeouts"`
	Priority  string                      `yaml:"priority"`
	Context   map[string]any              `yaml:"context"`
	Protocols map[string]any              `yaml:"protocols"`
	Actions   []map[string]map[string]any `yaml:"actions"`
}

// Load reads and decodes a job definition from path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file %s: %w", path, err)
	}
	var doc rawDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}

	out := &Document{
		Name:      doc.JobName,
		Timeouts:  doc.Timeouts,
		Priority:  doc.Priority,
		Context:   doc.Context,
		Protocols: doc.Protocols,
	}
	for _, entry := range doc.Actions {
		for section, body := range entry {
			out.Actions = append(out.Actions, ActionBlock{Section: section, Body: body})
		}
	}
	interpolateDocument(out)
	return out, nil
}

// interpolateDocument substitutes {{KEY}} placeholders in every string
// value of every action block's parameters with doc.Context[KEY], stringified.
// This generalizes the teacher's template substitution (helpers.go's
// interpolate) from shell-command strings to arbitrary action parameters.
func interpolateDocument(doc *Document) {
	if len(doc.Context) == 0 {
		return
	}
	vars := make(map[string]string, len(doc.Context))
	for k, v := range doc.Context {
		vars[k] = fmt.Sprintf("%v", v)
	}
	for i := range doc.Actions {
		doc.Actions[i].Body = interpolateValue(doc.Actions[i].Body, vars).(map[string]any)
	}
}

func interpolateValue(v any, vars map[string]string) any {
	switch val := v.(type) {
	case string:
		return interpolateString(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = interpolateValue(sub, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = interpolateValue(sub, vars)
		}
		return out
	default:
		return v
	}
}

func interpolateString(tmpl string, vars map[string]string) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	res := tmpl
	for k, v := range vars {
		res = strings.ReplaceAll(res, "{{"+k+"}}", v)
		res = strings.ReplaceAll(res, "{{ "+k+" }}", v)
		res = strings.ReplaceAll(res, "{{."+k+"}}", v)
		res = strings.ReplaceAll(res, "{{ ."+k+" }}", v)
	}
	return res
}

// Device is the parsed form of a device descriptor YAML file: almost
// entirely opaque to this package, since device capability keys
// (commands, character_delays, timeouts, connection recipes) are read
// directly by strategies and the pipeline's action constructors.
type Device map[string]any

// LoadDevice reads and decodes a device descriptor from path.
func LoadDevice(path string) (Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device file %s: %w", path, err)
	}
	var dev Device
	if err := yaml.Unmarshal(raw, &dev); err != nil {
		return nil, fmt.Errorf("parse device file %s: %w", path, err)
	}
	return dev, nil
}

// JobTimeout extracts the job-global timeout from a document's top-level
// "timeouts.job" mapping, falling back to timeout.DefaultDuration.
func (d *Document) JobTimeout() time.Duration {
	top, ok := d.Timeouts["job"].(map[string]any)
	if !ok {
		return timeout.DefaultDuration
	}
	dur, err := timeout.ParseMap(top)
	if err != nil {
		return timeout.DefaultDuration
	}
	return dur
}

// ActionTimeout extracts an override for the named action from the
// document's top-level "timeouts.actions.<name>" mapping, if present. name
// is the action's own internal identity (e.g. "auto-login-action"), not its
// job-file section key, matching lava_dispatcher's add_action, which keys
// overrides off action.name.
func (d *Document) ActionTimeout(name string) (time.Duration, bool) {
	return namedTimeout(d.Timeouts, "actions", name)
}

// ConnectionTimeout extracts an override for the named action's connection
// timeout from the document's top-level "timeouts.connections.<name>"
// mapping, if present.
func (d *Document) ConnectionTimeout(name string) (time.Duration, bool) {
	return namedTimeout(d.Timeouts, "connections", name)
}

// DeviceActionTimeout extracts an override for the named action from a
// device descriptor's "timeouts.actions.<name>" mapping, if present.
func DeviceActionTimeout(device Device, name string) (time.Duration, bool) {
	top, _ := device["timeouts"].(map[string]any)
	return namedTimeout(top, "actions", name)
}

// DeviceConnectionTimeout extracts an override for the named action's
// connection timeout from a device descriptor's "timeouts.connections.<name>"
// mapping, if present.
func DeviceConnectionTimeout(device Device, name string) (time.Duration, bool) {
	top, _ := device["timeouts"].(map[string]any)
	return namedTimeout(top, "connections", name)
}

// namedTimeout reads timeouts[group][name] as a Spec-shaped map and parses
// it to a duration. It is shared by the job-level and device-level override
// readers; neither clamps, matching lava_dispatcher's Timeout.parse used by
// _override_action_timeout/_override_connection_timeout.
func namedTimeout(timeouts map[string]any, group, name string) (time.Duration, bool) {
	entries, ok := timeouts[group].(map[string]any)
	if !ok {
		return 0, false
	}
	spec, ok := entries[name].(map[string]any)
	if !ok {
		return 0, false
	}
	dur, err := timeout.ParseMap(spec)
	if err != nil {
		return 0, false
	}
	return dur, true
}
