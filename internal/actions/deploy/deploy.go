// Package deploy implements an example "deploy" strategy: an overlay
// deploy that never touches real hardware. It stages a scratch directory
// and records what it would have written, standing in for
// lava_dispatcher's OverlayAction (actions/deploy/overlay.py) without any
// of the download/mount/unpack machinery spec's Non-goals exclude.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/dispatcherrors"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/registry"
)

// Action stages an overlay into a job-scoped scratch directory.
type Action struct {
	*pipeline.Base
	overlayFiles map[string]string // relative path -> content
	stagedDir    string
}

// New returns an overlay deploy Action.
func New() *Action {
	return &Action{Base: pipeline.NewBase(
		"overlay-deploy",
		"deploy an overlay",
		"stages an overlay's files into a scratch directory",
		"deploy",
	)}
}

// Populate reads the overlay's file map from parameters["overlay"], a
// mapping of relative path to inline file content.
func (a *Action) Populate(params map[string]any) error {
	overlay, ok := params["overlay"].(map[string]any)
	if !ok {
		return nil
	}
	a.overlayFiles = make(map[string]string, len(overlay))
	for path, content := range overlay {
		s, ok := content.(string)
		if !ok {
			return fmt.Errorf("overlay entry %q is not a string", path)
		}
		a.overlayFiles[path] = s
	}
	return nil
}

// Validate requires at least one overlay file to stage.
func (a *Action) Validate() {
	a.Base.Validate()
	if len(a.overlayFiles) == 0 {
		a.Fail("overlay deploy %s has no files to stage", a.Name())
	}
}

// Run stages every overlay file under a fresh job-scoped temp directory.
func (a *Action) Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	if err := a.CallProtocols(); err != nil {
		return conn, err
	}

	dir, err := a.Mkdtemp()
	if err != nil {
		return conn, dispatcherrors.WrapInfrastructureError(err, "overlay deploy could not allocate scratch directory")
	}
	a.stagedDir = dir

	for rel, content := range a.overlayFiles {
		full := filepath.Join(dir, filepath.Clean(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return conn, dispatcherrors.WrapInfrastructureError(err, "overlay deploy could not create directory for %s", rel)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return conn, dispatcherrors.WrapInfrastructureError(err, "overlay deploy could not write %s", rel)
		}
	}

	a.Results().Set("staged_dir", a.stagedDir)
	a.Results().Set("file_count", len(a.overlayFiles))
	a.SetCommonData("common", "overlay-dir", a.stagedDir)
	return conn, nil
}

// Cleanup removes the staged directory if one was created.
func (a *Action) Cleanup() error {
	if a.stagedDir == "" {
		return nil
	}
	return os.RemoveAll(a.stagedDir)
}

type strategy struct{}

func (strategy) Section() string { return "deploy" }
func (strategy) Priority() int   { return 0 }
func (strategy) Accepts(device, params map[string]any) bool {
	_, ok := params["overlay"]
	return ok
}
func (strategy) New() pipeline.Action { return New() }

// Register installs the overlay deploy strategy into r.
func Register(r *registry.Registry) {
	r.Register(strategy{})
}
