package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duttest/dispatcher/internal/connection"
	"github.com/duttest/dispatcher/internal/pipeline"
	"github.com/duttest/dispatcher/internal/registry"
)

type stubAction struct {
	*pipeline.Base
	tag string
}

func newStub(tag string) *stubAction {
	return &stubAction{Base: pipeline.NewBase(tag, "stub", "stub action", "test"), tag: tag}
}

func (s *stubAction) Run(ctx context.Context, conn connection.Connection, args map[string]any) (connection.Connection, error) {
	return conn, nil
}

type stubStrategy struct {
	section  string
	priority int
	tag      string
	accept   func(device, params map[string]any) bool
}

func (s stubStrategy) Section() string { return s.section }
func (s stubStrategy) Priority() int   { return s.priority }
func (s stubStrategy) Accepts(device, params map[string]any) bool {
	return s.accept(device, params)
}
func (s stubStrategy) New() pipeline.Action { return newStub(s.tag) }

func TestSelectPicksHighestPriorityAcceptingStrategy(t *testing.T) {
	r := registry.New()
	r.Register(stubStrategy{section: "deploy", priority: 1, tag: "low", accept: func(map[string]any, map[string]any) bool { return true }})
	r.Register(stubStrategy{section: "deploy", priority: 5, tag: "high", accept: func(map[string]any, map[string]any) bool { return true }})

	action, err := r.Select("deploy", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "high", action.(*stubAction).tag)
}

func TestSelectSkipsNonAccepting(t *testing.T) {
	r := registry.New()
	r.Register(stubStrategy{section: "boot", priority: 10, tag: "wrong-device", accept: func(map[string]any, map[string]any) bool { return false }})
	r.Register(stubStrategy{section: "boot", priority: 1, tag: "right-device", accept: func(map[string]any, map[string]any) bool { return true }})

	action, err := r.Select("boot", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "right-device", action.(*stubAction).tag)
}

func TestSelectNoMatchReturnsErrNoMatch(t *testing.T) {
	r := registry.New()
	_, err := r.Select("test", nil, nil)
	require.Error(t, err)
	var noMatch *registry.ErrNoMatch
	assert.ErrorAs(t, err, &noMatch)
}

func TestSectionsSortedAndDeduplicatedByRegistration(t *testing.T) {
	r := registry.New()
	r.Register(stubStrategy{section: "test", priority: 0, accept: func(map[string]any, map[string]any) bool { return true }})
	r.Register(stubStrategy{section: "boot", priority: 0, accept: func(map[string]any, map[string]any) bool { return true }})
	r.Register(stubStrategy{section: "test", priority: 1, accept: func(map[string]any, map[string]any) bool { return true }})

	assert.Equal(t, []string{"boot", "test"}, r.Sections())
}
