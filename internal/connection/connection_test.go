package connection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duttest/dispatcher/internal/connection"
)

func TestDialSendlineExpectRoundtrip(t *testing.T) {
	conn, err := connection.Dial(context.Background(), "cat")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Sendline("hello-from-test", 0))
	idx, err := conn.Expect(context.Background(), []string{"hello-from-test"}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestExpectPicksMatchingPatternIndex(t *testing.T) {
	conn, err := connection.Dial(context.Background(), "echo second-pattern")
	require.NoError(t, err)
	defer conn.Close()

	idx, err := conn.Expect(context.Background(), []string{"first-pattern", "second-pattern"}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestExpectTimesOutWithoutMatch(t *testing.T) {
	conn, err := connection.Dial(context.Background(), "sleep 2")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Expect(context.Background(), []string{"never-appears"}, 50*time.Millisecond)
	require.Error(t, err)
}

func TestCloseMakesFurtherSendsFail(t *testing.T) {
	conn, err := connection.Dial(context.Background(), "cat")
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.False(t, conn.Connected())
	err = conn.Sendline("anything", 0)
	assert.Error(t, err)
}

func TestSetPromptStrAndTimeoutRoundtrip(t *testing.T) {
	conn, err := connection.Dial(context.Background(), "cat")
	require.NoError(t, err)
	defer conn.Close()

	conn.SetPromptStr([]string{"# $"})
	assert.Equal(t, []string{"# $"}, conn.PromptStr())

	conn.SetTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, conn.Timeout())
}
