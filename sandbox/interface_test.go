package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codelab/fault"
	"github.com/isdmx/codelab/protocol"
)

func TestStateCanTransition(t *testing.T) {
	uninit := State{Phase: PhaseUninitialized}
	initStage := State{Phase: PhaseLoading, Stage: protocol.StageInit}
	packages := State{Phase: PhaseLoading, Stage: protocol.StagePackages}
	ready := State{Phase: PhaseReady}
	errored := State{Phase: PhaseErrored, Err: "boom"}

	assert.True(t, uninit.CanTransition(initStage))
	assert.True(t, initStage.CanTransition(packages))
	assert.True(t, packages.CanTransition(ready))
	assert.True(t, ready.CanTransition(errored))
	assert.True(t, uninit.CanTransition(errored))

	assert.False(t, packages.CanTransition(initStage))
	assert.False(t, ready.CanTransition(packages))
	assert.False(t, errored.CanTransition(ready))
	assert.False(t, errored.CanTransition(errored))
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, protocol.ErrorBusy, ErrorText(fault.ErrBusy))
	assert.Equal(t, protocol.ErrorClosed, ErrorText(fault.ErrClosed))
	assert.Equal(t, protocol.ErrorUnavailable, ErrorText(fault.ErrUnavailable))
	assert.Equal(t, "boom", ErrorText(errors.New("boom")))
}

func TestExecutionError(t *testing.T) {
	assert.Empty(t, executionError(Output{Stderr: "warning\n"}))
	assert.Equal(t, "NameError: name 'x' is not defined",
		executionError(Output{Stderr: "Traceback\nNameError: name 'x' is not defined\n\n", ExitCode: 1}))
	assert.Equal(t, "last", executionError(Output{Stderr: "first\nlast" + TruncationMarker, ExitCode: 1}))
	assert.Equal(t, "exit status 2", executionError(Output{ExitCode: 2}))

	long := executionError(Output{Stderr: strings.Repeat("é", MaxErrorBytes), ExitCode: 1})
	assert.True(t, strings.HasSuffix(long, TruncationMarker))
	assert.LessOrEqual(t, len(long), MaxErrorBytes+len(TruncationMarker))
	assert.True(t, utf8.ValidString(long))
}

func TestLimitedBuffer(t *testing.T) {
	b := newLimitedBuffer(4)
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("def"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abcd"+TruncationMarker, b.String())

	unlimited := newLimitedBuffer(0)
	_, _ = unlimited.Write([]byte(strings.Repeat("x", 100)))
	assert.Len(t, unlimited.String(), 100)
}

func TestRealCommandRunner(t *testing.T) {
	runner := RealCommandRunner{}

	stdout, stderr, exitCode, err := runner.RunCommand(context.Background(), Command{Args: []string{"sh", "-c", "echo out; echo err >&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, "out\n", stdout)
	assert.Equal(t, "err\n", stderr)
	assert.Equal(t, 3, exitCode)

	_, _, _, err = runner.RunCommand(context.Background(), Command{})
	require.Error(t, err)

	_, _, _, err = runner.RunCommand(context.Background(), Command{Args: []string{"/nonexistent/binary"}})
	require.Error(t, err)
}
