package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu             sync.Mutex
	commandResults map[string]commandResult
	defaultResult  commandResult
	commands       []Command
}

func (m *MockCommandRunner) RunCommand(_ context.Context, cmd Command) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)

	if result, exists := m.commandResults[strings.Join(cmd.Args, " ")]; exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}
	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	mkdirTempErr  error
	writeFileErr  error
	writeFileData map[string][]byte
	removed       []string
}

func (m *MockFileSystem) MkdirTemp(_, _ string) (string, error) {
	if m.mkdirTempErr != nil {
		return "", m.mkdirTempErr
	}
	return "/tmp/test", nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	if m.writeFileErr != nil {
		return m.writeFileErr
	}
	if m.writeFileData == nil {
		m.writeFileData = make(map[string][]byte)
	}
	m.writeFileData[filename] = data
	return nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.removed = append(m.removed, path)
	return nil
}

func pythonConfig() *Config {
	return &Config{
		Language: LanguageSpec{
			Name:     LanguagePython,
			Image:    "python:3.11-slim",
			RunCmd:   "python3 -u main.py",
			CheckCmd: "python3 --version",
			Env:      map[string]string{"PYTHONDONTWRITEBYTECODE": "1"},
		},
		MemoryMB:       256,
		MaxOutputBytes: 1024,
	}
}

func TestLocalRuntimeRun(t *testing.T) {
	runner := &MockCommandRunner{defaultResult: commandResult{stdout: "3\n"}}
	fs := &MockFileSystem{}
	cfg := pythonConfig()
	cfg.Language.PrefixCode = "import sys"

	rt := NewLocalRuntime(zaptest.NewLogger(t), cfg, WithLocalCommandRunner(runner), WithLocalFileSystem(fs))

	out, err := rt.Run(context.Background(), "print(1 + 2)")
	require.NoError(t, err)
	assert.Equal(t, Output{Stdout: "3\n"}, out)

	assert.Equal(t, "import sys\nprint(1 + 2)\n", string(fs.writeFileData["/tmp/test/main.py"]))
	assert.Equal(t, []string{"/tmp/test"}, fs.removed)

	require.Len(t, runner.commands, 1)
	cmd := runner.commands[0]
	assert.Equal(t, []string{"sh", "-c", "python3 -u main.py"}, cmd.Args)
	assert.Equal(t, "/tmp/test", cmd.Dir)
	assert.Contains(t, cmd.Env, "HOME=/tmp/test")
	assert.Contains(t, cmd.Env, "PYTHONDONTWRITEBYTECODE=1")
}

func TestLocalRuntimeRunErrors(t *testing.T) {
	t.Run("temp dir", func(t *testing.T) {
		rt := NewLocalRuntime(zaptest.NewLogger(t), pythonConfig(),
			WithLocalCommandRunner(&MockCommandRunner{}),
			WithLocalFileSystem(&MockFileSystem{mkdirTempErr: errors.New("disk full")}))
		_, err := rt.Run(context.Background(), "x")
		require.ErrorContains(t, err, "disk full")
	})

	t.Run("runner", func(t *testing.T) {
		rt := NewLocalRuntime(zaptest.NewLogger(t), pythonConfig(),
			WithLocalCommandRunner(&MockCommandRunner{defaultResult: commandResult{err: errors.New("sh: not found")}}),
			WithLocalFileSystem(&MockFileSystem{}))
		_, err := rt.Run(context.Background(), "x")
		require.ErrorContains(t, err, "failed to execute code")
	})

	t.Run("unsupported language", func(t *testing.T) {
		cfg := pythonConfig()
		cfg.Language.Name = "cobol"
		rt := NewLocalRuntime(zaptest.NewLogger(t), cfg,
			WithLocalCommandRunner(&MockCommandRunner{}), WithLocalFileSystem(&MockFileSystem{}))
		_, err := rt.Run(context.Background(), "x")
		require.ErrorContains(t, err, "unsupported language")
	})
}

func TestLocalRuntimeInit(t *testing.T) {
	runner := &MockCommandRunner{commandResults: map[string]commandResult{
		"sh -c python3 --version": {stderr: "sh: python3: not found\n", exitCode: 127},
	}}
	rt := NewLocalRuntime(zaptest.NewLogger(t), pythonConfig(), WithLocalCommandRunner(runner))

	err := rt.Init(context.Background())
	require.ErrorContains(t, err, "python toolchain unavailable: sh: python3: not found")
}

func TestLocalRuntimeLoadPackages(t *testing.T) {
	t.Run("no packages", func(t *testing.T) {
		runner := &MockCommandRunner{}
		rt := NewLocalRuntime(zaptest.NewLogger(t), pythonConfig(), WithLocalCommandRunner(runner))
		require.NoError(t, rt.LoadPackages(context.Background()))
		assert.Empty(t, runner.commands)
	})

	t.Run("missing package", func(t *testing.T) {
		cfg := pythonConfig()
		cfg.Packages = []string{"numpy"}
		fs := &MockFileSystem{}
		runner := &MockCommandRunner{defaultResult: commandResult{
			stderr:   "ModuleNotFoundError: No module named 'numpy'\n",
			exitCode: 1,
		}}
		rt := NewLocalRuntime(zaptest.NewLogger(t), cfg, WithLocalCommandRunner(runner), WithLocalFileSystem(fs))

		err := rt.LoadPackages(context.Background())
		require.ErrorContains(t, err, "No module named 'numpy'")
		assert.Equal(t, "import numpy\n", string(fs.writeFileData["/tmp/test/main.py"]))
	})
}

func TestLocalRuntimePython(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	rt := NewLocalRuntime(zaptest.NewLogger(t), pythonConfig())
	require.NoError(t, rt.Init(context.Background()))

	out, err := rt.Run(context.Background(), "print(sum([1, 2]))")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out.Stdout)
	assert.Equal(t, 0, out.ExitCode)

	out, err = rt.Run(context.Background(), "1/0")
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, "ZeroDivisionError: division by zero", executionError(out))

	out, err = rt.Run(context.Background(), "print('x' * 5000)")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out.Stdout, TruncationMarker))
}

func TestLocalRuntimeCanceled(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	rt := NewLocalRuntime(zaptest.NewLogger(t), pythonConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rt.Run(ctx, "while True: pass")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLocalRuntimeCanceledMidRun(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	for _, runCmd := range []string{"python3 -u main.py", "python3 -u main.py && true"} {
		t.Run(runCmd, func(t *testing.T) {
			cfg := pythonConfig()
			cfg.Language.RunCmd = runCmd
			rt := NewLocalRuntime(zaptest.NewLogger(t), cfg)

			marker := filepath.Join(t.TempDir(), "marker")
			code := "import time\ntime.sleep(1.5)\nopen(" + strconv.Quote(marker) + ", 'w').close()"

			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()

			start := time.Now()
			_, err := rt.Run(ctx, code)
			require.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(start), time.Second)

			time.Sleep(2 * time.Second)
			_, statErr := os.Stat(marker)
			assert.True(t, os.IsNotExist(statErr), "cancelled program kept running")
		})
	}
}
