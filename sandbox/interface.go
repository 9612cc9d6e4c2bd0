package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/isdmx/codelab/fault"
	"github.com/isdmx/codelab/protocol"
)

// Sandbox is the message-level contract between the dispatcher and an
// isolated execution environment. Post never blocks; every accepted request
// eventually produces exactly one result message unless the sandbox reports
// a fatal error or is closed first.
type Sandbox interface {
	// Start begins initialization. Lifecycle progress is reported on Messages.
	// ctx bounds the startup call only, not the sandbox lifetime.
	Start(ctx context.Context) error
	Post(req protocol.Request) error
	// Abandon tells the sandbox the caller no longer waits for id.
	Abandon(id string)
	Messages() <-chan protocol.Message
	Close() error
}

// Factory builds a fresh sandbox for a session or a reinitialization.
type Factory func() (Sandbox, error)

// Output is what a runtime captured from one program run.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runtime is an isolated code-execution runtime. Run reports program
// failures through Output.ExitCode and returns an error only when the
// runtime itself failed or ctx ended.
type Runtime interface {
	Init(ctx context.Context) error
	LoadPackages(ctx context.Context) error
	Run(ctx context.Context, code string) (Output, error)
	Close() error
}

// Phase is the coarse lifecycle position of a sandbox.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseLoading       Phase = "loading"
	PhaseReady         Phase = "ready"
	PhaseErrored       Phase = "errored"
)

// State is a sandbox lifecycle state. Stage is set while loading, Err once errored.
type State struct {
	Phase Phase          `json:"phase"`
	Stage protocol.Stage `json:"stage,omitempty"`
	Err   string         `json:"error,omitempty"`
}

func (s State) order() int {
	switch s.Phase {
	case PhaseLoading:
		switch s.Stage {
		case protocol.StageInit:
			return 1
		case protocol.StagePackages:
			return 2
		default:
			return 3
		}
	case PhaseReady:
		return 4
	case PhaseErrored:
		return 5
	default:
		return 0
	}
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic. Errored is reachable from anywhere and terminal.
func (s State) CanTransition(next State) bool {
	if s.Phase == PhaseErrored {
		return false
	}
	if next.Phase == PhaseErrored {
		return true
	}
	return next.order() > s.order()
}

// ErrorText maps a Post error to the text reported in ExecutionResult.Error.
func ErrorText(err error) string {
	switch {
	case errors.Is(err, fault.ErrBusy):
		return protocol.ErrorBusy
	case errors.Is(err, fault.ErrClosed):
		return protocol.ErrorClosed
	case errors.Is(err, fault.ErrUnavailable):
		return protocol.ErrorUnavailable
	default:
		return err.Error()
	}
}

// Command describes a process to run.
type Command struct {
	Args []string
	Dir  string
	Env  []string // nil inherits the host environment
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, cmd Command) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands.
// Captured streams are capped at MaxOutputBytes when it is positive.
type RealCommandRunner struct {
	MaxOutputBytes int
}

// RunCommand executes the given command with arguments
func (r RealCommandRunner) RunCommand(ctx context.Context, c Command) (stdout, stderr string, exitCode int, err error) {
	if len(c.Args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...) //nolint:gosec // Running submitted code is the purpose
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	// The program runs under a shell, so cancellation must reach the whole group.
	killProcessGroupOnCancel(cmd)
	cmd.WaitDelay = 2 * time.Second

	stdoutBuf := newLimitedBuffer(r.MaxOutputBytes)
	stderrBuf := newLimitedBuffer(r.MaxOutputBytes)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else if ctx.Err() == nil {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission and size constants
const (
	DirPermission  = 0755
	FilePermission = 0644
	BytesPerKB     = 1024
)

// MaxErrorBytes caps the error text derived from stderr.
const MaxErrorBytes = 4 * BytesPerKB

// TruncationMarker ends captured output that hit the size cap.
const TruncationMarker = "\n... (output truncated)"

// limitedBuffer keeps the first limit bytes written to it and silently
// drops the rest, so a chatty program cannot exhaust host memory.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}

// executionError derives the result error of a finished program: empty on
// success, otherwise the last meaningful stderr line (the exception line of
// a traceback) or the exit status.
func executionError(out Output) string {
	if out.ExitCode == 0 {
		return ""
	}
	lines := strings.Split(strings.TrimSuffix(out.Stderr, TruncationMarker), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			if len(line) > MaxErrorBytes {
				line = strings.ToValidUTF8(line[:MaxErrorBytes], "") + TruncationMarker
			}
			return line
		}
	}
	return fmt.Sprintf("exit status %d", out.ExitCode)
}
