package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalRuntime runs code directly on the host (WARNING: not isolated, for development only)
type LocalRuntime struct {
	logger    *zap.Logger
	config    *Config
	cmdRunner CommandRunner
	fs        FileSystem
}

// LocalRuntimeOption defines a functional option for LocalRuntime
type LocalRuntimeOption func(*LocalRuntime)

// WithLocalCommandRunner sets the CommandRunner for LocalRuntime
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.cmdRunner = cmdRunner
	}
}

// WithLocalFileSystem sets the FileSystem for LocalRuntime
func WithLocalFileSystem(fs FileSystem) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.fs = fs
	}
}

// NewLocalRuntime creates a new LocalRuntime with default implementations and optional interfaces
func NewLocalRuntime(logger *zap.Logger, config *Config, opts ...LocalRuntimeOption) *LocalRuntime {
	runtime := &LocalRuntime{
		logger:    logger.Named("local"),
		config:    config,
		cmdRunner: RealCommandRunner{MaxOutputBytes: config.MaxOutputBytes},
		fs:        RealFileSystem{},
	}

	for _, opt := range opts {
		opt(runtime)
	}

	return runtime
}

var _ Runtime = (*LocalRuntime)(nil)

// Init verifies that the language toolchain is installed.
func (l *LocalRuntime) Init(ctx context.Context) error {
	if l.config.Language.CheckCmd == "" {
		return nil
	}
	_, stderr, exitCode, err := l.cmdRunner.RunCommand(ctx, Command{Args: []string{"sh", "-c", l.config.Language.CheckCmd}})
	if err != nil {
		return fmt.Errorf("failed to run toolchain check: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s toolchain unavailable: %s", l.config.Language.Name, failureText(stderr, exitCode))
	}
	return nil
}

// LoadPackages proves the configured packages can be imported.
func (l *LocalRuntime) LoadPackages(ctx context.Context) error {
	program, err := PackageCheck(l.config.Language.Name, l.config.Packages)
	if err != nil {
		return err
	}
	if program == "" {
		return nil
	}

	out, err := l.Run(ctx, program)
	if err != nil {
		return fmt.Errorf("failed to load packages: %w", err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("failed to load packages: %s", executionError(out))
	}
	l.logger.Info("packages loaded", zap.Strings("packages", l.config.Packages))
	return nil
}

// Run writes code into a fresh directory and executes it there.
func (l *LocalRuntime) Run(ctx context.Context, code string) (Output, error) {
	fileName, err := GetCodeFileName(l.config.Language.Name)
	if err != nil {
		return Output{}, err
	}

	dir, err := l.fs.MkdirTemp("", "codelab-run-*")
	if err != nil {
		return Output{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := l.fs.RemoveAll(dir); rmErr != nil {
			l.logger.Warn("failed to remove run directory", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	if writeErr := l.fs.WriteFile(filepath.Join(dir, fileName), []byte(ApplyHooks(code, l.config.Language)), FilePermission); writeErr != nil {
		return Output{}, fmt.Errorf("failed to write user code: %w", writeErr)
	}

	env := append([]string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"TMPDIR=" + dir,
	}, Environ(l.config.Language.Env)...)

	stdout, stderr, exitCode, err := l.cmdRunner.RunCommand(ctx, Command{
		Args: []string{"sh", "-c", l.config.Language.RunCmd},
		Dir:  dir,
		Env:  env,
	})
	if err != nil {
		return Output{}, fmt.Errorf("failed to execute code: %w", err)
	}
	if ctx.Err() != nil {
		return Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, ctx.Err()
	}

	return Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// Close is a no-op; every run cleans up after itself.
func (l *LocalRuntime) Close() error {
	return nil
}

func failureText(stderr string, exitCode int) string {
	return executionError(Output{Stderr: stderr, ExitCode: max(exitCode, 1)})
}
