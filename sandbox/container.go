package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Container engine binaries driven by ContainerRuntime.
const (
	EnginePodman = "podman"
	EngineDocker = "docker"
)

// ContainerRuntime runs every program in a throwaway container started
// through the engine CLI.
type ContainerRuntime struct {
	logger    *zap.Logger
	config    *Config
	engine    string
	cmdRunner CommandRunner
	fs        FileSystem
}

// ContainerRuntimeOption defines a functional option for ContainerRuntime
type ContainerRuntimeOption func(*ContainerRuntime)

// WithContainerCommandRunner sets the CommandRunner for ContainerRuntime
func WithContainerCommandRunner(cmdRunner CommandRunner) ContainerRuntimeOption {
	return func(c *ContainerRuntime) {
		c.cmdRunner = cmdRunner
	}
}

// WithContainerFileSystem sets the FileSystem for ContainerRuntime
func WithContainerFileSystem(fs FileSystem) ContainerRuntimeOption {
	return func(c *ContainerRuntime) {
		c.fs = fs
	}
}

// NewContainerRuntime creates a ContainerRuntime for the given engine binary.
func NewContainerRuntime(logger *zap.Logger, config *Config, engine string, opts ...ContainerRuntimeOption) *ContainerRuntime {
	runtime := &ContainerRuntime{
		logger:    logger.Named(engine),
		config:    config,
		engine:    engine,
		cmdRunner: RealCommandRunner{MaxOutputBytes: config.MaxOutputBytes},
		fs:        RealFileSystem{},
	}

	for _, opt := range opts {
		opt(runtime)
	}

	return runtime
}

var _ Runtime = (*ContainerRuntime)(nil)

// Init checks that the engine is reachable.
func (c *ContainerRuntime) Init(ctx context.Context) error {
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, Command{Args: []string{c.engine, "version"}})
	if err != nil {
		return fmt.Errorf("failed to run %s: %w", c.engine, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s unavailable: %s", c.engine, failureText(stderr, exitCode))
	}
	return nil
}

// LoadPackages pulls the language image and proves the packages import inside it.
func (c *ContainerRuntime) LoadPackages(ctx context.Context) error {
	c.logger.Info("pulling image", zap.String("image", c.config.Language.Image))
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, Command{Args: []string{c.engine, "pull", c.config.Language.Image}})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("failed to pull image %s: %s", c.config.Language.Image, failureText(stderr, exitCode))
	}

	program, err := PackageCheck(c.config.Language.Name, c.config.Packages)
	if err != nil || program == "" {
		return err
	}
	out, err := c.Run(ctx, program)
	if err != nil {
		return fmt.Errorf("failed to load packages: %w", err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("failed to load packages: %s", executionError(out))
	}
	return nil
}

// Run executes code in a new container with the host directory mounted as /workdir.
func (c *ContainerRuntime) Run(ctx context.Context, code string) (Output, error) {
	fileName, err := GetCodeFileName(c.config.Language.Name)
	if err != nil {
		return Output{}, err
	}

	dir, err := c.fs.MkdirTemp("", "codelab-run-*")
	if err != nil {
		return Output{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := c.fs.RemoveAll(dir); rmErr != nil {
			c.logger.Warn("failed to remove run directory", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	if writeErr := c.fs.WriteFile(filepath.Join(dir, fileName), []byte(ApplyHooks(code, c.config.Language)), FilePermission); writeErr != nil {
		return Output{}, fmt.Errorf("failed to write user code: %w", writeErr)
	}

	name := fmt.Sprintf("codelab-run-%d", time.Now().UnixNano())
	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, Command{Args: c.runArgs(name, dir)})
	if err != nil {
		return Output{}, fmt.Errorf("failed to run container: %w", err)
	}
	if ctx.Err() != nil {
		c.removeContainer(name)
		return Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, ctx.Err()
	}

	return Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func (c *ContainerRuntime) runArgs(name, dir string) []string {
	network := "none"
	if c.config.NetworkEnabled {
		network = "bridge"
	}

	args := []string{
		c.engine, "run",
		"--name", name,
		"--rm",
		"-v", fmt.Sprintf("%s:/workdir", dir),
		"--workdir", "/workdir",
		"--memory", fmt.Sprintf("%dm", c.config.MemoryMB),
		"--network", network,
		"--read-only",
		"--tmpfs", "/tmp:rw,exec",
		"--ulimit", "fsize=100000000",
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
	}
	for _, kv := range Environ(c.config.Language.Env) {
		args = append(args, "-e", kv)
	}

	return append(args, c.config.Language.Image, "sh", "-c", c.config.Language.RunCmd)
}

// removeContainer force-removes a container whose CLI process was killed.
func (c *ContainerRuntime) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, Command{Args: []string{c.engine, "rm", "-f", name}}); err != nil || exitCode != 0 {
		c.logger.Warn("failed to remove container",
			zap.String("container", name),
			zap.String("stderr", stderr),
			zap.Error(err))
	}
}

// Close is a no-op; containers are removed after every run.
func (c *ContainerRuntime) Close() error {
	return nil
}
