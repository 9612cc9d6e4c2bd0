package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// runScript stages the program from stdin into a private directory under
// /tmp, runs it there and removes the directory. Arguments: dir, file, command.
const runScript = `set -e
mkdir -p "$1"
cat > "$1/$2"
cd "$1"
set +e
sh -c "$3"
rc=$?
cd /
rm -rf "$1"
exit $rc`

// DockerRuntime keeps one hardened container alive for the whole sandbox
// session and runs each program in it with docker exec.
type DockerRuntime struct {
	logger *zap.Logger
	config *Config

	mu          sync.Mutex
	cli         *client.Client
	containerID string
}

// NewDockerRuntime creates a DockerRuntime. No connection is made until Init.
func NewDockerRuntime(logger *zap.Logger, config *Config) *DockerRuntime {
	return &DockerRuntime{
		logger: logger.Named("docker"),
		config: config,
	}
}

var _ Runtime = (*DockerRuntime)(nil)

// Init connects to the Docker daemon.
func (d *DockerRuntime) Init(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}

	d.mu.Lock()
	d.cli = cli
	d.mu.Unlock()
	return nil
}

// LoadPackages pulls the image, starts the session container and checks
// that the configured packages import.
func (d *DockerRuntime) LoadPackages(ctx context.Context) error {
	d.logger.Info("ensuring docker image is available", zap.String("image", d.config.Language.Image))
	reader, err := d.cli.ImagePull(ctx, d.config.Language.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	// Read everything to block until the pull is complete
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	id, err := d.createContainer(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.containerID = id
	d.mu.Unlock()

	program, err := PackageCheck(d.config.Language.Name, d.config.Packages)
	if err != nil || program == "" {
		return err
	}
	out, err := d.Run(ctx, program)
	if err != nil {
		return fmt.Errorf("failed to load packages: %w", err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("failed to load packages: %s", executionError(out))
	}
	return nil
}

// Run streams code into the session container and executes it.
func (d *DockerRuntime) Run(ctx context.Context, code string) (Output, error) {
	fileName, err := GetCodeFileName(d.config.Language.Name)
	if err != nil {
		return Output{}, err
	}

	d.mu.Lock()
	containerID := d.containerID
	d.mu.Unlock()
	if containerID == "" {
		return Output{}, fmt.Errorf("docker container not started")
	}

	dir := "/tmp/run-" + uuid.NewString()
	execResp, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Env:          Environ(d.config.Language.Env),
		Cmd:          []string{"sh", "-c", runScript, "sh", dir, fileName, d.config.Language.RunCmd},
	})
	if err != nil {
		return Output{}, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return Output{}, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	if _, err := io.Copy(attachResp.Conn, strings.NewReader(ApplyHooks(code, d.config.Language))); err != nil {
		return Output{}, fmt.Errorf("failed to send code: %w", err)
	}
	if err := attachResp.CloseWrite(); err != nil {
		return Output{}, fmt.Errorf("failed to close exec stdin: %w", err)
	}

	stdout := newLimitedBuffer(d.config.MaxOutputBytes)
	stderr := newLimitedBuffer(d.config.MaxOutputBytes)
	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(stdout, stderr, attachResp.Reader)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// An exec cannot be killed on its own; replace the container instead.
		// A closing worker removes the container anyway.
		attachResp.Close()
		<-done
		if !workerStopping(ctx) {
			d.recreate(containerID)
		}
		return Output{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return Output{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: inspect.ExitCode}, nil
}

// Close removes the session container and closes the client.
func (d *DockerRuntime) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cli == nil {
		return nil
	}
	if d.containerID != "" {
		d.removeContainer(d.containerID)
		d.containerID = ""
	}
	err := d.cli.Close()
	d.cli = nil
	return err
}

const containerNanoCPUs = 1e9

var pidsLimit int64 = 64

// createContainer starts a container running `sleep infinity`.
func (d *DockerRuntime) createContainer(ctx context.Context) (string, error) {
	networkMode := container.NetworkMode("none")
	if d.config.NetworkEnabled {
		networkMode = "bridge"
	}

	hostConfig := &container.HostConfig{
		NetworkMode: networkMode,
		Resources: container.Resources{
			Memory:    int64(d.config.MemoryMB) * BytesPerKB * BytesPerKB,
			NanoCPUs:  containerNanoCPUs,
			PidsLimit: &pidsLimit,
		},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,exec"},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: d.config.Language.Image,
		Cmd:   []string{"sleep", "infinity"},
		User:  "nobody",
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.removeContainer(resp.ID)
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}

	d.logger.Debug("session container started", zap.String("id", resp.ID))
	return resp.ID, nil
}

// recreate replaces the session container after an abandoned run.
func (d *DockerRuntime) recreate(old string) {
	d.removeContainer(old)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, err := d.createContainer(ctx)
	if err != nil {
		d.logger.Error("failed to recreate session container", zap.Error(err))
		id = ""
	}

	d.mu.Lock()
	d.containerID = id
	d.mu.Unlock()
}

// removeContainer force removes a container by ID.
func (d *DockerRuntime) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		d.logger.Warn("failed to remove container", zap.String("id", id), zap.Error(err))
	}
}
