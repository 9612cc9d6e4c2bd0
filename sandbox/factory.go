package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/codelab/config"
)

// Backend names accepted by NewFactory.
const (
	BackendDocker  = "docker"
	BackendPodman  = "podman"
	BackendLocal   = "local"
	BackendProcess = "process"
)

// NewRuntime creates the runtime for an in-process backend.
func NewRuntime(logger *zap.Logger, cfg *config.Config, backend string) (Runtime, error) {
	runtimeConfig := NewConfig(cfg)

	switch backend {
	case BackendDocker:
		return NewDockerRuntime(logger, runtimeConfig), nil
	case BackendPodman:
		return NewContainerRuntime(logger, runtimeConfig, EnginePodman), nil
	case BackendLocal:
		return NewLocalRuntime(logger, runtimeConfig), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewWorkerFromConfig creates a Worker for backend with the configured busy
// policy and queue size.
func NewWorkerFromConfig(logger *zap.Logger, cfg *config.Config, backend string) (*Worker, error) {
	runtime, err := NewRuntime(logger, cfg, backend)
	if err != nil {
		return nil, err
	}
	return NewWorker(logger, runtime,
		WithBusyPolicy(BusyPolicy(cfg.Sandbox.BusyPolicy)),
		WithQueueSize(cfg.Sandbox.QueueSize),
		WithDrainTimeout(cfg.GetTimeout()),
	), nil
}

// NewFactory returns a Factory building sandboxes for the configured backend.
func NewFactory(logger *zap.Logger, cfg *config.Config) (Factory, error) {
	backend := cfg.Sandbox.Backend

	switch backend {
	case BackendProcess:
		path := cfg.Sandbox.WorkerPath
		return func() (Sandbox, error) {
			return NewRemote(logger, path, nil, nil), nil
		}, nil
	case BackendDocker, BackendPodman, BackendLocal:
		return func() (Sandbox, error) {
			return NewWorkerFromConfig(logger, cfg, backend)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}
