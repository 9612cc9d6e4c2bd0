// Package main is the Codelab sandbox worker.
//
// The worker hosts a local runtime behind the sandbox message protocol,
// reading requests as JSON lines on stdin and writing lifecycle and result
// messages to stdout. The server's process backend launches it; running it
// inside a container or VM turns that boundary into the isolation layer.
// Logs go to stderr only.
package main

import (
	"context"
	"errors"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codelab/config"
	"github.com/isdmx/codelab/logger"
	"github.com/isdmx/codelab/sandbox"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			func(log *zap.Logger, cfg *config.Config) (*sandbox.Worker, error) {
				return sandbox.NewWorkerFromConfig(log, cfg, sandbox.BackendLocal)
			},
		),

		fx.Invoke(serve),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

func serve(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger, worker *sandbox.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := sandbox.Serve(ctx, log, worker, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("worker stopped", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			err := worker.Close()
			<-done
			return err
		},
	})
}
