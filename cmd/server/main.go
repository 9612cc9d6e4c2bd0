package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codelab/config"
	"github.com/isdmx/codelab/dispatcher"
	"github.com/isdmx/codelab/engine"
	"github.com/isdmx/codelab/httpapi"
	"github.com/isdmx/codelab/logger"
	"github.com/isdmx/codelab/mcpserver"
	"github.com/isdmx/codelab/sandbox"
	"github.com/isdmx/codelab/suite"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,

			// Sandbox factory based on config
			sandbox.NewFactory,

			newDispatcher,

			func(cfg *config.Config) (*suite.Registry, error) {
				return suite.LoadDir(cfg.Suites.Dir)
			},

			func(log *zap.Logger, d *dispatcher.Dispatcher, suites *suite.Registry) *engine.Engine {
				return engine.New(log, d, suites)
			},
		),

		fx.Invoke(startTransport),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

// newDispatcher ties the sandbox session to the application lifecycle.
func newDispatcher(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, factory sandbox.Factory) *dispatcher.Dispatcher {
	d := dispatcher.New(log, factory, dispatcher.WithTimeout(cfg.GetTimeout()))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Start(ctx); err != nil {
				// The session reports the failure on every call until restarted.
				log.Error("sandbox failed to start", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return d.Close()
		},
	})

	return d
}

func startTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, eng *engine.Engine) error {
	switch cfg.Server.Transport {
	case "stdio", "http":
		server, err := mcpserver.New(cfg, log, eng)
		if err != nil {
			return err
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					serve := server.ServeHTTP
					if cfg.Server.Transport == "stdio" {
						serve = server.ServeStdio
					}
					if err := serve(); err != nil {
						log.Error("MCP server stopped", zap.Error(err))
					}
					_ = shutdowner.Shutdown()
				}()
				return nil
			},
			OnStop: server.Shutdown,
		})
	case "rest":
		server := httpapi.New(cfg, log, eng)
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				return server.Start()
			},
			OnStop: server.Shutdown,
		})
	default:
		panic("unsupported transport: " + cfg.Server.Transport)
	}
	return nil
}
