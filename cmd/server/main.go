package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codecell/config"
	"github.com/isdmx/codecell/dispatcher"
	"github.com/isdmx/codecell/logger"
	"github.com/isdmx/codecell/mcpserver"
	"github.com/isdmx/codecell/monitor"
	"github.com/isdmx/codecell/runstate"
	"github.com/isdmx/codecell/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Observability
			monitor.NewMetrics,
			monitor.NewTracer,

			// Run state shared by the dispatcher and the tools
			runstate.NewTracker,

			// Sandbox backends based on config
			sandbox.NewBackends,

			dispatcher.New,

			// MCP Server
			mcpserver.New,
		),

		fx.Invoke(registerBackends, serveMetrics),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

// registerBackends releases sandbox resources on shutdown.
func registerBackends(lc fx.Lifecycle, backends *sandbox.Backends) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			backends.Close(ctx)
			return nil
		},
	})
}

// serveMetrics exposes the Prometheus registry when a metrics port is set.
func serveMetrics(lc fx.Lifecycle, cfg *config.Config, metrics *monitor.Metrics, log *zap.Logger) {
	if cfg.Server.MetricsPort <= 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("serving metrics", zap.Int("port", cfg.Server.MetricsPort))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
