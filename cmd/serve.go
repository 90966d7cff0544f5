package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/okian/mindshare/internal/adapters/http/api"
	"github.com/okian/mindshare/internal/adapters/http/swagger"
	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/config"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	startTimeout          = 30 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loaders, the rollup and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.load(ctx)
			if err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}
}

// serve runs the fx application until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		service.Module,
		fx.Provide(newAPIServer),
		fx.Invoke(runHTTPServer),
		fx.Invoke(runSystemMetrics),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	<-ctx.Done()
	logger.Get().Info(ctx, "shutting down...")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

func newAPIServer(cfg *config.Config, s *service.Service) *api.Server {
	return api.NewServer(s.Query(),
		api.WithMaxLimit(cfg.API.MaxLimit),
		api.WithRateLimit(cfg.API.RateLimit),
		api.WithCORSOrigins(cfg.API.CORSOrigins...),
		api.WithReady(s.Ready),
		api.WithMount(swagger.Register),
		api.WithLogger(logger.Named("api")),
	)
}

// runHTTPServer binds the listener on start so address errors fail startup.
func runHTTPServer(lc fx.Lifecycle, cfg *config.Config, s *api.Server) {
	log := logger.Named("http")
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Addr, err)
			}
			log.Info(ctx, "starting HTTP server", logger.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error(context.Background(), "HTTP server failed", logger.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				log.Error(ctx, "server shutdown failed", logger.Error(err))
				return err
			}
			log.Info(ctx, "server stopped")
			return nil
		},
	})
}

// runSystemMetrics updates the process gauges until the app stops.
func runSystemMetrics(lc fx.Lifecycle) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(systemMetricsInterval)
				defer ticker.Stop()
				for {
					updateSystemMetrics()
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
