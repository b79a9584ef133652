package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eytandecker/flightgear-telemetry/internal/api"
	"github.com/eytandecker/flightgear-telemetry/internal/camera"
	"github.com/eytandecker/flightgear-telemetry/internal/config"
	"github.com/eytandecker/flightgear-telemetry/internal/hub"
	"github.com/eytandecker/flightgear-telemetry/internal/logging"
	internalmcp "github.com/eytandecker/flightgear-telemetry/internal/mcp"
	"github.com/eytandecker/flightgear-telemetry/internal/metrics"
	"github.com/eytandecker/flightgear-telemetry/internal/recorder"
)

const (
	pruneInterval   = 10 * time.Minute
	shutdownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv("FLIGHTGEAR_CONFIG"), "path to the YAML config file")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools over stdio")
	flag.Parse()

	if err := run(*configPath, *serveMCP); err != nil {
		slog.Error("flightgear-telemetry exited", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, serveMCP bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(cfg.Logging))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	mc := metrics.NewCollector()

	var rec *recorder.Recorder
	if cfg.Storage.Driver != "" {
		rec, err = recorder.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer rec.Close()
		if cfg.Storage.Retention > 0 {
			go rec.RunPruner(ctx, cfg.Storage.Retention, pruneInterval)
		}
		slog.Info("recorder: enabled", "driver", cfg.Storage.Driver, "retention", cfg.Storage.Retention)
	}

	h := hub.New(hub.Options{
		Polling: cfg.Polling,
		Camera: camera.Config{
			Timeout:     cfg.Camera.Timeout,
			MinInterval: cfg.Camera.MinInterval,
		},
		Metrics:  mc,
		Recorder: rec,
	})
	defer h.Close()

	// Simulators that are not reachable yet are retried in the background.
	h.Reconcile(ctx, cfg.Simulators)

	if configPath != "" {
		go func() {
			settings := newRestartSettings(cfg)
			err := config.Watch(ctx, configPath, func(next config.Config) {
				if settings.changed(next) {
					slog.Warn("config: only simulators reload live; other changes take effect after restart")
				}
				h.Reconcile(ctx, next.Simulators)
			})
			if err != nil {
				slog.Error("config: watch failed", "path", configPath, "err", err)
			}
		}()
	}

	errCh := make(chan error, 2)

	var srv *http.Server
	if cfg.Server.Listen != "" {
		srv = &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           api.NewServer(h, mc.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("api: listening", "addr", cfg.Server.Listen)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if serveMCP || cfg.Server.MCP {
		mcpServer := internalmcp.NewServer(internalmcp.HubRegistry{Hub: h})
		go func() {
			// The stdio session ending means the client went away.
			if err := mcpServer.Run(ctx); !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			slog.Error("api: shutdown", "err", serr)
		}
	}
	return err
}

// restartSettings tracks the config sections that are only read at startup.
type restartSettings struct {
	polling config.PollingConfig
	camera  config.CameraConfig
	server  config.ServerConfig
	storage config.StorageConfig
	logging config.LoggingConfig
}

func newRestartSettings(cfg config.Config) *restartSettings {
	return &restartSettings{
		polling: cfg.Polling,
		camera:  cfg.Camera,
		server:  cfg.Server,
		storage: cfg.Storage,
		logging: cfg.Logging,
	}
}

// changed reports whether next differs from the last config seen in any
// section that needs a restart, and remembers next.
func (r *restartSettings) changed(next config.Config) bool {
	n := newRestartSettings(next)
	diff := *n != *r
	*r = *n
	return diff
}
