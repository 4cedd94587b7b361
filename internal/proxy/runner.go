package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mirrortap/mirrortap/internal/config"
	"github.com/mirrortap/mirrortap/internal/mirror"
)

// Run binds the proxy and health listeners and serves until ctx is
// cancelled. Bind failures are returned immediately: a proxy that cannot
// listen is a fatal setup error, not something to retry.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var addon *mirror.Addon
	if cfg.Mirror.Enabled {
		addon = mirror.New(mirror.Config{
			Target: mirror.Target{
				Host: cfg.Mirror.TargetHost,
				Path: cfg.Mirror.TargetPath,
			},
			CollectorURL: cfg.Mirror.CollectorURL,
			Timeout:      cfg.Mirror.ForwardTimeout,
			QueueSize:    cfg.Mirror.QueueSize,
			Logger:       logger,
		})
		defer addon.Close()
		logger.Info("mirror addon enabled",
			"target_host", cfg.Mirror.TargetHost,
			"target_path", cfg.Mirror.TargetPath,
			"collector", cfg.Mirror.CollectorURL)
	} else {
		logger.Info("mirror addon disabled, running as transparent proxy")
	}

	opts := []Option{WithLogger(logger)}
	if addon != nil {
		opts = append(opts, WithAddon(addon))
	}
	p := New(opts...)

	ln, err := net.Listen("tcp", cfg.Proxy.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var healthSrv *http.Server
	if cfg.Proxy.HealthListen != "" {
		hln, err := net.Listen("tcp", cfg.Proxy.HealthListen)
		if err != nil {
			_ = ln.Close()
			return err
		}
		healthSrv = &http.Server{
			Handler:           NewHealthHandler(cfg.Proxy.Listen),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() { _ = healthSrv.Serve(hln) }()
		logger.Info("health endpoint listening", "addr", cfg.Proxy.HealthListen)
	}

	logger.Info("proxy listening", "addr", cfg.Proxy.Listen)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if healthSrv != nil {
			_ = healthSrv.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		if healthSrv != nil {
			_ = healthSrv.Close()
		}
		return err
	}
}
