package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrortap/mirrortap/internal/config"
	"github.com/mirrortap/mirrortap/internal/event"
	"github.com/mirrortap/mirrortap/internal/history"
	"github.com/mirrortap/mirrortap/internal/history/factory"
	"github.com/mirrortap/mirrortap/internal/logger"
	"github.com/mirrortap/mirrortap/internal/metrics"
	"github.com/mirrortap/mirrortap/internal/proxy"
	"github.com/mirrortap/mirrortap/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// createServeCommand runs the batch ingestion collector until interrupted.
func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local event collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return err
			}
			log := logger.NewLogger(os.Stderr, flags.LogLevel, flags.LogColor)

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			opts := []server.Option{
				server.WithNameField(cfg.Server.NameField),
				server.WithLogger(log),
			}
			var sink history.Sink
			if cfg.Server.HistoryDSN != "" {
				sink, err = factory.NewSinkFromDSN(cfg.Server.HistoryDSN)
				if err != nil {
					return fmt.Errorf("open history sink: %w", err)
				}
				opts = append(opts, server.WithArchive(sink))
				log.Info("event archive enabled", "dsn", cfg.Server.HistoryDSN)
			}

			store := event.NewStore()
			srv, _, err := server.NewServer(cfg.Server.Listen, "", store, opts...)
			if err != nil {
				return fmt.Errorf("bind collector on %s: %w", cfg.Server.Listen, err)
			}
			log.Info("collector listening", "addr", cfg.Server.Listen)

			if cfg.Server.MetricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", metrics.Handler())
					msrv := &http.Server{
						Addr:              cfg.Server.MetricsAddr,
						Handler:           mux,
						ReadHeaderTimeout: 10 * time.Second,
					}
					if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Warn("metrics server stopped", "error", err)
					}
				}()
				log.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
			}

			waitForSignal()
			log.Info("shutting down collector")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
			if c, ok := sink.(history.Closer); ok {
				_ = c.Close()
			}
			return nil
		},
	}
}

// createProxyCommand runs the intercepting proxy with the mirror addon.
// All addon knobs are readable from MIRRORTAP_* environment variables so the
// supervisor can launch this command with zero file configuration.
func createProxyCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "proxy",
		Short: "Run the intercepting proxy with the mirror addon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return err
			}
			log := logger.NewLogger(os.Stderr, flags.LogLevel, flags.LogColor)

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return proxy.Run(ctx, cfg, log)
		},
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
