package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/corral/internal/control"
	"github.com/jbweber/corral/internal/vm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch managed domains and handle their lifecycle events",
	Long: `Load every domain, adopt the guests corral launched earlier and react to
guest shutdowns, crashes and reboots until interrupted.

The other corral commands talk to this process over control.socket, so a
domain started from the command line is watched like any other.

Prometheus metrics are served on metrics.addr unless it is empty.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		svc, err := vm.Open(ctx, cfg, log, reg)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := svc.Close(); closeErr != nil {
				log.Warn("failed to close libvirt connection", zap.Error(closeErr))
			}
		}()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return svc.Run(ctx) })

		// Every other command reaches the manager through this socket.
		g.Go(func() error {
			return control.NewServer(svc.Manager, log).Serve(ctx, cfg.Control.Socket)
		})

		if cfg.Metrics.Addr != "" {
			srv := &http.Server{
				Addr:              cfg.Metrics.Addr,
				Handler:           metricsHandler(reg),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		log.Info("corral serving",
			zap.Int("active", svc.CountActive()),
			zap.Int("inactive", svc.CountInactive()))
		err = g.Wait()
		log.Info("corral stopped")
		return err
	},
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
