package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"bundlesync/internal/app"
	"bundlesync/internal/platform/config"
	"bundlesync/internal/platform/httpserver"
	"bundlesync/internal/platform/logger"
	"bundlesync/internal/platform/otel"
)

// main wires dependencies, serves the cron endpoints and shuts down on SIGINT/SIGTERM.
func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close dependencies", "error", err)
		}
	}()

	if cfg.Server.CronSecret == "" {
		log.Warn("CRON_SECRET is not set; every job request will be rejected")
	}

	srv := httpserver.New(cfg.Server.Addr, a.Router())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting bundlesync", "addr", cfg.Server.Addr, "bundle_product", a.Bundle.Product)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return errors.Join(srv.Shutdown(shutdownCtx), shutdownTracing(shutdownCtx))
	})
	return g.Wait()
}
