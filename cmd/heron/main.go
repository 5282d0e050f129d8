// Command heron runs the push/store server: long-poll delivery to
// connected clients (Component B) fed by a replicated, per-domain
// key/value store (Components C/D) over a fixed HTTP surface
// (Component E).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/calfeld/heron/internal/httpapi"
	"github.com/calfeld/heron/internal/monitoring"
	"github.com/calfeld/heron/internal/push"
	"github.com/calfeld/heron/internal/store"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides HERON_LOG_LEVEL)")
	flag.Parse()

	cfg, err := LoadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
		cfg.Print()
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  monitoring.LogLevel(cfg.LogLevel),
		Format: monitoring.LogFormat(cfg.LogFormat),
	})
	cfg.LogConfig(logger)

	metrics := monitoring.NewMetrics()
	hooks := push.LoggingHooks{Logger: logger}

	p, err := push.New(push.Config{
		ClientTimeout:  cfg.ClientTimeout,
		ReceiveTimeout: cfg.ReceiveTimeout,
		Hooks:          hooks,
		HookPoolSize:   cfg.HookPoolSize,
		HookQueueSize:  cfg.HookQueueSize,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct push core")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	st := store.New(store.Config{
		DBPath:      cfg.DBPath,
		CheckPeriod: cfg.CheckPeriod,
		Push:        p,
		Hooks:       hooks,
		Metrics:     metrics,
		Logger:      logger,
	})

	api := httpapi.New(httpapi.Config{
		CometPrefix: cfg.CometPrefix,
		StorePrefix: cfg.StorePrefix,
		Push:        p,
		Store:       st,
		Metrics:     metrics,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: api,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("heron listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during http shutdown")
	}

	st.Shutdown()
	cancel()
	p.Shutdown()

	logger.Info().Msg("heron stopped")
}
