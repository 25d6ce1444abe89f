package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal_hub/internal/config"
	"signal_hub/internal/database"
	"signal_hub/internal/hub"
	"signal_hub/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var journal *database.Journal
	if cfg.Journal.Enabled {
		db, err := database.Open(cfg.Journal.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(db); err != nil {
				slog.Error("failed to close journal database", "error", err)
			}
		}()
		journal = database.NewJournal(db)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Assigning a nil *Journal to the interface would make it non-nil.
	var presence hub.PresenceJournal
	if journal != nil {
		presence = journal
	}
	h := hub.NewHub(reg, presence)

	controller := NewController(ctx, h, journal, reg, cfg.AllowedOrigins, hub.ClientOptions{
		SendBuffer:     cfg.WebSocket.SendBuffer,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           controller.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("signal hub listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		slog.Info("HTTP server shutdown completed")
		return nil
	})

	return g.Wait()
}
