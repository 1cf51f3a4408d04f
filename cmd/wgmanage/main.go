// Command wgmanage runs the WireGuard session manager: a tick loop that
// reconciles live peer state into the session state machine, and an HTTP
// API for dashboards and user administration.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cercky/wireguard-manage/internal/adapter"
	"github.com/cercky/wireguard-manage/internal/api"
	"github.com/cercky/wireguard-manage/internal/config"
	"github.com/cercky/wireguard-manage/internal/metrics"
	"github.com/cercky/wireguard-manage/internal/session"
	"github.com/cercky/wireguard-manage/internal/stats"
	"github.com/cercky/wireguard-manage/internal/store"
	"github.com/cercky/wireguard-manage/internal/useradmin"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// shuttingDown lets a future readiness probe answer honestly mid-drain.
var shuttingDown atomic.Bool

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := config.NewLogger(cfg.Debug)
	log.Info("starting wgmanage", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	wgAdapter := adapter.New(cfg.Interface, cfg.WGBinary, &adapter.ExecCommandRunner{Timeout: 10 * time.Second}, log)
	aggregator := stats.New(db)

	engine := session.New(db, wgAdapter, aggregator, log, session.Config{
		MaxHandshakeAge: cfg.MaxHandshakeAge,
		Interval:        cfg.TickInterval,
	})

	admin := useradmin.New(db, engine, wgAdapter, log)
	server := api.NewServer(db, engine, wgAdapter, aggregator, admin, log)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			log.Warn("failed to start metrics listener", "error", err)
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsServer = &http.Server{Handler: mux}
			go func() {
				log.Info("metrics server listening", "addr", listener.Addr().String())
				if err := metricsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}
	}

	go engine.Run(ctx)

	go func() {
		log.Info("http server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining")
	shuttingDown.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", "error", err)
		}
	}

	log.Info("shutdown complete")
	return nil
}
