package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internalhttp "github.com/EternisAI/fleet-enroll/internal/api/http"
	"github.com/EternisAI/fleet-enroll/internal/db"
	"github.com/EternisAI/fleet-enroll/internal/maintenance"
	"github.com/EternisAI/fleet-enroll/internal/metrics"
	"github.com/EternisAI/fleet-enroll/internal/provisioner"
	"github.com/EternisAI/fleet-enroll/internal/runs"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
)

func runServe(args []string) int {
	var (
		configFile string
		port       uint
	)

	flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flagSet.StringVar(&configFile, "config", "", "path to a config file (default: ./application.yaml)")
	flagSet.UintVar(&port, "port", 0, "HTTP port (overrides http.port)")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	InitConfig(configFile)
	if port != 0 {
		config.Http.Port = port
	}

	if err := serve(config); err != nil {
		slog.Error("Server error", "error", err)
		return 1
	}
	return 0
}

func openRunStore(ctx context.Context, cfg Config) (runs.Store, *pgxpool.Pool, error) {
	if !cfg.Database.Enabled() {
		slog.Info("Run history kept in memory", "capacity", cfg.Provision.HistorySize)
		return runs.NewMemoryStore(cfg.Provision.HistorySize), nil, nil
	}

	if err := db.RunMigrations(ctx, cfg.Database); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	pool, err := db.InitDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return runs.NewPostgresStore(pool), pool, nil
}

func serve(cfg Config) error {
	if err := cfg.Maintenance.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, pool, err := openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	observers := []provisioner.Observer{runs.NewRecorder(store)}
	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder(cfg.Metrics)
		observers = append(observers, recorder)
	}

	comps, err := buildComponents(ctx, cfg, false, observers...)
	if err != nil {
		return err
	}

	services := &internalhttp.Services{
		Provisioner: comps.orchestrator,
		Runs:        store,
	}
	if recorder != nil {
		services.Metrics = recorder.Handler()
	}

	var wg sync.WaitGroup
	if cfg.Maintenance.Enabled {
		var opts []maintenance.Option
		if recorder != nil {
			opts = append(opts, maintenance.WithObserver(recorder))
		}
		loop := maintenance.NewLoop(
			maintenance.NewDocumentTask(comps.client, comps.auth, cfg.Maintenance.Document),
			cfg.Maintenance.Interval,
			opts...,
		)
		services.Maintenance = loop

		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Start(ctx)
		}()
	}

	if cfg.Provision.RunOnStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := comps.orchestrator.Run(ctx); err != nil {
				slog.Error("Startup provisioning run failed", "error", err)
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, cfg.Http, services)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Http.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var serveErr error
	select {
	case serveErr = <-errChan:
		stop()
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	wg.Wait()
	slog.Info("Shutdown complete")
	return serveErr
}
