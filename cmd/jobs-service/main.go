// jobs-service is the HTTP API server for submitting and tracking simulation jobs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"simjobs/internal/api"
	"simjobs/internal/auth"
	"simjobs/internal/config"
	"simjobs/internal/dispatcher"
	"simjobs/internal/health"
	"simjobs/internal/job"
	"simjobs/internal/observability"
	"simjobs/internal/queue"
	"simjobs/internal/reconcile"
	"simjobs/internal/simulation"
	"simjobs/internal/store"
	"simjobs/internal/worker"
	"sync"
	"syscall"
	"time"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	storeCfg := store.LoadConfigFromEnv()
	queueCfg := queue.LoadConfigFromEnv()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()
	reconcileCfg := reconcile.LoadConfigFromEnv()

	shutdownTracing, err := observability.InitTracing(ctx, "jobs-service", observability.LoadTracingConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("Tracer shutdown error", "error", err)
		}
	}()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Open job store (runs migrations for SQL backends)
	backend, err := store.Open(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	slog.Info("Job store ready", "driver", storeCfg.Driver)

	q, err := queue.Open(ctx, svcCfg.QueueBackend, queueCfg)
	if err != nil {
		return err
	}
	defer q.Close()
	slog.Info("Queue ready", "backend", svcCfg.QueueBackend)

	jobDispatcher := dispatcher.New(backend, q, dispatcherCfg, metrics)
	reconciler := reconcile.New(backend, jobDispatcher, reconcileCfg, metrics)
	authService := auth.NewService(backend, auth.Config{Secret: []byte(svcCfg.JWTSecret)})

	// Background work: periodic reconciliation, plus an embedded worker when
	// the queue lives in this process.
	var background sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	background.Add(1)
	go func() {
		defer background.Done()
		reconciler.Run(workerCtx)
	}()

	if svcCfg.QueueBackend == queue.BackendMemory {
		model := simulation.NewModel(simulation.LoadConfigFromEnv())
		w := worker.New(backend, q, model, worker.LoadConfigFromEnv(), metrics)
		background.Add(1)
		go func() {
			defer background.Done()
			if err := w.Run(workerCtx); err != nil {
				slog.Error("Embedded worker stopped", "error", err)
			}
		}()
		slog.Warn("Using in-memory queue with an embedded worker; queued jobs do not survive a restart")
	}

	// Create health checker
	healthChecker := health.NewChecker(map[string]health.ReadinessChecker{
		"store": backend,
		"queue": q,
	})

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		JobService:    job.NewService(backend),
		Dispatcher:    jobDispatcher,
		Auth:          authService,
		HealthChecker: healthChecker,
		Reconciler:    reconciler,
		Metrics:       metrics,
		AdminAPIKey:   svcCfg.AdminAPIKey,
	})

	if svcCfg.AdminAPIKey == "" {
		slog.Warn("Operator endpoints disabled - no ADMIN_API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		stopWorkers()
		shutdown(5 * time.Second)
		background.Wait()
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(svcCfg.ShutdownTimeout)

	// Phase 3: Stop background work. An interrupted job is handed back to the queue.
	stopWorkers()
	background.Wait()

	stats := jobDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"batches", stats.Batches,
		"created", stats.Created,
		"published", stats.Published,
		"publishFailed", stats.PublishFailed,
		"redispatched", stats.Redispatched,
	)
	slog.Info("Shutdown complete")
	return nil
}
