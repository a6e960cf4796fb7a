// simulation-worker consumes queued jobs, runs the tumor model and records results.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"simjobs/internal/config"
	"simjobs/internal/dispatcher"
	"simjobs/internal/health"
	"simjobs/internal/observability"
	"simjobs/internal/queue"
	"simjobs/internal/reconcile"
	"simjobs/internal/simulation"
	"simjobs/internal/store"
	"simjobs/internal/worker"
	"syscall"
	"time"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	svcCfg := config.LoadServiceConfig()
	if svcCfg.QueueBackend == queue.BackendMemory {
		// A process-local queue is only reachable from jobs-service itself.
		return fmt.Errorf("QUEUE_BACKEND=%s cannot be consumed by a separate worker; jobs-service runs one embedded", queue.BackendMemory)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := observability.InitTracing(ctx, "simulation-worker", observability.LoadTracingConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("Tracer shutdown error", "error", err)
		}
	}()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	backend, err := store.Open(ctx, store.LoadConfigFromEnv())
	if err != nil {
		return err
	}
	defer backend.Close()

	q, err := queue.Open(ctx, svcCfg.QueueBackend, queue.LoadConfigFromEnv())
	if err != nil {
		return err
	}
	defer q.Close()

	healthChecker := health.NewChecker(map[string]health.ReadinessChecker{
		"store": backend,
		"queue": q,
	})

	// Probes and metrics share one port; the worker serves no API.
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		writeProbe(w, http.StatusOK, healthChecker.Liveness(r.Context()))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthChecker.Readiness(r.Context())
		status := http.StatusOK
		if !resp.IsHealthy() {
			status = http.StatusServiceUnavailable
		}
		writeProbe(w, status, resp)
	})
	probeServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting probe server", "port", svcCfg.MetricsPort)
		if err := probeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Probe server failed", "error", err)
			cancel()
		}
	}()

	// Stale job repair runs here too so a deployment without jobs-service
	// replicas still recovers crashed attempts.
	reconcileCfg := reconcile.LoadConfigFromEnv()
	redispatcher := dispatcher.New(backend, q, dispatcher.LoadConfigFromEnv(), metrics)
	reconciler := reconcile.New(backend, redispatcher, reconcileCfg, metrics)
	reconcileDone := make(chan struct{})
	go func() {
		defer close(reconcileDone)
		reconciler.Run(ctx)
	}()

	model := simulation.NewModel(simulation.LoadConfigFromEnv())
	w := worker.New(backend, q, model, worker.LoadConfigFromEnv(), metrics)

	slog.Info("Worker started", "queue_backend", svcCfg.QueueBackend)
	runErr := w.Run(ctx)

	healthChecker.SetShuttingDown()
	cancel()
	<-reconcileDone

	shutdownCtx, stop := context.WithTimeout(context.Background(), svcCfg.ShutdownTimeout)
	defer stop()
	if err := probeServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Probe server shutdown error", "error", err)
	}

	stats := w.Stats()
	slog.Info("Worker stopped",
		"claimed", stats.Claimed,
		"done", stats.Done,
		"retried", stats.Retried,
		"failed", stats.Failed,
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func writeProbe(w http.ResponseWriter, status int, resp *health.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode probe response", "error", err)
	}
}
