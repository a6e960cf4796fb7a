package api

import (
	"net/http"
	"simjobs/internal/auth"
	"simjobs/internal/health"
	"simjobs/internal/job"
	"simjobs/internal/observability"

	"github.com/gorilla/mux"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService    *job.Service
	Dispatcher    BatchSubmitter
	Auth          *auth.Service
	HealthChecker *health.Checker
	Reconciler    Sweeper
	Metrics       *observability.Metrics
	AdminAPIKey   string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.Dispatcher, cfg.Auth, cfg.HealthChecker, cfg.Reconciler)

	router := mux.NewRouter()

	// Health check endpoints (liveness/readiness probes) - no auth required
	router.HandleFunc("/livez", handler.Livez).Methods(http.MethodGet)
	router.HandleFunc("/readyz", handler.Readyz).Methods(http.MethodGet)

	// Operator endpoints - admin key required
	internal := router.PathPrefix("/internal").Subrouter()
	internal.Use(AdminKeyMiddleware(cfg.AdminAPIKey))
	internal.HandleFunc("/reconcile", handler.Reconcile).Methods(http.MethodPost)

	// Public auth endpoints
	router.HandleFunc("/api/auth/register", handler.Register).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", handler.Login).Methods(http.MethodPost)

	// Everything else under /api requires a user token
	api := router.PathPrefix("/api").Subrouter()
	api.Use(RequireUser(cfg.Auth))
	api.HandleFunc("/auth/verify", handler.Verify).Methods(http.MethodGet)
	api.HandleFunc("/jobs/batch", handler.SubmitBatch).Methods(http.MethodPost)
	api.HandleFunc("/jobs/import", handler.ImportTemplate).Methods(http.MethodPost)
	api.HandleFunc("/jobs", handler.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", handler.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", handler.DeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/result", handler.GetResult).Methods(http.MethodGet)

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = router
	h = ContentTypeMiddleware("/api/jobs/import")(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
