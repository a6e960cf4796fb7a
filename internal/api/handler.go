// Package api provides the HTTP API handlers and routing for the jobs service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"simjobs/internal/apperrors"
	"simjobs/internal/auth"
	"simjobs/internal/health"
	"simjobs/internal/job"
	"simjobs/internal/reconcile"

	"github.com/gorilla/mux"
)

// maxRequestBodySize limits request bodies and uploaded templates to 1MB
const maxRequestBodySize = 1 << 20 // 1 MB

// BatchSubmitter creates jobs and enqueues them.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, ownerID string, template job.Parameters, count int) ([]job.Job, error)
	MaxBatchSize() int
}

// Sweeper runs an on-demand reconciliation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (reconcile.Report, error)
}

// Handler contains HTTP handlers for the jobs API
type Handler struct {
	jobs       *job.Service
	dispatcher BatchSubmitter
	auth       *auth.Service
	health     *health.Checker
	sweeper    Sweeper
}

// NewHandler creates a new API handler
func NewHandler(jobs *job.Service, d BatchSubmitter, authSvc *auth.Service, healthChecker *health.Checker, sweeper Sweeper) *Handler {
	return &Handler{
		jobs:       jobs,
		dispatcher: d,
		auth:       authSvc,
		health:     healthChecker,
		sweeper:    sweeper,
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type batchResponse struct {
	Jobs []job.Job `json:"jobs"`
}

type verifyResponse struct {
	Valid bool      `json:"valid"`
	User  tokenUser `json:"user"`
}

type tokenUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Register handles POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Verify handles GET /api/auth/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid: true,
		User:  tokenUser{ID: claims.UserID(), Username: claims.Username},
	})
}

// SubmitBatch handles POST /api/jobs/batch
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	// Fields missing from the template keep their defaults.
	req := job.BatchRequest{Template: job.DefaultParameters()}
	if !h.decodeJSON(w, r, &req) {
		return
	}

	jobs, err := h.dispatcher.SubmitBatch(r.Context(), ownerID(r), req.Template, req.Count)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, batchResponse{Jobs: jobs})
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	resp, err := h.jobs.List(r.Context(), ownerID(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(r.Context(), mux.Vars(r)["id"], ownerID(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, j)
}

// DeleteJob handles DELETE /api/jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.jobs.Delete(r.Context(), id, ownerID(r)); err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "message": "Job deleted"})
}

// GetResult handles GET /api/jobs/{id}/result
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	resp, err := h.jobs.Result(r.Context(), mux.Vars(r)["id"], ownerID(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reconcile handles POST /internal/reconcile - runs one sweep immediately.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the job store or the queue is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}

// ownerID returns the authenticated user id. Routes serving it sit behind RequireUser.
func ownerID(r *http.Request) string {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID()
}

// decodeJSON reads a size-limited JSON body into v, writing a 400 on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", status)
	}

	resp := errorResponse{Error: err.Error()}
	if status >= 500 {
		// Infrastructure details stay in the log.
		resp.Error = http.StatusText(status)
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	}
	writeJSON(w, status, resp)
}
