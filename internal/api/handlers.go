// Package api exposes the memory backend over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/amelabs/ame/internal/memory"
	"github.com/amelabs/ame/internal/repository"
	"github.com/amelabs/ame/internal/scheduler"
	"github.com/amelabs/ame/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	defaultImportance  = 0.5
)

// Repo abstracts the hybrid repository for the API layer.
type Repo interface {
	Upsert(ctx context.Context, doc memory.Document) (memory.Document, error)
	GetByID(ctx context.Context, id string) (memory.Document, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, topK int) ([]repository.Result, error)
}

// JobRunner abstracts the scheduler for the API layer.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
	Jobs() []scheduler.JobStatus
}

// JobHistory reads recorded job outcomes.
type JobHistory interface {
	ListJobRuns() ([]storage.JobRun, error)
}

// Deps holds dependencies for the HTTP API.
type Deps struct {
	Repo        Repo
	Jobs        JobRunner
	History     JobHistory // optional; if nil, /jobs omits last-run outcomes
	Token       string     // optional; if empty, auth is disabled
	SearchLimit int        // default result count for /search; 0 means 10
}

// NewHandler returns the HTTP handler for the memory backend. Every route
// except /health requires bearer auth when a token is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/documents", handleUpsertDocument(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Post("/jobs/{name}/run", handleRunJob(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleUpsertDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			memory.Document
			Importance *float64 `json:"importance"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		doc := req.Document
		if doc.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		// An omitted importance defaults to the middle of the range.
		doc.Importance = defaultImportance
		if req.Importance != nil {
			doc.Importance = *req.Importance
		}

		stored, err := deps.Repo.Upsert(r.Context(), doc)
		if err != nil {
			mapError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(stored)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Repo.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			mapError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			mapError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}

		limit := deps.SearchLimit
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		results, err := deps.Repo.Search(r.Context(), query, limit)
		if err != nil {
			mapError(w, err)
			return
		}
		if results == nil {
			results = []repository.Result{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

// jobView combines a job's schedule status with its last recorded outcome.
type jobView struct {
	scheduler.JobStatus
	LastRun *jobRunView `json:"last_run,omitempty"`
}

type jobRunView struct {
	StartedAt  string `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcomes := make(map[string]storage.JobRun)
		if deps.History != nil {
			runs, err := deps.History.ListJobRuns()
			if err != nil {
				mapError(w, err)
				return
			}
			for _, run := range runs {
				outcomes[run.Name] = run
			}
		}

		statuses := deps.Jobs.Jobs()
		views := make([]jobView, len(statuses))
		for i, status := range statuses {
			views[i] = jobView{JobStatus: status}
			if run, ok := outcomes[status.Name]; ok {
				views[i].LastRun = &jobRunView{
					StartedAt:  run.StartedAt.Format(time.RFC3339),
					DurationMs: run.Duration.Milliseconds(),
					Success:    run.Success,
					Error:      run.Error,
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleRunJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := deps.Jobs.RunNow(r.Context(), name); err != nil {
			mapError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"job": name, "status": "completed"})
	}
}

// mapError translates domain errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrInvalidArgument):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, memory.ErrNotFound), errors.Is(err, scheduler.ErrUnknownJob):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, memory.ErrAdapterUnavailable):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
